package tutor

import "fmt"

func lessonPrompt(lf Lernfeld) string {
	return fmt.Sprintf(`Du bist ein Experte für die Ausbildung zum Fachinformatiker Systemintegration (Deutschland).
Erstelle detaillierte Lerninhalte für das Lernfeld %d: "%s".

Inhaltlicher Fokus: %s

Antworte ausschließlich mit einem JSON-Objekt mit folgenden Feldern:
- summary: Eine ausführliche, gut strukturierte Zusammenfassung der wichtigsten Themen (Markdown erlaubt).
- keyConcepts: Ein Array von 5-7 Schlüsselbegriffen, die man kennen muss.
- practiceTask: Eine konkrete, praxisnahe Übungsaufgabe für Auszubildende.`,
		lf.ID, lf.Title, lf.Description)
}

func quizPrompt(lf Lernfeld) string {
	return fmt.Sprintf(`Erstelle %d Multiple-Choice-Fragen für Fachinformatiker Systemintegration zum Thema Lernfeld %d: "%s".
Niveau: Prüfungsrelevant (IHK).

Antworte ausschließlich mit einem JSON-Array. Jedes Element hat die Felder
question (Text), options (genau 4 Antwortmöglichkeiten), correctIndex (0-3)
und explanation (kurze Begründung der richtigen Antwort).`,
		quizSize, lf.ID, lf.Title)
}

func tutorInstruction(lf Lernfeld) string {
	return fmt.Sprintf(`Du bist ein geduldiger und fachkundiger IT-Ausbilder für Fachinformatiker Systemintegration.
Der Schüler lernt gerade Lernfeld %d: "%s".
Antworte präzise, technisch korrekt, aber verständlich.
Verwende Beispiele aus der IT-Praxis (Netzwerktechnik, Serveradministration, Coding).
Halte dich kurz, es sei denn, der Nutzer bittet um Details.`,
		lf.ID, lf.Title)
}

const assistantInstruction = `Du bist ein universeller KI-Assistent für Auszubildende zum Fachinformatiker Systemintegration.
Du hilfst bei allgemeinen Fragen zur IT, Netzwerktechnik, Cloud, Sicherheit, Hardware und IHK-Prüfungsvorbereitung.
Deine Antworten sind fundiert, professionell und motivierend.
Nutze Markdown für Struktur.`

// Greeting is the tutor's opening line for lf.
func Greeting(lf Lernfeld) string {
	return fmt.Sprintf("Hallo! Ich bin dein KI-Tutor für Lernfeld %d. Hast du Fragen zu %q?", lf.ID, lf.Title)
}

// AssistantGreeting is the general assistant's opening line.
const AssistantGreeting = "Hallo! Ich bin dein FISI-Assistent. Frag mich alles zur IT-Systemintegration!"

const (
	tutorApology     = "Entschuldigung, ich habe gerade Verbindungsprobleme."
	assistantApology = "Ein Fehler ist aufgetreten. Bitte versuche es gleich nochmal."
)
