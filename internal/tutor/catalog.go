// Package tutor generates lessons, quizzes and tutor replies for the
// Lernfelder of the Fachinformatiker Systemintegration apprenticeship, and
// runs the chat flow that ties them to voice output and progress.
package tutor

import "fmt"

// Lernfeld is one learning field of the curriculum.
type Lernfeld struct {
	ID          int
	Title       string
	Description string
	Year        int
}

// Lernfelder is the curriculum in order.
var Lernfelder = []Lernfeld{
	{1, "Das Unternehmen und die eigene Rolle im Betrieb", "Stellung des Betriebs in der Gesamtwirtschaft, Berufsbildung, Arbeitsrecht, Tarifrecht, Arbeitsschutz.", 1},
	{2, "Arbeitsplätze nach Kundenwunsch ausstatten", "Hardware-Komponenten, Betriebssysteme, Anwendungssoftware, Ergonomie, Beschaffung.", 1},
	{3, "Clients in Netzwerke einbinden", "Netzwerktopologien, Übertragungsmedien, Protokolle (TCP/IP), Adressierung (IPv4/IPv6).", 1},
	{4, "Schutzbedarfsanalyse im eigenen Arbeitsbereich", "Datenschutz, Datensicherheit, Bedrohungen, Schutzmaßnahmen, Verschlüsselung.", 1},
	{5, "Software zur Verwaltung von Daten anpassen", "Datenbankmodelle, SQL, ER-Modelle, Datenschutz bei Datenbanken.", 1},
	{6, "Serviceanfragen bearbeiten", "Incident Management, Ticketsysteme, Kommunikationstechniken, Fehlersuche.", 2},
	{7, "Cyber-physische Systeme ergänzen", "IoT, Sensorik, Aktorik, Steuerungstechnik, Schnittstellen.", 2},
	{8, "Daten systemübergreifend bereitstellen", "Schnittstellenprogrammierung, Datenaustauschformate (JSON, XML), Scripting.", 2},
	{9, "Netzwerke und Dienste bereitstellen", "Routing, Switching, VLAN, Serverdienste (DNS, DHCP, Web, Mail), Virtualisierung.", 2},
	{10, "Serverdienste bereitstellen und administrieren", "Verzeichnisdienste (AD/LDAP), Gruppenrichtlinien, Speicherlösungen (SAN/NAS), Backup.", 3},
	{11, "Benutzerendgeräte verwalten", "MDM (Mobile Device Management), Softwareverteilung, Lizenzmanagement.", 3},
	{12, "Netzwerke und Dienste betreuen und sichern", "Monitoring, Firewalling, VPN, IDS/IPS, Netzwerkanalyse.", 3},
}

// Find returns the Lernfeld with id.
func Find(id int) (Lernfeld, bool) {
	for _, lf := range Lernfelder {
		if lf.ID == id {
			return lf, true
		}
	}
	return Lernfeld{}, false
}

// Label is the short display name, e.g. "LF5 Software zur Verwaltung von Daten anpassen".
func (lf Lernfeld) Label() string {
	return fmt.Sprintf("LF%d %s", lf.ID, lf.Title)
}
