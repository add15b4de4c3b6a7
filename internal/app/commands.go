package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fisimaster/studybuddy/internal/reminder"
	"github.com/fisimaster/studybuddy/internal/tutor"
)

// errUsage makes Execute print the usage line of the command.
var errUsage = errors.New("usage")

const timeLayout = "02.01.2006 15:04"

// registerCommands wires the built-in commands.
func (c *Console) registerCommands() {
	hasTutor := func() bool { return c.app.Generator() != nil }
	canListen := func() bool { return c.app.alerts.CanListen() }
	canSpeak := func() bool { return c.app.alerts.CanSpeak() }

	c.Register("help", "help", "Befehle anzeigen", c.cmdHelp, nil)
	c.Register("lernfelder", "lernfelder", "Lernfelder mit Fortschritt anzeigen", c.cmdLernfelder, nil)
	c.Register("lesson", "lesson <LF>", "Lerninhalt zu einem Lernfeld erzeugen", c.cmdLesson, hasTutor)
	c.Register("quiz", "quiz <LF>", "Quiz mit fünf Fragen zu einem Lernfeld", c.cmdQuiz, hasTutor)
	c.Register("chat", "chat [LF]", "Tutor-Chat zu einem Lernfeld oder den Assistenten öffnen", c.cmdChat, hasTutor)
	c.Register("ask", "ask [Nachricht]", "Nachricht oder Entwurf an den Chat senden", c.cmdAsk, hasTutor)
	c.Register("draft", "draft [Text]", "Entwurf anzeigen oder ersetzen", c.cmdDraft, hasTutor)
	c.Register("listen", "listen", "Diktat in den Entwurf starten", c.cmdListen, func() bool { return hasTutor() && canListen() })
	c.Register("stop", "stop", "Diktat und Vorlesen beenden", c.cmdStop, nil)
	c.Register("say", "say <Text>", "Text vorlesen", c.cmdSay, canSpeak)
	c.Register("sound", "sound on|off", "Antworten im Chat vorlesen", c.cmdSound, func() bool { return hasTutor() && canSpeak() })
	c.Register("remind", "remind [HH:MM|+Minuten|TT.MM.JJJJ HH:MM] [Text]", "Erinnerung anlegen", c.cmdRemind, nil)
	c.Register("reminders", "reminders", "Anstehende Erinnerungen anzeigen", c.cmdReminders, nil)
	c.Register("delete", "delete <Nr>", "Erinnerung löschen", c.cmdDelete, nil)
	c.Register("dismiss", "dismiss", "Angezeigte Erinnerung schließen", c.cmdDismiss, nil)
	c.Register("progress", "progress", "Lernfortschritt anzeigen", c.cmdProgress, nil)
	c.Register("reset", "reset", "Lernfortschritt zurücksetzen", c.cmdReset, nil)
	c.Register("quit", "quit", "Beenden", func(context.Context, string) error { return errQuit }, nil)
}

func (c *Console) cmdHelp(context.Context, string) error {
	for _, name := range c.visibleCommands() {
		cmd := c.commands[name]
		c.printf("  %-48s %s\n", cmd.usage, cmd.summary)
	}
	return nil
}

func (c *Console) cmdLernfelder(context.Context, string) error {
	for _, lf := range tutor.Lernfelder {
		c.printf("  LF%-2d %3d%%  %s (%d. Jahr)\n", lf.ID, c.app.Progress().Get(lf.ID).Percent(), lf.Title, lf.Year)
	}
	return nil
}

func (c *Console) cmdLesson(ctx context.Context, args string) error {
	lf, err := parseLernfeld(args)
	if err != nil {
		return err
	}
	c.printf("Erzeuge Lerninhalt zu %s ...\n", lf.Label())
	l, err := c.app.Generator().Lesson(ctx, lf)
	if err != nil {
		return err
	}
	c.app.Progress().MarkContentSeen(ctx, lf.ID)

	c.printf("\n%s\n\n", l.Summary)
	c.printf("Schlüsselbegriffe:\n")
	for _, k := range l.KeyConcepts {
		c.printf("  - %s\n", k)
	}
	c.printf("\nPraxisaufgabe: %s\n", l.PracticeTask)
	return nil
}

func (c *Console) cmdQuiz(ctx context.Context, args string) error {
	lf, err := parseLernfeld(args)
	if err != nil {
		return err
	}
	c.printf("Erzeuge Quiz zu %s ...\n", lf.Label())
	qs, err := c.app.Generator().Quiz(ctx, lf)
	if err != nil {
		return err
	}

	score := 0
	for i, q := range qs {
		c.printf("\nFrage %d/%d: %s\n", i+1, len(qs), q.Question)
		for j, o := range q.Options {
			c.printf("  %d) %s\n", j+1, o)
		}
		c.printf("Antwort: ")
		line, ok := c.readLine(ctx)
		if !ok {
			return ctx.Err()
		}
		answer, err := strconv.Atoi(strings.TrimSpace(line))
		switch {
		case err != nil || answer < 1 || answer > len(q.Options):
			c.printf("Übersprungen. Richtig: %d) %s\n", q.CorrectIndex+1, q.Options[q.CorrectIndex])
		case answer-1 == q.CorrectIndex:
			score++
			c.printf("Richtig!\n")
		default:
			c.printf("Leider falsch. Richtig: %d) %s\n", q.CorrectIndex+1, q.Options[q.CorrectIndex])
		}
		if q.Explanation != "" {
			c.printf("%s\n", q.Explanation)
		}
	}

	c.app.Progress().MarkQuizDone(ctx, lf.ID)
	c.printf("\nErgebnis: %d von %d richtig.\n", score, len(qs))
	return nil
}

func (c *Console) cmdChat(_ context.Context, args string) error {
	var lf *tutor.Lernfeld
	if args != "" {
		found, err := parseLernfeld(args)
		if err != nil {
			return err
		}
		lf = &found
	}
	conv, err := c.app.Sessions().Start(lf)
	if err != nil {
		return err
	}
	msgs := conv.Messages()
	c.printf("[%s] %s\n", c.app.Sessions().Info().Topic(), msgs[len(msgs)-1].Text)
	return nil
}

func (c *Console) cmdAsk(ctx context.Context, args string) error {
	conv, err := c.app.Sessions().Current()
	if err != nil {
		return err
	}
	msg, err := conv.Send(ctx, args)
	if errors.Is(err, tutor.ErrEmptyMessage) {
		return errUsage
	}
	if msg.Text != "" {
		c.printf("%s\n", msg.Text)
	}
	return err
}

func (c *Console) cmdDraft(_ context.Context, args string) error {
	conv, err := c.app.Sessions().Current()
	if err != nil {
		return err
	}
	if args != "" {
		conv.SetDraft(args)
	}
	c.printf("Entwurf: %s\n", conv.Draft())
	return nil
}

func (c *Console) cmdListen(ctx context.Context, _ string) error {
	conv, err := c.app.Sessions().Current()
	if err != nil {
		return err
	}
	err = conv.Dictate(ctx, func(display string) {
		c.printf("\r🎤 %s\n", display)
	})
	if err != nil {
		return err
	}
	c.printf("Diktat läuft. \"stop\" beendet, \"ask\" sendet den Entwurf.\n")
	return nil
}

func (c *Console) cmdStop(context.Context, string) error {
	if conv := c.app.Sessions().Conversation(); conv != nil {
		conv.StopDictation()
	}
	if v := c.app.Sessions().Voice(); v != nil {
		v.StopSpeaking()
	}
	c.app.alerts.StopSpeaking()
	return nil
}

func (c *Console) cmdSay(ctx context.Context, args string) error {
	if args == "" {
		return errUsage
	}
	v := c.app.Sessions().Voice()
	if v == nil {
		v = c.app.alerts
	}
	v.Speak(ctx, args)
	return nil
}

func (c *Console) cmdSound(_ context.Context, args string) error {
	conv, err := c.app.Sessions().Current()
	if err != nil {
		return err
	}
	switch strings.ToLower(args) {
	case "on", "an":
		conv.SetSound(true)
	case "off", "aus":
		conv.SetSound(false)
	case "":
		conv.SetSound(!conv.SoundOn())
	default:
		return errUsage
	}
	state := "aus"
	if conv.SoundOn() {
		state = "an"
	}
	c.printf("Vorlesen %s.\n", state)
	return nil
}

func (c *Console) cmdRemind(ctx context.Context, args string) error {
	now := c.app.Now()
	target, text := parseWhen(args, now)
	if strings.TrimSpace(text) == "" {
		if lf := c.app.Sessions().Info().Lernfeld; lf != nil {
			text = reminder.DefaultText(lf.ID, lf.Title)
		}
	}
	r, err := c.app.Reminders().Add(ctx, text, target)
	if errors.Is(err, reminder.ErrEmptyText) {
		return errUsage
	}
	if err != nil {
		return err
	}
	c.printf("Erinnerung für %s: %s\n", r.Target().Format(timeLayout), r.Text)
	return nil
}

func (c *Console) cmdReminders(context.Context, string) error {
	upcoming := c.app.Reminders().Upcoming(c.app.Now())
	ids := make([]string, len(upcoming))
	for i, r := range upcoming {
		ids[i] = r.ID
	}
	c.listedMu.Lock()
	c.listed = ids
	c.listedMu.Unlock()

	if len(upcoming) == 0 {
		c.printf("Keine anstehenden Erinnerungen.\n")
		return nil
	}
	for i, r := range upcoming {
		c.printf("  %d) %s  %s\n", i+1, r.Target().Format(timeLayout), r.Text)
	}
	return nil
}

func (c *Console) cmdDelete(ctx context.Context, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil {
		return errUsage
	}
	c.listedMu.Lock()
	listed := c.listed
	c.listedMu.Unlock()
	if n < 1 || n > len(listed) {
		return fmt.Errorf("keine Erinnerung Nr. %d, \"reminders\" zeigt die Liste", n)
	}
	if err := c.app.Reminders().Remove(ctx, listed[n-1]); err != nil {
		return err
	}
	c.printf("Erinnerung gelöscht.\n")
	return nil
}

func (c *Console) cmdDismiss(context.Context, string) error {
	if !c.app.Notifier().Dismiss() {
		c.printf("Keine Erinnerung angezeigt.\n")
	}
	return nil
}

func (c *Console) cmdProgress(context.Context, string) error {
	all := c.app.Progress().All()
	if len(all) == 0 {
		c.printf("Noch kein Fortschritt.\n")
		return nil
	}
	for _, lf := range tutor.Lernfelder {
		e, ok := all[lf.ID]
		if !ok {
			continue
		}
		c.printf("  LF%-2d %3d%%  Inhalt %s  Quiz %s  Chat %s\n", lf.ID, e.Percent(), check(e.ContentSeen), check(e.QuizDone), check(e.ChatStarted))
	}
	return nil
}

func (c *Console) cmdReset(ctx context.Context, _ string) error {
	c.app.Progress().Reset(ctx)
	c.printf("Fortschritt zurückgesetzt.\n")
	return nil
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return "·"
}

// parseLernfeld accepts "5" or "LF5".
func parseLernfeld(arg string) (tutor.Lernfeld, error) {
	arg = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(arg)), "LF")
	if arg == "" {
		return tutor.Lernfeld{}, errUsage
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return tutor.Lernfeld{}, errUsage
	}
	lf, ok := tutor.Find(n)
	if !ok {
		return tutor.Lernfeld{}, fmt.Errorf("kein Lernfeld %d (1 bis %d)", n, len(tutor.Lernfelder))
	}
	return lf, nil
}

// parseWhen splits an optional leading time from the reminder text. It
// accepts "+<minutes>", "HH:MM" (the next such time) and "DD.MM.YYYY HH:MM".
// Without a time the target is [reminder.DefaultTarget].
func parseWhen(args string, now time.Time) (time.Time, string) {
	first, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	if m, ok := strings.CutPrefix(first, "+"); ok {
		if n, err := strconv.Atoi(m); err == nil && n >= 0 {
			return now.Add(time.Duration(n) * time.Minute).Truncate(time.Minute), rest
		}
	}
	if t, err := time.ParseInLocation("15:04", first, now.Location()); err == nil {
		target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if target.Before(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target, rest
	}
	second, tail, _ := strings.Cut(rest, " ")
	if t, err := time.ParseInLocation(timeLayout, first+" "+second, now.Location()); err == nil {
		return t, strings.TrimSpace(tail)
	}
	return reminder.DefaultTarget(now), strings.TrimSpace(args)
}
