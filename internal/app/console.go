package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/fisimaster/studybuddy/internal/reminder"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// HandlerFunc handles one console command. args is the rest of the line,
// trimmed.
type HandlerFunc func(ctx context.Context, args string) error

// commandEntry is one registered console command.
type commandEntry struct {
	usage   string
	summary string
	handler HandlerFunc

	// available hides the command when it returns false. Nil means always.
	available func() bool
}

// Console is the line-oriented front end of the app. It reads one command
// per line and writes replies and reminder notifications to out. Writes are
// serialised, so notifications from the scheduler never interleave with a
// reply.
type Console struct {
	app *App
	out io.Writer

	outMu sync.Mutex

	lines     chan string
	startOnce sync.Once
	in        io.Reader

	commands map[string]*commandEntry
	order    []string

	// listed is the reminder order of the last "reminders" output, used to
	// resolve numbers given to "delete".
	listedMu sync.Mutex
	listed   []string
}

// NewConsole creates a Console for a reading from in and writing to out.
// It installs itself as the notification view of a.
func NewConsole(a *App, in io.Reader, out io.Writer) *Console {
	c := &Console{
		app:      a,
		in:       in,
		out:      out,
		lines:    make(chan string),
		commands: make(map[string]*commandEntry),
	}
	c.registerCommands()
	a.OnNotification(c.showReminder, c.hideReminder)
	return c
}

// Register adds a command. Subsequent calls with the same name overwrite
// the previous registration.
func (c *Console) Register(name, usage, summary string, h HandlerFunc, available func() bool) {
	if _, ok := c.commands[name]; !ok {
		c.order = append(c.order, name)
	}
	c.commands[name] = &commandEntry{usage: usage, summary: summary, handler: h, available: available}
}

// Run prints the greeting and executes commands until quit, end of input or
// ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	c.printf("studybuddy: Lernbegleiter für Fachinformatiker Systemintegration.\n")
	c.printf("\"help\" zeigt alle Befehle.\n")

	for {
		c.printf("> ")
		line, ok := c.readLine(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
		if err := c.Execute(ctx, line); errors.Is(err, errQuit) {
			return nil
		}
	}
}

// Execute runs a single command line. Errors are reported to the user and
// returned.
func (c *Console) Execute(ctx context.Context, line string) error {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "" {
		return nil
	}
	name = strings.ToLower(name)

	cmd, ok := c.commands[name]
	if !ok || (cmd.available != nil && !cmd.available()) {
		c.printf("Unbekannter Befehl %q. \"help\" zeigt alle Befehle.\n", name)
		return fmt.Errorf("unknown command %q", name)
	}

	err := cmd.handler(ctx, strings.TrimSpace(args))
	switch {
	case err == nil, errors.Is(err, errQuit):
	case errors.Is(err, errUsage):
		c.printf("Verwendung: %s\n", cmd.usage)
	default:
		slog.Debug("console command failed", "command", name, "err", err)
		c.printf("Fehler: %v\n", err)
	}
	return err
}

// readLine returns the next input line. ok is false at end of input or when
// ctx is done.
func (c *Console) readLine(ctx context.Context) (string, bool) {
	c.startOnce.Do(func() { go c.scan() })
	select {
	case line, ok := <-c.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// scan feeds input lines to readLine until end of input.
func (c *Console) scan() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		slog.Warn("console input failed", "err", err)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) showReminder(r reminder.Reminder) {
	c.printf("\n🔔 Erinnerung: %s (\"dismiss\" schließt)\n", r.Text)
}

func (c *Console) hideReminder() {
	c.printf("Erinnerung geschlossen.\n")
}

// visibleCommands returns the names of the available commands in
// registration order.
func (c *Console) visibleCommands() []string {
	return slices.DeleteFunc(slices.Clone(c.order), func(name string) bool {
		cmd := c.commands[name]
		return cmd.available != nil && !cmd.available()
	})
}
