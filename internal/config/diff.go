package config

import "reflect"

// ConfigDiff describes what changed between two configs. Log level and
// reminder presentation apply at once; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RemindersChanged is set when the chime or speak settings changed.
	RemindersChanged bool
	NewReminders     RemindersConfig

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RemindersChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	or, nr := old.Reminders, new.Reminders
	if or.ChimeEnabled() != nr.ChimeEnabled() || or.ChimeVolume != nr.ChimeVolume || or.Speak != nr.Speak {
		d.RemindersChanged = true
		d.NewReminders = nr
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if or.CheckInterval != nr.CheckInterval {
		d.RestartRequired = append(d.RestartRequired, "reminders.check_interval")
	}
	if old.Voice != new.Voice {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}
	return d
}
