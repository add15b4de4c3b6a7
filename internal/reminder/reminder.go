// Package reminder keeps the user's timed study reminders and delivers each
// one at most once when it falls due.
//
// [Store] owns the collection and its persistence. [Scheduler] polls the
// collection on a fixed interval and hands the first due reminder to a
// [Sink]; [Notifier] is the sink the host uses to present it.
package reminder

import (
	"fmt"
	"slices"
	"time"
)

// Reminder is one timed study reminder. The JSON shape is shared with data
// written by earlier versions of the app.
type Reminder struct {
	ID   string `json:"id"`
	Text string `json:"text"`

	// TargetTime is the due instant in Unix milliseconds.
	TargetTime int64 `json:"targetTime"`

	// Seen is set once the reminder was delivered or dismissed, and never
	// cleared again.
	Seen bool `json:"seen"`
}

// Target returns TargetTime as a [time.Time].
func (r Reminder) Target() time.Time {
	return time.UnixMilli(r.TargetTime)
}

// IsDue reports whether r is unseen and its target time is not after now.
func (r Reminder) IsDue(now time.Time) bool {
	return !r.Seen && r.TargetTime <= now.UnixMilli()
}

// NextDue returns the first due reminder in rs. Collection order decides
// between several due reminders, so the earliest-created one wins.
func NextDue(rs []Reminder, now time.Time) (Reminder, bool) {
	for _, r := range rs {
		if r.IsDue(now) {
			return r, true
		}
	}
	return Reminder{}, false
}

// Upcoming returns the unseen reminders that are not yet due, soonest first.
// Reminders with equal target times keep their collection order.
func Upcoming(rs []Reminder, now time.Time) []Reminder {
	ms := now.UnixMilli()
	var out []Reminder
	for _, r := range rs {
		if !r.Seen && r.TargetTime > ms {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Reminder) int {
		switch {
		case a.TargetTime < b.TargetTime:
			return -1
		case a.TargetTime > b.TargetTime:
			return 1
		}
		return 0
	})
	return out
}

// DefaultTarget is the target time offered for a new reminder: one hour
// from now, truncated to the minute.
func DefaultTarget(now time.Time) time.Time {
	return now.Add(time.Hour).Truncate(time.Minute)
}

// DefaultText is the label offered for a reminder about Lernfeld n.
func DefaultText(n int, title string) string {
	return fmt.Sprintf("Lernfeld %d: %s", n, title)
}
