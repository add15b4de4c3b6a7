package reminder

import (
	"slices"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 9, 14, 37, 42, 0, time.Local)

func at(d time.Duration) int64 { return base.Add(d).UnixMilli() }

func TestReminder_IsDue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    Reminder
		want bool
	}{
		{"future", Reminder{TargetTime: at(time.Second)}, false},
		{"exactly now", Reminder{TargetTime: at(0)}, true},
		{"past", Reminder{TargetTime: at(-time.Hour)}, true},
		{"past but seen", Reminder{TargetTime: at(-time.Hour), Seen: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.IsDue(base); got != tt.want {
				t.Errorf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDue_FirstInCollectionOrder(t *testing.T) {
	t.Parallel()

	rs := []Reminder{
		{ID: "seen", TargetTime: at(-3 * time.Hour), Seen: true},
		{ID: "later", TargetTime: at(time.Minute)},
		{ID: "b", TargetTime: at(-time.Minute)},
		{ID: "a", TargetTime: at(-time.Hour)},
	}
	got, ok := NextDue(rs, base)
	if !ok || got.ID != "b" {
		t.Errorf("NextDue = %q, %v; want b (first due by insertion)", got.ID, ok)
	}

	if _, ok := NextDue(rs[:2], base); ok {
		t.Error("NextDue found a reminder where none is due")
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()

	rs := []Reminder{
		{ID: "due", TargetTime: at(-time.Minute)},
		{ID: "two", TargetTime: at(2 * time.Hour)},
		{ID: "one-a", TargetTime: at(time.Hour)},
		{ID: "seen", TargetTime: at(time.Hour), Seen: true},
		{ID: "one-b", TargetTime: at(time.Hour)},
	}
	var ids []string
	for _, r := range Upcoming(rs, base) {
		ids = append(ids, r.ID)
	}
	if want := []string{"one-a", "one-b", "two"}; !slices.Equal(ids, want) {
		t.Errorf("Upcoming = %v, want %v", ids, want)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	if got, want := DefaultTarget(base), time.Date(2026, 3, 9, 15, 37, 0, 0, time.Local); !got.Equal(want) {
		t.Errorf("DefaultTarget = %v, want %v", got, want)
	}
	if got := DefaultText(5, "Software zur Verwaltung von Daten anpassen"); got != "Lernfeld 5: Software zur Verwaltung von Daten anpassen" {
		t.Errorf("DefaultText = %q", got)
	}
}
