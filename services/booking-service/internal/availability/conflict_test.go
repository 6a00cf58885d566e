package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
)

func TestOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := Interval{Start: base, End: base.Add(time.Hour)}
	cases := []struct {
		name string
		b    Interval
		want bool
	}{
		{"adjacent after", Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, false},
		{"adjacent before", Interval{Start: base.Add(-time.Hour), End: base}, false},
		{"inside", Interval{Start: base.Add(15 * time.Minute), End: base.Add(30 * time.Minute)}, true},
		{"straddles end", Interval{Start: base.Add(45 * time.Minute), End: base.Add(90 * time.Minute)}, true},
		{"covers", Interval{Start: base.Add(-time.Hour), End: base.Add(2 * time.Hour)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(a, tc.b); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := Overlaps(tc.b, a); got != tc.want {
				t.Fatalf("Overlaps is not symmetric")
			}
		})
	}
}

func TestFirstConflictIgnoresInactiveAndExcluded(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	appts := []model.Appointment{
		{ID: "cancelled", Status: model.StatusCancelled, StartTime: base, EndTime: base.Add(time.Hour)},
		{ID: "completed", Status: model.StatusCompleted, StartTime: base, EndTime: base.Add(time.Hour)},
		{ID: "self", Status: model.StatusConfirmed, StartTime: base, EndTime: base.Add(time.Hour)},
		{ID: "later", Status: model.StatusPending, StartTime: base.Add(30 * time.Minute), EndTime: base.Add(90 * time.Minute)},
	}
	candidate := Interval{Start: base, End: base.Add(time.Hour)}

	got, ok := FirstConflict(candidate, appts, "self")
	if !ok || got.ID != "later" {
		t.Fatalf("expected conflict with pending appointment, got %v %q", ok, got.ID)
	}
	if _, ok := FirstConflict(candidate, appts[:3], "self"); ok {
		t.Fatal("cancelled/completed/excluded appointments must not conflict")
	}
	if n := len(BusyIntervals(appts, "self")); n != 1 {
		t.Fatalf("expected 1 busy interval, got %d", n)
	}
}
