package availability

import (
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
)

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps is the single overlap rule: a.Start < b.End && a.End > b.Start.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

func overlapsAny(iv Interval, others []Interval) bool {
	for _, o := range others {
		if Overlaps(iv, o) {
			return true
		}
	}
	return false
}

// FirstConflict returns the earliest active appointment in appts that overlaps
// candidate, ignoring excludeID. Cancelled and completed appointments never
// conflict.
func FirstConflict(candidate Interval, appts []model.Appointment, excludeID string) (model.Appointment, bool) {
	var found model.Appointment
	ok := false
	for _, a := range appts {
		if a.ID == excludeID || !a.Status.Active() {
			continue
		}
		if !Overlaps(candidate, Interval{Start: a.StartTime, End: a.EndTime}) {
			continue
		}
		if !ok || a.StartTime.Before(found.StartTime) {
			found = a
			ok = true
		}
	}
	return found, ok
}

// BusyIntervals converts the active appointments in appts to intervals.
func BusyIntervals(appts []model.Appointment, excludeID string) []Interval {
	out := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if a.ID == excludeID || !a.Status.Active() {
			continue
		}
		out = append(out, Interval{Start: a.StartTime, End: a.EndTime})
	}
	return out
}
