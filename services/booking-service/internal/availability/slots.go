package availability

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/timeutil"
)

// SlotStep is the fixed walk between candidate starts.
const SlotStep = 15 * time.Minute

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the blocked intervals and does not start before now.
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, blocked []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(Interval{Start: t, End: t.Add(duration)}, blocked) {
			slots = append(slots, t)
		}
	}
	return slots
}

// DayWindows splits the rules for day's weekday into work intervals and breaks,
// anchored on day (local midnight).
func DayWindows(day time.Time, rules []model.AvailabilityRule) (work, breaks []Interval) {
	for _, r := range rules {
		if r.Weekday != day.Weekday() || r.EndMinute <= r.StartMinute {
			continue
		}
		iv := Interval{Start: timeutil.AtMinute(day, r.StartMinute), End: timeutil.AtMinute(day, r.EndMinute)}
		if r.IsBreak {
			breaks = append(breaks, iv)
		} else {
			work = append(work, iv)
		}
	}
	return work, breaks
}

// GenerateSlots walks every work interval of day in SlotStep increments and
// keeps the starts whose [t, t+duration) window avoids breaks and busy
// intervals. The result is sorted and free of duplicates.
func GenerateSlots(day time.Time, rules []model.AvailabilityRule, duration time.Duration, busy []Interval, now time.Time) []time.Time {
	work, breaks := DayWindows(day, rules)
	if len(work) == 0 {
		return nil
	}
	blocked := make([]Interval, 0, len(breaks)+len(busy))
	blocked = append(blocked, breaks...)
	blocked = append(blocked, busy...)

	seen := make(map[int64]struct{})
	var out []time.Time
	for _, w := range work {
		for _, s := range AvailableSlots(w.Start, w.End, duration, SlotStep, blocked, now) {
			key := s.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// MatchSlot returns the slot within tolerance of t, if any.
func MatchSlot(slots []time.Time, t time.Time, tolerance time.Duration) (time.Time, bool) {
	for _, s := range slots {
		d := s.Sub(t)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return s, true
		}
	}
	return time.Time{}, false
}

// WorkingDays lists the weekdays that have at least one non-break rule, in
// calendar order starting Sunday.
func WorkingDays(rules []model.AvailabilityRule) []time.Weekday {
	var has [7]bool
	for _, r := range rules {
		if !r.IsBreak && r.EndMinute > r.StartMinute {
			has[r.Weekday] = true
		}
	}
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if has[d] {
			out = append(out, d)
		}
	}
	return out
}

// BreaksContained reports whether every break lies inside some non-break
// interval of the same weekday and owner.
func BreaksContained(rules []model.AvailabilityRule) bool {
	for _, b := range rules {
		if !b.IsBreak {
			continue
		}
		inside := false
		for _, w := range rules {
			if w.IsBreak || w.Weekday != b.Weekday || w.ProfessionalID != b.ProfessionalID {
				continue
			}
			if w.StartMinute <= b.StartMinute && b.EndMinute <= w.EndMinute {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}
