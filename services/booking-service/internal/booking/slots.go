package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/timeutil"
	"go.opentelemetry.io/otel/attribute"
)

type AvailabilityQuery struct {
	TenantID        string
	ProfessionalID  string
	Date            string
	ServiceID       string
	DurationMinutes int
	// MaxResults truncates Slots; 0 returns all.
	MaxResults int
}

type AvailabilityResult struct {
	ProfessionalID string
	Date           string
	Slots          []time.Time
	// TotalAvailable counts slots before truncation.
	TotalAvailable int
	Duration       time.Duration
	Message        string
}

// CheckAvailability lists free start times for one professional on one
// tenant-local day.
func (e *Engine) CheckAvailability(ctx context.Context, q AvailabilityQuery) (res AvailabilityResult, err error) {
	ctx, span := e.startSpan(ctx, "CheckAvailability",
		attribute.String("tenant_id", q.TenantID),
		attribute.String("professional_id", q.ProfessionalID),
	)
	defer func() { finishSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	tenant, err := e.tenant(ctx, q.TenantID)
	if err != nil {
		return res, err
	}
	loc := tenant.Location()

	day, perr := timeutil.ParseDate(q.Date, loc)
	if perr != nil {
		return res, newError(CodeInvalidDate, "cannot read date %q", q.Date).
			WithSuggestion("use YYYY-MM-DD or an ISO-8601 timestamp")
	}
	if day.Before(timeutil.StartOfDay(e.now(), loc)) {
		return res, newError(CodePastDate, "%s is in the past", day.Format(timeutil.DateLayout)).
			WithSuggestion("pick today or a later date")
	}

	duration, err := e.resolveDuration(ctx, tenant.ID, q.ServiceID, q.DurationMinutes)
	if err != nil {
		return res, err
	}
	prof, err := e.professional(ctx, tenant.ID, q.ProfessionalID)
	if err != nil {
		return res, err
	}

	slots, err := e.daySlots(ctx, tenant, prof.ID, day, duration, "")
	if err != nil {
		return res, err
	}

	res = AvailabilityResult{
		ProfessionalID: prof.ID,
		Date:           day.Format(timeutil.DateLayout),
		TotalAvailable: len(slots),
		Duration:       duration,
	}
	if q.MaxResults > 0 && len(slots) > q.MaxResults {
		slots = slots[:q.MaxResults]
	}
	res.Slots = slots
	res.Message = availabilityMessage(day, len(slots), res.TotalAvailable)
	return res, nil
}

func availabilityMessage(day time.Time, shown, total int) string {
	label := day.Format("Monday, January 2")
	switch {
	case total == 0:
		return "No available slots on " + label
	case shown < total:
		return fmt.Sprintf("Showing %d of %d available slots on %s", shown, total, label)
	case total == 1:
		return "1 slot available on " + label
	default:
		return fmt.Sprintf("%d slots available on %s", total, label)
	}
}

// resolveDuration prefers the service's duration, then an explicit minute
// count, then DefaultDuration.
func (e *Engine) resolveDuration(ctx context.Context, tenantID, serviceID string, minutes int) (time.Duration, error) {
	if serviceID != "" {
		s, err := e.service(ctx, tenantID, serviceID)
		if err != nil {
			return 0, err
		}
		return s.Duration(), nil
	}
	switch {
	case minutes < 0 || minutes > maxDurationMinutes:
		return 0, validation("duration_minutes must be between 1 and %d", maxDurationMinutes)
	case minutes > 0:
		return time.Duration(minutes) * time.Minute, nil
	default:
		return DefaultDuration, nil
	}
}

// rules returns the professional's weekly rules, falling back to the tenant
// schedule for solo-practitioner tenants.
func (e *Engine) rules(ctx context.Context, tenant model.Tenant, professionalID string) ([]model.AvailabilityRule, error) {
	rules, err := e.store.ListRules(ctx, tenant.ID, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	if len(rules) == 0 && tenant.IsSolo {
		rules, err = e.store.ListRules(ctx, tenant.ID, "")
		if err != nil {
			return nil, fmt.Errorf("load tenant availability rules: %w", err)
		}
	}
	return rules, nil
}

// daySlots computes the free starts of one local day. excludeID removes an
// appointment from the busy set (the one being rescheduled).
func (e *Engine) daySlots(ctx context.Context, tenant model.Tenant, professionalID string, day time.Time, duration time.Duration, excludeID string) ([]time.Time, error) {
	rules, err := e.rules(ctx, tenant, professionalID)
	if err != nil {
		return nil, err
	}
	if work, _ := availability.DayWindows(day, rules); len(work) == 0 {
		return nil, notWorkingDay(day, rules)
	}

	from, to := day, day.AddDate(0, 0, 1)
	appts, err := e.store.ListActiveInRange(ctx, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	busy := availability.BusyIntervals(appts, excludeID)

	if tenant.IsSolo {
		external, err := e.sync.ExternalBusy(ctx, tenant.ID, from, to)
		if err != nil {
			e.logger.Warn("external busy lookup failed", "tenant_id", tenant.ID, "err", err)
		}
		busy = append(busy, withoutMirrors(external, appts)...)
	}
	return availability.GenerateSlots(day, rules, duration, busy, e.now()), nil
}

// withoutMirrors drops external busy blocks that are our own appointments
// mirrored into the provider.
func withoutMirrors(external []availability.Interval, local []model.Appointment) []availability.Interval {
	if len(external) == 0 {
		return nil
	}
	out := make([]availability.Interval, 0, len(external))
	for _, iv := range external {
		mirrored := false
		for _, a := range local {
			if iv.Start.Equal(a.StartTime) && iv.End.Equal(a.EndTime) {
				mirrored = true
				break
			}
		}
		if !mirrored {
			out = append(out, iv)
		}
	}
	return out
}

func notWorkingDay(day time.Time, rules []model.AvailabilityRule) *Error {
	days := availability.WorkingDays(rules)
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, d.String())
	}
	err := newError(CodeNotWorkingDay, "the professional does not work on %s", day.Weekday()).
		WithDetail("working_days", names)
	if len(names) > 0 {
		err.WithSuggestion("choose one of: " + strings.Join(names, ", "))
	}
	return err
}
