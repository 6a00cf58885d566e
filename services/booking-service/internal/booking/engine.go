// Package booking is the single writer of appointment state. It computes
// availability, runs conflict checks, persists lifecycle changes together with
// their outbox events and hands external mirroring to a Syncer.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/integrations"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDuration = 30 * time.Minute
	// RescheduleTolerance is how far a requested start may sit from a free slot.
	RescheduleTolerance = time.Minute
	maxDurationMinutes  = 12 * 60
	retrySuggestion     = "retry via checkAvailability to pick a free slot"
)

// Syncer mirrors local changes into external providers. Dispatch with no
// providers targets every active integration.
type Syncer interface {
	Dispatch(ctx context.Context, op integrations.Op, appointmentID string, providers ...string)
	// Lock keeps background syncs of the appointment out until unlock.
	Lock(appointmentID string) (unlock func())
	DeleteExternal(ctx context.Context, appt model.Appointment) []integrations.Result
	ExternalBusy(ctx context.Context, tenantID string, from, to time.Time) ([]availability.Interval, error)
	ActiveProviders(ctx context.Context, tenantID string) []string
}

type noopSyncer struct{}

func (noopSyncer) Dispatch(context.Context, integrations.Op, string, ...string) {}

func (noopSyncer) Lock(string) func() { return func() {} }

func (noopSyncer) DeleteExternal(context.Context, model.Appointment) []integrations.Result {
	return nil
}

func (noopSyncer) ExternalBusy(context.Context, string, time.Time, time.Time) ([]availability.Interval, error) {
	return nil, nil
}

func (noopSyncer) ActiveProviders(context.Context, string) []string { return nil }

type Engine struct {
	store       storage.Store
	sync        Syncer
	logger      *slog.Logger
	now         func() time.Time
	readTimeout time.Duration
	tracer      trace.Tracer
}

type Option func(*Engine)

func WithSyncer(s Syncer) Option {
	return func(e *Engine) {
		if s != nil {
			e.sync = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithReadTimeout bounds availability reads; exceeding it fails the request.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.readTimeout = d
		}
	}
}

func NewEngine(store storage.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		sync:        noopSyncer{},
		logger:      logger,
		now:         time.Now,
		readTimeout: 3 * time.Second,
		tracer:      otel.Tracer("booking-service/booking"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "booking."+name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) tenant(ctx context.Context, id string) (model.Tenant, error) {
	if strings.TrimSpace(id) == "" {
		return model.Tenant{}, validation("tenant_id is required")
	}
	t, err := e.store.GetTenant(ctx, id)
	if storage.IsNotFound(err) {
		return model.Tenant{}, notFound("tenant", id)
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	if _, err := model.LoadZone(t.Timezone); err != nil {
		e.logger.Warn("tenant timezone unknown; using UTC", "tenant_id", t.ID, "err", err)
	}
	return t, nil
}

func (e *Engine) service(ctx context.Context, tenantID, id string) (model.Service, error) {
	s, err := e.store.GetService(ctx, tenantID, id)
	if storage.IsNotFound(err) {
		return model.Service{}, notFound("service", id)
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if !s.Active {
		return model.Service{}, newError(CodeServiceInactive, "service %q is not offered any more", s.Name).
			WithSuggestion("choose another service")
	}
	if s.DurationMinutes <= 0 {
		return model.Service{}, validation("service %q has no duration", s.Name)
	}
	return s, nil
}

// professional resolves id, or the tenant's only active professional when id
// is empty.
func (e *Engine) professional(ctx context.Context, tenantID, id string) (model.Professional, error) {
	if id == "" {
		all, err := e.store.ListProfessionals(ctx, tenantID)
		if err != nil {
			return model.Professional{}, fmt.Errorf("list professionals: %w", err)
		}
		var active []model.Professional
		for _, p := range all {
			if p.Active {
				active = append(active, p)
			}
		}
		switch len(active) {
		case 1:
			return active[0], nil
		case 0:
			return model.Professional{}, validation("tenant has no active professionals")
		default:
			names := make([]string, 0, len(active))
			for _, p := range active {
				names = append(names, p.Name)
			}
			return model.Professional{}, validation("professional_id is required").
				WithDetail("professionals", names)
		}
	}
	p, err := e.store.GetProfessional(ctx, tenantID, id)
	if storage.IsNotFound(err) {
		return model.Professional{}, notFound("professional", id)
	}
	if err != nil {
		return model.Professional{}, fmt.Errorf("load professional: %w", err)
	}
	if !p.Active {
		return model.Professional{}, validation("professional %q is not taking bookings", p.Name)
	}
	return p, nil
}

func (e *Engine) checkCustomer(ctx context.Context, tenantID, id string) error {
	_, err := e.store.GetCustomer(ctx, tenantID, id)
	if storage.IsNotFound(err) {
		return notFound("customer", id)
	}
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}
	return nil
}

// appointment loads id; a non-empty tenantID scopes the lookup.
func (e *Engine) appointment(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, validation("appointment_id is required")
	}
	a, err := e.store.GetAppointment(ctx, id)
	if storage.IsNotFound(err) || (err == nil && tenantID != "" && a.TenantID != tenantID) {
		return model.Appointment{}, notFound("appointment", id)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

func terminalError(a model.Appointment) *Error {
	return newError(CodeTerminalState, "appointment is already %s", a.Status).
		WithDetail("status", string(a.Status)).
		WithSuggestion("book a new appointment instead")
}

func conflictError(c model.Appointment, loc *time.Location) *Error {
	return newError(CodeConflict, "the professional is already booked from %s to %s",
		c.StartTime.In(loc).Format("15:04"), c.EndTime.In(loc).Format("15:04")).
		WithSuggestion(retrySuggestion).
		WithDetail("conflicting_appointment_id", c.ID).
		WithDetail("conflict_start", c.StartTime.In(loc).Format(time.RFC3339)).
		WithDetail("conflict_end", c.EndTime.In(loc).Format(time.RFC3339))
}

// writeError normalizes a transaction failure: business errors pass through,
// storage-level overlaps and misses become business errors, the rest is
// wrapped.
func writeError(op string, err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	if storage.IsConflict(err) {
		return newError(CodeConflict, "the requested time was just booked").WithSuggestion(retrySuggestion)
	}
	if storage.IsNotFound(err) {
		return newError(CodeNotFound, "appointment no longer exists")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func appendNote(notes, line string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func failedProviders(results []integrations.Result) []string {
	var out []string
	for _, r := range results {
		if !r.Success {
			out = append(out, r.Provider)
		}
	}
	return out
}

func succeededProviders(results []integrations.Result) []string {
	var out []string
	for _, r := range results {
		if r.Success {
			out = append(out, r.Provider)
		}
	}
	return out
}
