package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would give a professional two
	// overlapping active appointments.
	ErrConflict = errors.New("appointment interval conflict")
)

// Store is the read side plus the transaction entry point. Appointment writes
// only happen inside InTx.
type Store interface {
	GetTenant(ctx context.Context, id string) (model.Tenant, error)
	GetService(ctx context.Context, tenantID, id string) (model.Service, error)
	GetProfessional(ctx context.Context, tenantID, id string) (model.Professional, error)
	ListProfessionals(ctx context.Context, tenantID string) ([]model.Professional, error)
	GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error)
	// ListRules returns the weekly rules of a professional; an empty
	// professionalID selects the tenant-level schedule.
	ListRules(ctx context.Context, tenantID, professionalID string) ([]model.AvailabilityRule, error)

	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// ListActiveInRange returns pending/confirmed appointments of the
	// professional intersecting [from, to).
	ListActiveInRange(ctx context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error)
	ListUpcoming(ctx context.Context, tenantID, customerID string, from time.Time) ([]model.AppointmentView, error)
	// SetExternalRef records a provider-side id; an empty externalID drops it.
	SetExternalRef(ctx context.Context, appointmentID, provider, externalID string) error

	ListIntegrations(ctx context.Context, tenantID string) ([]model.Integration, error)
	SaveIntegrationTokens(ctx context.Context, in model.Integration) error

	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the write side. Implementations reject overlapping active
// appointments with ErrConflict.
type Tx interface {
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	ListActiveInRange(ctx context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error)
	InsertAppointment(ctx context.Context, a model.Appointment) error
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

// IsConflict reports an exclusion-constraint violation (SQLSTATE 23P01) or
// ErrConflict.
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
