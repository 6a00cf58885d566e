package integrations

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

const (
	ProviderGoogle   = "google"
	ProviderCalendly = "calendly"
)

// Credentials is what an adapter needs to act for one tenant.
type Credentials struct {
	AccessToken  string
	CalendarID   string
	AccountLabel string
}

// Payload describes the appointment being mirrored.
type Payload struct {
	Appointment      model.Appointment
	ServiceName      string
	ProfessionalName string
	CustomerName     string
	CustomerEmail    string
	Location         *time.Location
}

// SyncAdapter mirrors appointments into one external provider. Update may
// return a different external id when the provider cannot edit in place.
type SyncAdapter interface {
	Provider() string
	Create(ctx context.Context, creds Credentials, p Payload) (string, error)
	Update(ctx context.Context, creds Credentials, p Payload, externalID string) (string, error)
	Delete(ctx context.Context, creds Credentials, externalID string) error
}

// BusyReader is implemented by adapters that can report provider-side busy time.
type BusyReader interface {
	Busy(ctx context.Context, creds Credentials, from, to time.Time) ([]availability.Interval, error)
}

// Result is the advisory outcome of one provider call.
type Result struct {
	Provider string
	Success  bool
	Err      error
}

// NoopAdapter stands in for inactive integrations and unknown providers.
type NoopAdapter struct {
	Name string
}

func (n NoopAdapter) Provider() string { return n.Name }

func (NoopAdapter) Create(context.Context, Credentials, Payload) (string, error) { return "", nil }

func (NoopAdapter) Update(_ context.Context, _ Credentials, _ Payload, externalID string) (string, error) {
	return externalID, nil
}

func (NoopAdapter) Delete(context.Context, Credentials, string) error { return nil }
