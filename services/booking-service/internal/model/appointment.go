package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Active statuses participate in conflict checks.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Appointment struct {
	ID             string
	TenantID       string
	CustomerID     string
	ProfessionalID string
	ServiceID      string
	StartTime      time.Time
	EndTime        time.Time
	Status         Status
	Notes          string
	// ExternalRefs maps provider name to the provider-side event id.
	ExternalRefs map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Appointment) Clone() Appointment {
	out := a
	if a.ExternalRefs != nil {
		out.ExternalRefs = make(map[string]string, len(a.ExternalRefs))
		for k, v := range a.ExternalRefs {
			out.ExternalRefs[k] = v
		}
	}
	return out
}

// AppointmentView is an appointment joined with display names for listings.
type AppointmentView struct {
	Appointment
	ServiceName      string
	ProfessionalName string
}
