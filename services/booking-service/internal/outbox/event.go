package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentCreated     = "booking.appointment.created.v1"
	EventAppointmentUpdated     = "booking.appointment.updated.v1"
	EventAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "booking.appointment.cancelled.v1"
	EventAppointmentCompleted   = "booking.appointment.completed.v1"
)

type appointmentPayload struct {
	AppointmentID  string `json:"appointment_id"`
	TenantID       string `json:"tenant_id"`
	CustomerID     string `json:"customer_id"`
	ProfessionalID string `json:"professional_id"`
	ServiceID      string `json:"service_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Status         string `json:"status"`
	PreviousID     string `json:"previous_appointment_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// AppointmentEvent builds the envelope for a lifecycle change of a. previousID
// links a rescheduled appointment to the one it replaced.
func AppointmentEvent(eventType string, a model.Appointment, previousID, reason string) (Event, error) {
	payload, err := json.Marshal(appointmentPayload{
		AppointmentID:  a.ID,
		TenantID:       a.TenantID,
		CustomerID:     a.CustomerID,
		ProfessionalID: a.ProfessionalID,
		ServiceID:      a.ServiceID,
		StartTime:      a.StartTime.UTC().Format(time.RFC3339),
		EndTime:        a.EndTime.UTC().Format(time.RFC3339),
		Status:         string(a.Status),
		PreviousID:     previousID,
		Reason:         reason,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
