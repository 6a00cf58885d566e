package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonsync/libs/kafkax"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestAppointmentEventPayload(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	evt, err := AppointmentEvent(EventAppointmentRescheduled, model.Appointment{
		ID:             "new",
		TenantID:       "t1",
		ProfessionalID: "p1",
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		Status:         model.StatusConfirmed,
	}, "old", "")
	if err != nil {
		t.Fatalf("AppointmentEvent: %v", err)
	}
	if evt.AggregateID != "new" || evt.EventType != EventAppointmentRescheduled {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["start_time"] != "2026-03-02T08:00:00Z" || payload["previous_appointment_id"] != "old" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["reason"]; ok {
		t.Fatal("empty reason should be omitted")
	}
}

func TestToMessageCarriesHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	msg := toMessage(context.Background(), Record{
		EventID:     "e-1",
		AggregateID: "a-1",
		EventType:   EventAppointmentCreated,
		Payload:     []byte(`{}`),
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})
	if msg.Topic != EventAppointmentCreated || string(msg.Key) != "a-1" {
		t.Fatalf("unexpected message routing %q %q", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, "event_id") != "e-1" {
		t.Fatal("missing event_id header")
	}
	if kafkax.HeaderValue(msg.Headers, "traceparent") == "" {
		t.Fatal("trace context not propagated")
	}
}
