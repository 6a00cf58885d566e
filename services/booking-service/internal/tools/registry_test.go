package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonsync/libs/httpx"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, limiter httpx.Limiter) (*Registry, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	store.PutTenant(model.Tenant{ID: "t1", Name: "Salon", Timezone: "UTC"})
	store.PutService(model.Service{ID: "cut", TenantID: "t1", Name: "Haircut", DurationMinutes: 60, Active: true})
	store.PutProfessional(model.Professional{ID: "p1", TenantID: "t1", Name: "Bo", Active: true})
	store.PutCustomer(model.Customer{ID: "c1", TenantID: "t1", Name: "Ana"})
	store.PutRules(model.AvailabilityRule{TenantID: "t1", ProfessionalID: "p1", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 18 * 60})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	engine := booking.NewEngine(store, logger, booking.WithClock(func() time.Time { return now }))
	return NewRegistry(engine, limiter, logger), store
}

func invoke(t *testing.T, r *Registry, name, args string) (any, error) {
	t.Helper()
	return r.Invoke(context.Background(), name, "t1", json.RawMessage(args))
}

func TestRegistryNames(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	assert.Equal(t, []string{
		"cancel_appointment",
		"check_availability",
		"create_appointment",
		"list_upcoming_appointments",
		"reschedule_appointment",
		"update_appointment",
	}, r.Names())
}

func TestUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	_, err := invoke(t, r, "delete_everything", `{}`)
	require.True(t, booking.IsCode(err, booking.CodeValidation))
}

func TestCheckAvailabilityOffersTwoSlots(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	out, err := invoke(t, r, "check_availability", `{"professional_id":"p1","date":"2025-03-03","service_id":"cut"}`)
	require.NoError(t, err)
	reply := out.(AvailabilityReply)
	assert.Equal(t, []string{"2025-03-03T09:00:00Z", "2025-03-03T09:15:00Z"}, reply.Slots)
	assert.Equal(t, 33, reply.TotalAvailable)
	assert.Equal(t, 60, reply.DurationMinutes)
}

func TestArgumentValidation(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	_, err := invoke(t, r, "check_availability", `{"professional_id":"p1"}`)
	be, ok := booking.AsError(err)
	require.True(t, ok)
	assert.Equal(t, booking.CodeValidation, be.Code)
	assert.Contains(t, be.Message, "date is required")

	_, err = invoke(t, r, "create_appointment", `{"customer_id":"c1","service_id":"cut","start_time":"2025-03-03T09:00:00","extra":1}`)
	assert.True(t, booking.IsCode(err, booking.CodeValidation))

	_, err = invoke(t, r, "cancel_appointment", `not json`)
	assert.True(t, booking.IsCode(err, booking.CodeValidation))

	_, err = invoke(t, r, "check_availability", `{"date":"2025-03-03","duration_minutes":5000}`)
	be, ok = booking.AsError(err)
	require.True(t, ok)
	fields := be.Details["fields"].([]FieldError)
	assert.Equal(t, "duration_minutes", fields[0].Field)
}

func TestBookingFlowThroughTools(t *testing.T) {
	r, store := newTestRegistry(t, nil)

	out, err := invoke(t, r, "create_appointment", `{"customer_id":"c1","service_id":"cut","start_time":"2025-03-03T09:00:00"}`)
	require.NoError(t, err)
	created := out.(AppointmentReply)
	assert.Equal(t, "2025-03-03T09:00:00Z", created.StartTime)

	out, err = invoke(t, r, "reschedule_appointment", `{"appointment_id":"`+created.AppointmentID+`","new_start_time":"2025-03-03T14:00:00Z"}`)
	require.NoError(t, err)
	moved := out.(AppointmentReply)
	assert.Equal(t, created.AppointmentID, moved.PreviousAppointmentID)
	assert.Equal(t, "2025-03-03T15:00:00Z", moved.EndTime)

	out, err = invoke(t, r, "list_upcoming_appointments", `{"customer_id":"c1"}`)
	require.NoError(t, err)
	upcoming := out.(UpcomingReply)
	require.Equal(t, 1, upcoming.Count)
	assert.Equal(t, "Haircut", upcoming.Appointments[0].ServiceName)

	out, err = invoke(t, r, "cancel_appointment", `{"appointment_id":"`+moved.AppointmentID+`","reason":"travel"}`)
	require.NoError(t, err)
	assert.True(t, out.(CancelReply).Cancelled)

	stored, err := store.GetAppointment(context.Background(), moved.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
}

func TestCreateIsRateLimitedPerCustomer(t *testing.T) {
	r, store := newTestRegistry(t, httpx.NewRateLimiter(1, time.Minute))
	store.PutCustomer(model.Customer{ID: "c2", TenantID: "t1", Name: "Eli"})

	_, err := invoke(t, r, "create_appointment", `{"customer_id":"c1","service_id":"cut","start_time":"2025-03-03T09:00:00"}`)
	require.NoError(t, err)

	_, err = invoke(t, r, "create_appointment", `{"customer_id":"c1","service_id":"cut","start_time":"2025-03-03T11:00:00"}`)
	assert.True(t, booking.IsCode(err, booking.CodeRateLimited))

	_, err = invoke(t, r, "create_appointment", `{"customer_id":"c2","service_id":"cut","start_time":"2025-03-03T11:00:00"}`)
	require.NoError(t, err)
}
