package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonsync/libs/auth"
	"github.com/md-rashed-zaman/salonsync/libs/httpx"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (http.Handler, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	for _, tenant := range []string{"t1", "t2"} {
		store.PutTenant(model.Tenant{ID: tenant, Name: "Salon " + tenant, Timezone: "UTC"})
	}
	store.PutService(model.Service{ID: "cut", TenantID: "t1", Name: "Haircut", DurationMinutes: 60, Active: true})
	store.PutProfessional(model.Professional{ID: "p1", TenantID: "t1", Name: "Bo", Active: true})
	store.PutCustomer(model.Customer{ID: "c1", TenantID: "t1", Name: "Ana"})
	store.PutRules(model.AvailabilityRule{TenantID: "t1", ProfessionalID: "p1", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 18 * 60})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	engine := booking.NewEngine(store, logger, booking.WithClock(func() time.Time { return now }))
	limiter := httpx.NewRateLimiter(5, time.Minute)
	h := NewBookingHandler(engine, tools.NewRegistry(engine, limiter, logger), limiter, logger)
	return h.Routes(), store
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestAvailabilityEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	code, body := do(t, h, http.MethodGet, "/api/v1/tenants/t1/availability?professional_id=p1&date=2025-03-03&service_id=cut&limit=3", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"2025-03-03T09:00:00Z", "2025-03-03T09:15:00Z", "2025-03-03T09:30:00Z"}, body["slots"])
	assert.EqualValues(t, 33, body["total_available"])

	code, body = do(t, h, http.MethodGet, "/api/v1/tenants/t1/availability?professional_id=p1&date=2025-03-04", "")
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "PROFESSIONAL_NOT_AVAILABLE_THIS_DAY", body["error_code"])
	assert.Equal(t, []any{"Monday"}, body["details"].(map[string]any)["working_days"])

	code, body = do(t, h, http.MethodGet, "/api/v1/tenants/t1/availability?professional_id=p1&date=2025-03-03&limit=x", "")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["error_code"])

	code, body = do(t, h, http.MethodGet, "/api/v1/tenants/t1/availability?professional_id=p1&date=yesterday", "")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_DATE", body["error_code"])
}

func TestAppointmentLifecycleEndpoints(t *testing.T) {
	h, store := newTestHandler(t)

	code, body := do(t, h, http.MethodPost, "/api/v1/tenants/t1/appointments",
		`{"professional_id":"p1","customer_id":"c1","service_id":"cut","start_time":"2025-03-03T09:00:00"}`)
	require.Equal(t, http.StatusCreated, code)
	id := body["appointment_id"].(string)
	require.NotEmpty(t, id)

	code, body = do(t, h, http.MethodPost, "/api/v1/tenants/t1/appointments",
		`{"professional_id":"p1","customer_id":"c1","service_id":"cut","start_time":"2025-03-03T09:30:00"}`)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "APPOINTMENT_CONFLICT", body["error_code"])
	assert.NotEmpty(t, body["suggestion"])

	code, body = do(t, h, http.MethodPatch, "/api/v1/appointments/"+id, `{"notes":"window seat"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["appointment_id"])

	code, body = do(t, h, http.MethodPost, "/api/v1/appointments/"+id+"/reschedule", `{"new_start_time":"2025-03-03T13:00:00Z"}`)
	require.Equal(t, http.StatusOK, code)
	newID := body["appointment_id"].(string)
	assert.Equal(t, id, body["previous_appointment_id"])

	code, body = do(t, h, http.MethodGet, "/api/v1/tenants/t1/customers/c1/appointments", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	code, body = do(t, h, http.MethodPost, "/api/v1/appointments/"+newID+"/cancel", `{"reason":"ill"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["cancelled"])
	assert.Equal(t, false, body["already_cancelled"])

	code, body = do(t, h, http.MethodPost, "/api/v1/appointments/"+newID+"/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["already_cancelled"])

	code, body = do(t, h, http.MethodPost, "/api/v1/appointments/"+newID+"/complete", "")
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TERMINAL_STATE", body["error_code"])

	stored, err := store.GetAppointment(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)

	code, body = do(t, h, http.MethodPost, "/api/v1/appointments/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body["error_code"])
}

func TestCreateRejectsBadBodies(t *testing.T) {
	h, _ := newTestHandler(t)

	code, body := do(t, h, http.MethodPost, "/api/v1/tenants/t1/appointments", `{"customer_id":`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["error_code"])

	code, body = do(t, h, http.MethodPost, "/api/v1/tenants/t1/appointments", `{"customer_id":"c1"}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "service_id is required")

	code, body = do(t, h, http.MethodPost, "/api/v1/tenants/t1/appointments",
		`{"customer_id":"c1","service_id":"cut","start_time":"2025-03-01T09:00:00"}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "PAST_DATE", body["error_code"])
}

func TestToolEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	code, body := do(t, h, http.MethodPost, "/api/v1/tenants/t1/agent/tools/check_availability", `{"professional_id":"p1","date":"2025-03-03"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "check_availability", body["tool"])
	result := body["result"].(map[string]any)
	assert.Len(t, result["slots"], 2)

	code, body = do(t, h, http.MethodPost, "/api/v1/tenants/t1/agent/tools/nope", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["error_code"])
}

func TestRoutesRequireMatchingTenantToken(t *testing.T) {
	routes, _ := newTestHandler(t)
	h := auth.RequireHS256("s3cret")(routes)
	token, err := auth.SignHS256(auth.Claims{Sub: "agent", SalonID: "t1", Exp: time.Now().Add(time.Hour).Unix()}, "s3cret")
	require.NoError(t, err)
	path := "/api/v1/tenants/t1/availability?professional_id=p1&date=2025-03-03"

	code, _ := do(t, h, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, http.MethodGet, path, "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)

	code, body := do(t, h, http.MethodGet, strings.Replace(path, "/t1/", "/t2/", 1), "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["error_code"])
}

func TestAppointmentRoutesAreScopedToTokenTenant(t *testing.T) {
	routes, _ := newTestHandler(t)
	h := auth.RequireHS256("s3cret")(routes)
	own, err := auth.SignHS256(auth.Claims{Sub: "a", SalonID: "t1"}, "s3cret")
	require.NoError(t, err)
	other, err := auth.SignHS256(auth.Claims{Sub: "b", SalonID: "t2"}, "s3cret")
	require.NoError(t, err)

	code, body := do(t, h, http.MethodPost, "/api/v1/tenants/t1/appointments",
		`{"customer_id":"c1","service_id":"cut","start_time":"2025-03-03T10:00:00"}`, "Authorization", "Bearer "+own)
	require.Equal(t, http.StatusCreated, code)
	id := body["appointment_id"].(string)

	code, _ = do(t, h, http.MethodPost, "/api/v1/appointments/"+id+"/cancel", "", "Authorization", "Bearer "+other)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodPost, "/api/v1/appointments/"+id+"/cancel", "", "Authorization", "Bearer "+own)
	assert.Equal(t, http.StatusOK, code)
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	code, body := do(t, h, http.MethodGet, "/api/v1/nowhere", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body["error_code"])
}
