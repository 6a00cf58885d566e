package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/md-rashed-zaman/salonsync/libs/auth"
	"github.com/md-rashed-zaman/salonsync/libs/httpx"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/tools"
)

// Engine is the booking surface served over HTTP.
type Engine interface {
	tools.Engine
	Complete(ctx context.Context, tenantID, appointmentID string) error
}

type BookingHandler struct {
	engine  Engine
	tools   *tools.Registry
	limiter httpx.Limiter
	logger  *slog.Logger
}

func NewBookingHandler(engine Engine, registry *tools.Registry, limiter httpx.Limiter, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		engine:  engine,
		tools:   registry,
		limiter: limiter,
		logger:  logger,
	}
}

// Routes returns the /api/v1 router.
func (h *BookingHandler) Routes() *httprouter.Router {
	r := httprouter.New()
	r.GET("/api/v1/tenants/:tenant/availability", h.tenantScoped(h.Availability))
	r.POST("/api/v1/tenants/:tenant/appointments", h.tenantScoped(h.Create))
	r.GET("/api/v1/tenants/:tenant/customers/:customer/appointments", h.tenantScoped(h.Upcoming))
	r.POST("/api/v1/tenants/:tenant/agent/tools/:name", h.tenantScoped(h.Tool))
	r.PATCH("/api/v1/appointments/:id", h.Update)
	r.POST("/api/v1/appointments/:id/reschedule", h.Reschedule)
	r.POST("/api/v1/appointments/:id/cancel", h.Cancel)
	r.POST("/api/v1/appointments/:id/complete", h.Complete)
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})
	return r
}

type errorBody struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// tenantScoped rejects callers whose token is bound to another tenant.
func (h *BookingHandler) tenantScoped(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !auth.TenantAllowed(r.Context(), ps.ByName("tenant")) {
			writeJSON(w, http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "token is not valid for this tenant"})
			return
		}
		next(w, r, ps)
	}
}

// callerTenant is the tenant bound to the caller's token, or "" when auth is
// disabled.
func callerTenant(r *http.Request) string {
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		return c.SalonID
	}
	return ""
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	duration, err := intParam(q.Get("duration_minutes"), "duration_minutes")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.CheckAvailability(r.Context(), booking.AvailabilityQuery{
		TenantID:        ps.ByName("tenant"),
		ProfessionalID:  strings.TrimSpace(q.Get("professional_id")),
		Date:            q.Get("date"),
		ServiceID:       strings.TrimSpace(q.Get("service_id")),
		DurationMinutes: duration,
		MaxResults:      limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.NewAvailabilityReply(res))
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req tools.CreateAppointmentArgs
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := tools.Validate("create appointment", req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID := ps.ByName("tenant")
	if err := tools.AllowCreate(r.Context(), h.limiter, h.logger, tenantID, req.CustomerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Create(r.Context(), booking.CreateRequest{
		TenantID:       tenantID,
		ProfessionalID: req.ProfessionalID,
		CustomerID:     req.CustomerID,
		ServiceID:      req.ServiceID,
		Start:          req.StartTime,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tools.NewCreateReply(res))
}

func (h *BookingHandler) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req tools.UpdateAppointmentArgs
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.AppointmentID = ps.ByName("id")
	if err := tools.Validate("update appointment", req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Update(r.Context(), booking.UpdateRequest{
		TenantID:       callerTenant(r),
		AppointmentID:  req.AppointmentID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		Start:          req.StartTime,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.NewUpdateReply(res))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req tools.RescheduleAppointmentArgs
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.AppointmentID = ps.ByName("id")
	if err := tools.Validate("reschedule appointment", req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Reschedule(r.Context(), booking.RescheduleRequest{
		TenantID:      callerTenant(r),
		AppointmentID: req.AppointmentID,
		Start:         req.StartTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.NewRescheduleReply(res))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req tools.CancelAppointmentArgs
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.AppointmentID = ps.ByName("id")
	if err := tools.Validate("cancel appointment", req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Cancel(r.Context(), booking.CancelRequest{
		TenantID:      callerTenant(r),
		AppointmentID: req.AppointmentID,
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.NewCancelReply(res))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if err := h.engine.Complete(r.Context(), callerTenant(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"appointment_id": id, "status": "completed"})
}

func (h *BookingHandler) Upcoming(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	views, err := h.engine.ListUpcoming(r.Context(), ps.ByName("tenant"), ps.ByName("customer"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.NewUpcomingReply(views))
}

type toolResponse struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// Tool dispatches an agent command; the request body is its argument object.
func (h *BookingHandler) Tool(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, booking.Errorf(booking.CodeValidation, "cannot read request body"))
		return
	}
	name := ps.ByName("name")
	out, err := h.tools.Invoke(r.Context(), name, ps.ByName("tenant"), json.RawMessage(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{Tool: name, Result: out})
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if be, ok := booking.AsError(err); ok {
		writeJSON(w, be.HTTPStatus(), be)
		return
	}
	h.logger.Error("request failed",
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"err", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(booking.CodeInternal), Message: "internal error"})
}

// decodeJSON reads an optional JSON object body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return booking.Errorf(booking.CodeValidation, "cannot read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return booking.Errorf(booking.CodeValidation, "invalid json body: %v", err)
	}
	return nil
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, booking.Errorf(booking.CodeValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
