package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/md-rashed-zaman/salonsync/libs/httpx"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
)

// AgentMaxResults caps the slots offered to the agent per query.
const AgentMaxResults = 2

// Engine is the booking surface the tools drive.
type Engine interface {
	CheckAvailability(ctx context.Context, q booking.AvailabilityQuery) (booking.AvailabilityResult, error)
	Create(ctx context.Context, req booking.CreateRequest) (booking.CreateResult, error)
	Update(ctx context.Context, req booking.UpdateRequest) (booking.UpdateResult, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (booking.RescheduleResult, error)
	Cancel(ctx context.Context, req booking.CancelRequest) (booking.CancelResult, error)
	ListUpcoming(ctx context.Context, tenantID, customerID string) ([]model.AppointmentView, error)
}

type CheckAvailabilityArgs struct {
	ProfessionalID  string `json:"professional_id"`
	Date            string `json:"date" validate:"required"`
	ServiceID       string `json:"service_id"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,min=1,max=720"`
}

type CreateAppointmentArgs struct {
	ProfessionalID string `json:"professional_id"`
	CustomerID     string `json:"customer_id" validate:"required"`
	ServiceID      string `json:"service_id" validate:"required"`
	StartTime      string `json:"start_time" validate:"required"`
	Notes          string `json:"notes" validate:"max=1000"`
}

type UpdateAppointmentArgs struct {
	AppointmentID  string  `json:"appointment_id" validate:"required"`
	ProfessionalID *string `json:"professional_id"`
	ServiceID      *string `json:"service_id"`
	StartTime      *string `json:"start_time"`
	Notes          *string `json:"notes" validate:"omitempty,max=1000"`
}

type RescheduleAppointmentArgs struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	StartTime     string `json:"new_start_time" validate:"required"`
}

type CancelAppointmentArgs struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=500"`
}

type ListUpcomingArgs struct {
	CustomerID string `json:"customer_id" validate:"required"`
}

// Registry maps tool names to commands. It is built once and read-only.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry wires every agent command to engine. A nil limiter disables
// booking throttling.
func NewRegistry(engine Engine, limiter httpx.Limiter, logger *slog.Logger) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	r.add(typed[CheckAvailabilityArgs, AvailabilityReply]{
		name: "check_availability",
		run: func(ctx context.Context, tenantID string, a CheckAvailabilityArgs) (AvailabilityReply, error) {
			res, err := engine.CheckAvailability(ctx, booking.AvailabilityQuery{
				TenantID:        tenantID,
				ProfessionalID:  a.ProfessionalID,
				Date:            a.Date,
				ServiceID:       a.ServiceID,
				DurationMinutes: a.DurationMinutes,
				MaxResults:      AgentMaxResults,
			})
			if err != nil {
				return AvailabilityReply{}, err
			}
			return NewAvailabilityReply(res), nil
		},
	})
	r.add(typed[CreateAppointmentArgs, AppointmentReply]{
		name: "create_appointment",
		run: func(ctx context.Context, tenantID string, a CreateAppointmentArgs) (AppointmentReply, error) {
			if err := AllowCreate(ctx, limiter, logger, tenantID, a.CustomerID); err != nil {
				return AppointmentReply{}, err
			}
			res, err := engine.Create(ctx, booking.CreateRequest{
				TenantID:       tenantID,
				ProfessionalID: a.ProfessionalID,
				CustomerID:     a.CustomerID,
				ServiceID:      a.ServiceID,
				Start:          a.StartTime,
				Notes:          a.Notes,
			})
			if err != nil {
				return AppointmentReply{}, err
			}
			return NewCreateReply(res), nil
		},
	})
	r.add(typed[UpdateAppointmentArgs, AppointmentReply]{
		name: "update_appointment",
		run: func(ctx context.Context, tenantID string, a UpdateAppointmentArgs) (AppointmentReply, error) {
			res, err := engine.Update(ctx, booking.UpdateRequest{
				TenantID:       tenantID,
				AppointmentID:  a.AppointmentID,
				ProfessionalID: a.ProfessionalID,
				ServiceID:      a.ServiceID,
				Start:          a.StartTime,
				Notes:          a.Notes,
			})
			if err != nil {
				return AppointmentReply{}, err
			}
			return NewUpdateReply(res), nil
		},
	})
	r.add(typed[RescheduleAppointmentArgs, AppointmentReply]{
		name: "reschedule_appointment",
		run: func(ctx context.Context, tenantID string, a RescheduleAppointmentArgs) (AppointmentReply, error) {
			res, err := engine.Reschedule(ctx, booking.RescheduleRequest{
				TenantID:      tenantID,
				AppointmentID: a.AppointmentID,
				Start:         a.StartTime,
			})
			if err != nil {
				return AppointmentReply{}, err
			}
			return NewRescheduleReply(res), nil
		},
	})
	r.add(typed[CancelAppointmentArgs, CancelReply]{
		name: "cancel_appointment",
		run: func(ctx context.Context, tenantID string, a CancelAppointmentArgs) (CancelReply, error) {
			res, err := engine.Cancel(ctx, booking.CancelRequest{
				TenantID:      tenantID,
				AppointmentID: a.AppointmentID,
				Reason:        a.Reason,
			})
			if err != nil {
				return CancelReply{}, err
			}
			return NewCancelReply(res), nil
		},
	})
	r.add(typed[ListUpcomingArgs, UpcomingReply]{
		name: "list_upcoming_appointments",
		run: func(ctx context.Context, tenantID string, a ListUpcomingArgs) (UpcomingReply, error) {
			views, err := engine.ListUpcoming(ctx, tenantID, a.CustomerID)
			if err != nil {
				return UpcomingReply{}, err
			}
			return NewUpcomingReply(views), nil
		},
	})
	return r
}

// AllowCreate throttles booking attempts per tenant and customer. A failing
// limiter lets the request through.
func AllowCreate(ctx context.Context, limiter httpx.Limiter, logger *slog.Logger, tenantID, customerID string) error {
	if limiter == nil {
		return nil
	}
	ok, err := limiter.Allow(ctx, "create:"+tenantID+":"+customerID)
	if err != nil {
		logger.Warn("rate limiter unavailable; allowing", "tenant_id", tenantID, "err", err)
		return nil
	}
	if !ok {
		return booking.RateLimited()
	}
	return nil
}

func (r *Registry) add(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named tool for tenantID.
func (r *Registry) Invoke(ctx context.Context, name, tenantID string, args json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, booking.Errorf(booking.CodeValidation, "unknown tool %q", name).
			WithDetail("tools", r.Names())
	}
	return t.Invoke(ctx, tenantID, args)
}
