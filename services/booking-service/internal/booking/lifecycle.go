package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/integrations"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/timeutil"
	"go.opentelemetry.io/otel/attribute"
)

type CreateRequest struct {
	TenantID       string
	ProfessionalID string
	CustomerID     string
	ServiceID      string
	Start          string
	Notes          string
}

type CreateResult struct {
	AppointmentID string
	StartTime     time.Time
	EndTime       time.Time
	// SyncPending lists providers the appointment is being mirrored to.
	SyncPending []string
}

// UpdateRequest changes only the non-nil fields.
type UpdateRequest struct {
	TenantID       string
	AppointmentID  string
	ProfessionalID *string
	ServiceID      *string
	Start          *string
	Notes          *string
}

type UpdateResult struct {
	AppointmentID string
	StartTime     time.Time
	EndTime       time.Time
	SyncPending   []string
}

type RescheduleRequest struct {
	TenantID      string
	AppointmentID string
	Start         string
}

type RescheduleResult struct {
	AppointmentID string
	PreviousID    string
	StartTime     time.Time
	EndTime       time.Time
	// Sync holds the outcome of removing the old appointment's mirrors.
	Sync []integrations.Result
}

type CancelRequest struct {
	TenantID      string
	AppointmentID string
	Reason        string
}

type CancelResult struct {
	AppointmentID    string
	Message          string
	Cancelled        bool
	AlreadyCancelled bool
	Sync             []integrations.Result
}

func (e *Engine) parseStart(raw string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, validation("start_time is required")
	}
	start, err := timeutil.ParseInstant(raw, loc)
	if err != nil {
		return time.Time{}, newError(CodeInvalidDate, "cannot read start time %q", raw).
			WithSuggestion("use an ISO-8601 timestamp such as 2025-03-03T09:00:00")
	}
	if start.Before(e.now()) {
		return time.Time{}, newError(CodePastDate, "start time %s is in the past", start.In(loc).Format(time.RFC3339)).
			WithSuggestion("pick a future time")
	}
	return start, nil
}

// Create books a confirmed appointment. The conflict check and the insert run
// in one transaction; the storage layer rejects any overlap that slips past.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (res CreateResult, err error) {
	ctx, span := e.startSpan(ctx, "Create",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("professional_id", req.ProfessionalID),
	)
	defer func() { finishSpan(span, err) }()

	switch {
	case strings.TrimSpace(req.CustomerID) == "":
		return res, validation("customer_id is required")
	case strings.TrimSpace(req.ServiceID) == "":
		return res, validation("service_id is required")
	}
	tenant, err := e.tenant(ctx, req.TenantID)
	if err != nil {
		return res, err
	}
	loc := tenant.Location()
	start, err := e.parseStart(req.Start, loc)
	if err != nil {
		return res, err
	}
	svc, err := e.service(ctx, tenant.ID, req.ServiceID)
	if err != nil {
		return res, err
	}
	prof, err := e.professional(ctx, tenant.ID, req.ProfessionalID)
	if err != nil {
		return res, err
	}
	if err := e.checkCustomer(ctx, tenant.ID, req.CustomerID); err != nil {
		return res, err
	}

	now := e.now()
	appt := model.Appointment{
		ID:             uuid.NewString(),
		TenantID:       tenant.ID,
		CustomerID:     req.CustomerID,
		ProfessionalID: prof.ID,
		ServiceID:      svc.ID,
		StartTime:      start,
		EndTime:        start.Add(svc.Duration()),
		Status:         model.StatusConfirmed,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		if err := checkFree(ctx, tx, appt, "", loc); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		return insertEvent(ctx, tx, outbox.EventAppointmentCreated, appt, "", "")
	})
	if err != nil {
		return res, writeError("create appointment", err)
	}

	e.logger.Info("appointment created",
		"appointment_id", appt.ID,
		"tenant_id", tenant.ID,
		"professional_id", prof.ID,
		"start", appt.StartTime.Format(time.RFC3339),
	)
	e.sync.Dispatch(ctx, integrations.OpCreate, appt.ID)
	return CreateResult{
		AppointmentID: appt.ID,
		StartTime:     appt.StartTime.In(loc),
		EndTime:       appt.EndTime.In(loc),
		SyncPending:   e.sync.ActiveProviders(ctx, tenant.ID),
	}, nil
}

// Update edits an active appointment in place. The duration stays unless the
// service changes; any timing change is conflict-checked against everything
// but the appointment itself.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (res UpdateResult, err error) {
	ctx, span := e.startSpan(ctx, "Update", attribute.String("appointment_id", req.AppointmentID))
	defer func() { finishSpan(span, err) }()

	if req.ProfessionalID == nil && req.ServiceID == nil && req.Start == nil && req.Notes == nil {
		return res, validation("nothing to update").
			WithSuggestion("provide start_time, service_id, professional_id or notes")
	}
	cur, err := e.appointment(ctx, req.TenantID, req.AppointmentID)
	if err != nil {
		return res, err
	}
	if cur.Status.Terminal() {
		return res, terminalError(cur)
	}
	tenant, err := e.tenant(ctx, cur.TenantID)
	if err != nil {
		return res, err
	}
	loc := tenant.Location()

	var newStart *time.Time
	if req.Start != nil {
		t, err := e.parseStart(*req.Start, loc)
		if err != nil {
			return res, err
		}
		newStart = &t
	}
	var newService *model.Service
	if req.ServiceID != nil && *req.ServiceID != cur.ServiceID {
		s, err := e.service(ctx, tenant.ID, *req.ServiceID)
		if err != nil {
			return res, err
		}
		newService = &s
	}
	newProfessional := ""
	if req.ProfessionalID != nil && *req.ProfessionalID != cur.ProfessionalID {
		p, err := e.professional(ctx, tenant.ID, *req.ProfessionalID)
		if err != nil {
			return res, err
		}
		if p.ID != cur.ProfessionalID {
			newProfessional = p.ID
		}
	}

	var updated model.Appointment
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		a, err := tx.GetAppointmentForUpdate(ctx, cur.ID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return terminalError(a)
		}
		moved := false
		duration := a.EndTime.Sub(a.StartTime)
		if newService != nil {
			a.ServiceID = newService.ID
			duration = newService.Duration()
			moved = true
		}
		if newProfessional != "" {
			a.ProfessionalID = newProfessional
			moved = true
		}
		if newStart != nil && !newStart.Equal(a.StartTime) {
			a.StartTime = *newStart
			moved = true
		}
		a.EndTime = a.StartTime.Add(duration)
		if req.Notes != nil {
			a.Notes = strings.TrimSpace(*req.Notes)
		}
		if moved {
			if err := checkFree(ctx, tx, a, a.ID, loc); err != nil {
				return err
			}
		}
		a.UpdatedAt = e.now()
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		updated = a
		return insertEvent(ctx, tx, outbox.EventAppointmentUpdated, a, "", "")
	})
	if err != nil {
		return res, writeError("update appointment", err)
	}

	e.logger.Info("appointment updated", "appointment_id", updated.ID, "tenant_id", updated.TenantID)
	e.sync.Dispatch(ctx, integrations.OpUpdate, updated.ID)
	return UpdateResult{
		AppointmentID: updated.ID,
		StartTime:     updated.StartTime.In(loc),
		EndTime:       updated.EndTime.In(loc),
		SyncPending:   e.sync.ActiveProviders(ctx, updated.TenantID),
	}, nil
}

// Reschedule moves an active appointment to a free slot: the old one is
// cancelled and a new confirmed one is created in the same transaction.
// External mirrors of the old appointment are removed first.
func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (res RescheduleResult, err error) {
	ctx, span := e.startSpan(ctx, "Reschedule", attribute.String("appointment_id", req.AppointmentID))
	defer func() { finishSpan(span, err) }()

	unlock := e.sync.Lock(req.AppointmentID)
	defer unlock()
	old, err := e.appointment(ctx, req.TenantID, req.AppointmentID)
	if err != nil {
		return res, err
	}
	if !old.Status.Active() {
		return res, terminalError(old)
	}
	tenant, err := e.tenant(ctx, old.TenantID)
	if err != nil {
		return res, err
	}
	loc := tenant.Location()
	start, err := e.parseStart(req.Start, loc)
	if err != nil {
		return res, err
	}

	duration := old.EndTime.Sub(old.StartTime)
	svc, err := e.store.GetService(ctx, tenant.ID, old.ServiceID)
	switch {
	case err == nil && svc.DurationMinutes > 0:
		duration = svc.Duration()
	case err != nil && !storage.IsNotFound(err):
		return res, fmt.Errorf("load service: %w", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	slots, err := e.daySlots(readCtx, tenant, old.ProfessionalID, timeutil.StartOfDay(start, loc), duration, old.ID)
	cancel()
	if err != nil {
		if be, ok := AsError(err); ok && be.Code == CodeNotWorkingDay {
			return res, slotUnavailable(start, loc, nil).WithDetail("working_days", be.Details["working_days"])
		}
		return res, err
	}
	slot, ok := availability.MatchSlot(slots, start, RescheduleTolerance)
	if !ok {
		return res, slotUnavailable(start, loc, slots)
	}

	res.Sync = e.sync.DeleteExternal(ctx, old)

	now := e.now()
	next := model.Appointment{
		ID:             uuid.NewString(),
		TenantID:       old.TenantID,
		CustomerID:     old.CustomerID,
		ProfessionalID: old.ProfessionalID,
		ServiceID:      old.ServiceID,
		StartTime:      slot,
		EndTime:        slot.Add(duration),
		Status:         model.StatusConfirmed,
		Notes:          appendNote(old.Notes, "Rescheduled from "+old.ID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetAppointmentForUpdate(ctx, old.ID)
		if err != nil {
			return err
		}
		if !cur.Status.Active() {
			return terminalError(cur)
		}
		cur.Status = model.StatusCancelled
		cur.Notes = appendNote(cur.Notes, "Rescheduled to "+next.StartTime.In(loc).Format(time.RFC3339))
		cur.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return err
		}
		if err := checkFree(ctx, tx, next, "", loc); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, next); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, outbox.EventAppointmentCancelled, cur, "", "rescheduled"); err != nil {
			return err
		}
		return insertEvent(ctx, tx, outbox.EventAppointmentRescheduled, next, old.ID, "")
	})
	if err != nil {
		e.restoreMirrors(ctx, old, res.Sync)
		return res, writeError("reschedule appointment", err)
	}

	e.logger.Info("appointment rescheduled",
		"appointment_id", next.ID,
		"previous_appointment_id", old.ID,
		"tenant_id", next.TenantID,
		"start", next.StartTime.Format(time.RFC3339),
	)
	e.sync.Dispatch(ctx, integrations.OpCreate, next.ID)
	res.AppointmentID = next.ID
	res.PreviousID = old.ID
	res.StartTime = next.StartTime.In(loc)
	res.EndTime = next.EndTime.In(loc)
	return res, nil
}

// Cancel is idempotent: cancelling a cancelled appointment reports success
// and writes nothing. Provider failures never block the local cancellation.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (res CancelResult, err error) {
	ctx, span := e.startSpan(ctx, "Cancel", attribute.String("appointment_id", req.AppointmentID))
	defer func() { finishSpan(span, err) }()

	unlock := e.sync.Lock(req.AppointmentID)
	defer unlock()
	appt, err := e.appointment(ctx, req.TenantID, req.AppointmentID)
	if err != nil {
		return res, err
	}
	res.AppointmentID = appt.ID
	switch appt.Status {
	case model.StatusCancelled:
		res.Cancelled, res.AlreadyCancelled = true, true
		res.Message = "Appointment was already cancelled"
		return res, nil
	case model.StatusCompleted:
		return res, terminalError(appt)
	}

	res.Sync = e.sync.DeleteExternal(ctx, appt)

	reason := strings.TrimSpace(req.Reason)
	already := false
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetAppointmentForUpdate(ctx, appt.ID)
		if err != nil {
			return err
		}
		switch {
		case cur.Status == model.StatusCancelled:
			already = true
			return nil
		case cur.Status.Terminal():
			return terminalError(cur)
		}
		cur.Status = model.StatusCancelled
		if reason != "" {
			cur.Notes = appendNote(cur.Notes, "Cancelled: "+reason)
		}
		cur.UpdatedAt = e.now()
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return err
		}
		return insertEvent(ctx, tx, outbox.EventAppointmentCancelled, cur, "", reason)
	})
	if err != nil {
		e.restoreMirrors(ctx, appt, res.Sync)
		return res, writeError("cancel appointment", err)
	}

	res.Cancelled = true
	if already {
		res.AlreadyCancelled = true
		res.Message = "Appointment was already cancelled"
		return res, nil
	}
	res.Message = "Appointment cancelled"
	if failed := failedProviders(res.Sync); len(failed) > 0 {
		res.Message = "Appointment cancelled; calendar sync failed for " + strings.Join(failed, ", ")
		e.logger.Warn("appointment cancelled with sync failures",
			"appointment_id", appt.ID,
			"providers", failed,
		)
	} else {
		e.logger.Info("appointment cancelled", "appointment_id", appt.ID, "tenant_id", appt.TenantID)
	}
	return res, nil
}

// Complete marks an active appointment as completed.
func (e *Engine) Complete(ctx context.Context, tenantID, appointmentID string) (err error) {
	ctx, span := e.startSpan(ctx, "Complete", attribute.String("appointment_id", appointmentID))
	defer func() { finishSpan(span, err) }()

	appt, err := e.appointment(ctx, tenantID, appointmentID)
	if err != nil {
		return err
	}
	if !appt.Status.Active() {
		return terminalError(appt)
	}
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetAppointmentForUpdate(ctx, appt.ID)
		if err != nil {
			return err
		}
		if !cur.Status.Active() {
			return terminalError(cur)
		}
		cur.Status = model.StatusCompleted
		cur.UpdatedAt = e.now()
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return err
		}
		return insertEvent(ctx, tx, outbox.EventAppointmentCompleted, cur, "", "")
	})
	if err != nil {
		return writeError("complete appointment", err)
	}
	e.logger.Info("appointment completed", "appointment_id", appt.ID, "tenant_id", appt.TenantID)
	return nil
}

// ListUpcoming returns the customer's active appointments starting from now,
// with times in the tenant's zone.
func (e *Engine) ListUpcoming(ctx context.Context, tenantID, customerID string) (out []model.AppointmentView, err error) {
	ctx, span := e.startSpan(ctx, "ListUpcoming", attribute.String("tenant_id", tenantID))
	defer func() { finishSpan(span, err) }()

	if strings.TrimSpace(customerID) == "" {
		return nil, validation("customer_id is required")
	}
	tenant, err := e.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()
	views, err := e.store.ListUpcoming(ctx, tenant.ID, customerID, e.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	loc := tenant.Location()
	for i := range views {
		views[i].StartTime = views[i].StartTime.In(loc)
		views[i].EndTime = views[i].EndTime.In(loc)
	}
	return views, nil
}

// restoreMirrors recreates the external events that were deleted ahead of a
// local transaction that then failed. Providers whose delete failed still hold
// the original event and are left alone.
func (e *Engine) restoreMirrors(ctx context.Context, appt model.Appointment, deleted []integrations.Result) {
	providers := succeededProviders(deleted)
	if len(providers) == 0 {
		return
	}
	e.logger.Warn("local write failed after external delete; recreating mirrors",
		"appointment_id", appt.ID,
		"providers", providers,
	)
	e.sync.Dispatch(ctx, integrations.OpCreate, appt.ID, providers...)
}

func checkFree(ctx context.Context, tx storage.Tx, a model.Appointment, excludeID string, loc *time.Location) error {
	existing, err := tx.ListActiveInRange(ctx, a.ProfessionalID, a.StartTime, a.EndTime)
	if err != nil {
		return fmt.Errorf("load appointments: %w", err)
	}
	iv := availability.Interval{Start: a.StartTime, End: a.EndTime}
	if c, hit := availability.FirstConflict(iv, existing, excludeID); hit {
		return conflictError(c, loc)
	}
	return nil
}

func insertEvent(ctx context.Context, tx storage.Tx, eventType string, a model.Appointment, previousID, reason string) error {
	evt, err := outbox.AppointmentEvent(eventType, a, previousID, reason)
	if err != nil {
		return fmt.Errorf("build %s: %w", eventType, err)
	}
	return tx.InsertEvent(ctx, evt)
}

func slotUnavailable(start time.Time, loc *time.Location, slots []time.Time) *Error {
	err := newError(CodeSlotUnavailable, "%s is not an available slot", start.In(loc).Format(time.RFC3339)).
		WithSuggestion(retrySuggestion)
	if len(slots) > 0 {
		n := min(len(slots), 3)
		alt := make([]string, 0, n)
		for _, s := range slots[:n] {
			alt = append(alt, s.In(loc).Format(time.RFC3339))
		}
		err.WithDetail("alternatives", alt)
	}
	return err
}
