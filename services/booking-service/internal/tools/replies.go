package tools

import (
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/integrations"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
)

// Reply shapes are shared with the HTTP API.

type AvailabilityReply struct {
	ProfessionalID  string   `json:"professional_id"`
	Date            string   `json:"date"`
	Slots           []string `json:"slots"`
	TotalAvailable  int      `json:"total_available"`
	DurationMinutes int      `json:"duration_minutes"`
	Message         string   `json:"message"`
}

func NewAvailabilityReply(res booking.AvailabilityResult) AvailabilityReply {
	slots := make([]string, 0, len(res.Slots))
	for _, s := range res.Slots {
		slots = append(slots, s.Format(time.RFC3339))
	}
	return AvailabilityReply{
		ProfessionalID:  res.ProfessionalID,
		Date:            res.Date,
		Slots:           slots,
		TotalAvailable:  res.TotalAvailable,
		DurationMinutes: int(res.Duration / time.Minute),
		Message:         res.Message,
	}
}

type AppointmentReply struct {
	AppointmentID         string          `json:"appointment_id"`
	PreviousAppointmentID string          `json:"previous_appointment_id,omitempty"`
	StartTime             string          `json:"start_time"`
	EndTime               string          `json:"end_time"`
	SyncPending           []string        `json:"sync_pending,omitempty"`
	Sync                  map[string]bool `json:"sync,omitempty"`
}

func NewCreateReply(res booking.CreateResult) AppointmentReply {
	return AppointmentReply{
		AppointmentID: res.AppointmentID,
		StartTime:     res.StartTime.Format(time.RFC3339),
		EndTime:       res.EndTime.Format(time.RFC3339),
		SyncPending:   res.SyncPending,
	}
}

func NewUpdateReply(res booking.UpdateResult) AppointmentReply {
	return AppointmentReply{
		AppointmentID: res.AppointmentID,
		StartTime:     res.StartTime.Format(time.RFC3339),
		EndTime:       res.EndTime.Format(time.RFC3339),
		SyncPending:   res.SyncPending,
	}
}

func NewRescheduleReply(res booking.RescheduleResult) AppointmentReply {
	return AppointmentReply{
		AppointmentID:         res.AppointmentID,
		PreviousAppointmentID: res.PreviousID,
		StartTime:             res.StartTime.Format(time.RFC3339),
		EndTime:               res.EndTime.Format(time.RFC3339),
		Sync:                  syncMap(res.Sync),
	}
}

type CancelReply struct {
	AppointmentID    string          `json:"appointment_id"`
	Message          string          `json:"message"`
	Cancelled        bool            `json:"cancelled"`
	AlreadyCancelled bool            `json:"already_cancelled"`
	Sync             map[string]bool `json:"sync"`
}

func NewCancelReply(res booking.CancelResult) CancelReply {
	return CancelReply{
		AppointmentID:    res.AppointmentID,
		Message:          res.Message,
		Cancelled:        res.Cancelled,
		AlreadyCancelled: res.AlreadyCancelled,
		Sync:             syncMap(res.Sync),
	}
}

type UpcomingItem struct {
	AppointmentID    string `json:"appointment_id"`
	ProfessionalID   string `json:"professional_id"`
	ProfessionalName string `json:"professional_name"`
	ServiceID        string `json:"service_id"`
	ServiceName      string `json:"service_name"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	Notes            string `json:"notes,omitempty"`
}

type UpcomingReply struct {
	Appointments []UpcomingItem `json:"appointments"`
	Count        int            `json:"count"`
}

func NewUpcomingReply(views []model.AppointmentView) UpcomingReply {
	items := make([]UpcomingItem, 0, len(views))
	for _, v := range views {
		items = append(items, UpcomingItem{
			AppointmentID:    v.ID,
			ProfessionalID:   v.ProfessionalID,
			ProfessionalName: v.ProfessionalName,
			ServiceID:        v.ServiceID,
			ServiceName:      v.ServiceName,
			StartTime:        v.StartTime.Format(time.RFC3339),
			EndTime:          v.EndTime.Format(time.RFC3339),
			Status:           string(v.Status),
			Notes:            v.Notes,
		})
	}
	return UpcomingReply{Appointments: items, Count: len(items)}
}

func syncMap(results []integrations.Result) map[string]bool {
	out := make(map[string]bool, len(results))
	for _, r := range results {
		out[r.Provider] = r.Success
	}
	return out
}
