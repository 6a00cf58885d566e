package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
)

// Memory is an in-process Store for development and tests. Transactions are
// serialized under one lock and staged until fn returns nil; the
// no-overlap rule is enforced on every appointment write, like the
// PostgreSQL exclusion constraint.
type Memory struct {
	mu            sync.RWMutex
	tenants       map[string]model.Tenant
	services      map[string]model.Service
	professionals map[string]model.Professional
	customers     map[string]model.Customer
	rules         []model.AvailabilityRule
	appointments  map[string]model.Appointment
	integrations  map[string]model.Integration
	events        []outbox.Event
}

func NewMemory() *Memory {
	return &Memory{
		tenants:       map[string]model.Tenant{},
		services:      map[string]model.Service{},
		professionals: map[string]model.Professional{},
		customers:     map[string]model.Customer{},
		appointments:  map[string]model.Appointment{},
		integrations:  map[string]model.Integration{},
	}
}

func (m *Memory) PutTenant(t model.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

func (m *Memory) PutService(s model.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *Memory) PutProfessional(p model.Professional) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.professionals[p.ID] = p
}

func (m *Memory) PutCustomer(c model.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
}

func (m *Memory) PutRules(rules ...model.AvailabilityRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rules...)
}

func (m *Memory) PutIntegration(in model.Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[in.TenantID+"/"+in.Provider] = in
}

// Events returns the outbox events committed so far.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Event(nil), m.events...)
}

func (m *Memory) GetTenant(_ context.Context, id string) (model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return model.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetService(_ context.Context, tenantID, id string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok || s.TenantID != tenantID {
		return model.Service{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetProfessional(_ context.Context, tenantID, id string) (model.Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.professionals[id]
	if !ok || p.TenantID != tenantID {
		return model.Professional{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListProfessionals(_ context.Context, tenantID string) ([]model.Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Professional
	for _, p := range m.professionals {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetCustomer(_ context.Context, tenantID, id string) (model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok || c.TenantID != tenantID {
		return model.Customer{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListRules(_ context.Context, tenantID, professionalID string) ([]model.AvailabilityRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AvailabilityRule
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.ProfessionalID == professionalID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (m *Memory) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) ListActiveInRange(_ context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return activeInRange(m.appointments, professionalID, from, to), nil
}

func activeInRange(appts map[string]model.Appointment, professionalID string, from, to time.Time) []model.Appointment {
	window := availability.Interval{Start: from, End: to}
	var out []model.Appointment
	for _, a := range appts {
		if a.ProfessionalID != professionalID || !a.Status.Active() {
			continue
		}
		if availability.Overlaps(window, availability.Interval{Start: a.StartTime, End: a.EndTime}) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *Memory) ListUpcoming(_ context.Context, tenantID, customerID string, from time.Time) ([]model.AppointmentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AppointmentView
	for _, a := range m.appointments {
		if a.TenantID != tenantID || a.CustomerID != customerID || !a.Status.Active() || a.StartTime.Before(from) {
			continue
		}
		out = append(out, model.AppointmentView{
			Appointment:      a.Clone(),
			ServiceName:      m.services[a.ServiceID].Name,
			ProfessionalName: m.professionals[a.ProfessionalID].Name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) SetExternalRef(_ context.Context, appointmentID, provider, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[appointmentID]
	if !ok {
		return ErrNotFound
	}
	a = a.Clone()
	if a.ExternalRefs == nil {
		a.ExternalRefs = map[string]string{}
	}
	if externalID == "" {
		delete(a.ExternalRefs, provider)
	} else {
		a.ExternalRefs[provider] = externalID
	}
	m.appointments[appointmentID] = a
	return nil
}

func (m *Memory) ListIntegrations(_ context.Context, tenantID string) ([]model.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Integration
	for _, in := range m.integrations {
		if in.TenantID == tenantID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *Memory) SaveIntegrationTokens(_ context.Context, in model.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := in.TenantID + "/" + in.Provider
	cur, ok := m.integrations[key]
	if !ok {
		return ErrNotFound
	}
	cur.AccessToken = in.AccessToken
	cur.RefreshToken = in.RefreshToken
	cur.TokenExpiry = in.TokenExpiry
	m.integrations[key] = cur
	return nil
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, staged: map[string]model.Appointment{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, a := range tx.staged {
		m.appointments[id] = a
	}
	m.events = append(m.events, tx.events...)
	return nil
}

type memTx struct {
	m      *Memory
	staged map[string]model.Appointment
	events []outbox.Event
}

// view merges committed rows with the staged writes of this transaction.
func (t *memTx) view() map[string]model.Appointment {
	out := make(map[string]model.Appointment, len(t.m.appointments)+len(t.staged))
	for id, a := range t.m.appointments {
		out[id] = a
	}
	for id, a := range t.staged {
		out[id] = a
	}
	return out
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return a.Clone(), nil
	}
	a, ok := t.m.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (t *memTx) ListActiveInRange(_ context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	return activeInRange(t.view(), professionalID, from, to), nil
}

func (t *memTx) checkOverlap(a model.Appointment) error {
	if !a.Status.Active() {
		return nil
	}
	others := activeInRange(t.view(), a.ProfessionalID, a.StartTime, a.EndTime)
	if _, hit := availability.FirstConflict(availability.Interval{Start: a.StartTime, End: a.EndTime}, others, a.ID); hit {
		return ErrConflict
	}
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, a model.Appointment) error {
	view := t.view()
	if _, exists := view[a.ID]; exists {
		return ErrConflict
	}
	if err := t.checkOverlap(a); err != nil {
		return err
	}
	t.staged[a.ID] = a.Clone()
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	if _, exists := t.view()[a.ID]; !exists {
		return ErrNotFound
	}
	if err := t.checkOverlap(a); err != nil {
		return err
	}
	t.staged[a.ID] = a.Clone()
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}
