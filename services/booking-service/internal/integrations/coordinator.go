package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	// CallTimeout bounds every provider call, token refresh included.
	CallTimeout time.Duration
	// RefreshHorizon refreshes tokens that expire within this window.
	RefreshHorizon time.Duration
	// BreakerFailures consecutive failures open a tenant's breaker for a provider.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 3 * time.Second
	}
	if c.RefreshHorizon <= 0 {
		c.RefreshHorizon = 5 * time.Minute
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Coordinator mirrors local appointment changes into every active
// integration of a tenant. Provider failures are logged and reported, never
// propagated to the local write.
type Coordinator struct {
	store      storage.Store
	logger     *slog.Logger
	cfg        Config
	adapters   map[string]SyncAdapter
	refreshers map[string]TokenRefresher
	now        func() time.Time
	tracer     trace.Tracer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	refresh  singleflight.Group
	wg       sync.WaitGroup
	appts    keyedMutex
}

func NewCoordinator(store storage.Store, logger *slog.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		store:      store,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		adapters:   map[string]SyncAdapter{},
		refreshers: map[string]TokenRefresher{},
		breakers:   map[string]*gobreaker.CircuitBreaker{},
		now:        time.Now,
		tracer:     otel.Tracer("booking-service/integrations"),
	}
}

// Register links an adapter at start-up. refresher may be nil for providers
// with long-lived tokens.
func (c *Coordinator) Register(a SyncAdapter, refresher TokenRefresher) {
	c.adapters[a.Provider()] = a
	if refresher != nil {
		c.refreshers[a.Provider()] = refresher
	}
}

func (c *Coordinator) adapter(provider string) SyncAdapter {
	if a, ok := c.adapters[provider]; ok {
		return a
	}
	return NoopAdapter{Name: provider}
}

func (c *Coordinator) breaker(tenantID, provider string) *gobreaker.CircuitBreaker {
	key := tenantID + "/" + provider
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[key]; ok {
		return cb
	}
	failures := c.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("integration breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[key] = cb
	return cb
}

// ActiveProviders lists the providers a mutation of tenantID will be synced to.
func (c *Coordinator) ActiveProviders(ctx context.Context, tenantID string) []string {
	ins, err := c.activeIntegrations(ctx, tenantID)
	if err != nil {
		c.logger.Warn("list integrations failed", "tenant_id", tenantID, "err", err)
		return nil
	}
	out := make([]string, 0, len(ins))
	for _, in := range ins {
		out = append(out, in.Provider)
	}
	return out
}

func (c *Coordinator) activeIntegrations(ctx context.Context, tenantID string) ([]model.Integration, error) {
	all, err := c.store.ListIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, in := range all {
		if in.Active {
			active = append(active, in)
		}
	}
	return active, nil
}

// Dispatch runs Sync in the background, detached from the caller's
// cancellation. Wait blocks until all dispatched work is done.
func (c *Coordinator) Dispatch(ctx context.Context, op Op, appointmentID string, providers ...string) {
	detached := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Sync(detached, op, appointmentID, providers...)
	}()
}

func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lock serializes external work on one appointment. Sync takes it itself;
// callers of DeleteExternal hold it from reading the appointment until their
// local write commits.
func (c *Coordinator) Lock(appointmentID string) (unlock func()) {
	return c.appts.lock(appointmentID)
}

// Sync mirrors appointmentID into every active integration of its tenant, or
// only into providers when given, and returns one Result per provider.
// Providers already holding a reference are updated in place whatever op is,
// so a create that runs late never duplicates an event. Cancelled or completed
// appointments are not mirrored.
func (c *Coordinator) Sync(ctx context.Context, op Op, appointmentID string, providers ...string) []Result {
	unlock := c.Lock(appointmentID)
	defer unlock()

	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		c.logger.Warn("sync skipped: appointment not loaded", "appointment_id", appointmentID, "op", string(op), "err", err)
		return nil
	}
	if op == OpDelete {
		return c.DeleteExternal(ctx, appt)
	}
	if !appt.Status.Active() {
		c.logger.Info("sync skipped: appointment not active", "appointment_id", appointmentID, "op", string(op), "status", string(appt.Status))
		return nil
	}
	ins, err := c.activeIntegrations(ctx, appt.TenantID)
	if err != nil {
		c.logger.Warn("sync skipped: integrations not loaded", "appointment_id", appointmentID, "op", string(op), "err", err)
		return nil
	}
	ins = onlyProviders(ins, providers)
	if len(ins) == 0 {
		return nil
	}
	payload := c.payload(ctx, appt)

	results := make([]Result, len(ins))
	written := make([]bool, len(ins))
	var g errgroup.Group
	for i, in := range ins {
		g.Go(func() error {
			results[i] = c.call(ctx, op, in, appt.ID, func(ctx context.Context, a SyncAdapter, creds Credentials) error {
				ref := appt.ExternalRefs[in.Provider]
				var extID string
				var err error
				if ref == "" {
					extID, err = a.Create(ctx, creds, payload)
				} else {
					extID, err = a.Update(ctx, creds, payload, ref)
				}
				if err != nil {
					return err
				}
				if extID != "" && extID != ref {
					if err := c.store.SetExternalRef(ctx, appt.ID, in.Provider, extID); err != nil {
						return fmt.Errorf("store external ref: %w", err)
					}
					written[i] = true
				}
				return nil
			})
			return nil
		})
	}
	_ = g.Wait()
	if slices.Contains(written, true) {
		c.dropIfCancelled(ctx, appt.ID)
	}
	return results
}

// dropIfCancelled removes the mirrors of an appointment that was cancelled
// while provider calls were in flight, for writers that did not hold Lock.
func (c *Coordinator) dropIfCancelled(ctx context.Context, appointmentID string) {
	cur, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		c.logger.Warn("post-sync reload failed", "appointment_id", appointmentID, "err", err)
		return
	}
	if cur.Status != model.StatusCancelled {
		return
	}
	c.logger.Warn("appointment cancelled during sync; removing external events", "appointment_id", appointmentID)
	c.DeleteExternal(ctx, cur)
}

func onlyProviders(ins []model.Integration, providers []string) []model.Integration {
	if len(providers) == 0 {
		return ins
	}
	out := ins[:0]
	for _, in := range ins {
		if slices.Contains(providers, in.Provider) {
			out = append(out, in)
		}
	}
	return out
}

// DeleteExternal removes appt from every active provider that holds a
// reference to it and clears the references it removed. It runs
// synchronously so callers can finish external removal before flipping local
// state; hold Lock around both to keep concurrent syncs out.
func (c *Coordinator) DeleteExternal(ctx context.Context, appt model.Appointment) []Result {
	ins, err := c.activeIntegrations(ctx, appt.TenantID)
	if err != nil {
		c.logger.Warn("external delete skipped: integrations not loaded", "appointment_id", appt.ID, "err", err)
		return nil
	}
	var targets []model.Integration
	for _, in := range ins {
		if appt.ExternalRefs[in.Provider] != "" {
			targets = append(targets, in)
		}
	}

	results := make([]Result, len(targets))
	var g errgroup.Group
	for i, in := range targets {
		g.Go(func() error {
			extID := appt.ExternalRefs[in.Provider]
			results[i] = c.call(ctx, OpDelete, in, appt.ID, func(ctx context.Context, a SyncAdapter, creds Credentials) error {
				return a.Delete(ctx, creds, extID)
			})
			if results[i].Success {
				if err := c.store.SetExternalRef(ctx, appt.ID, in.Provider, ""); err != nil {
					c.logger.Warn("clear external ref failed", "provider", in.Provider, "appointment_id", appt.ID, "err", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ExternalBusy collects provider-side busy time for tenantID from adapters
// that can report it.
func (c *Coordinator) ExternalBusy(ctx context.Context, tenantID string, from, to time.Time) ([]availability.Interval, error) {
	ins, err := c.activeIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		busy []availability.Interval
		errs []error
		g    errgroup.Group
	)
	for _, in := range ins {
		reader, ok := c.adapter(in.Provider).(BusyReader)
		if !ok {
			continue
		}
		g.Go(func() error {
			var got []availability.Interval
			res := c.call(ctx, "busy", in, "", func(ctx context.Context, _ SyncAdapter, creds Credentials) error {
				var err error
				got, err = reader.Busy(ctx, creds, from, to)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if res.Err != nil {
				errs = append(errs, res.Err)
				return nil
			}
			busy = append(busy, got...)
			return nil
		})
	}
	_ = g.Wait()
	return busy, errors.Join(errs...)
}

// call runs fn for one integration behind its breaker and timeout, after
// making sure the access token is fresh.
func (c *Coordinator) call(ctx context.Context, op Op, in model.Integration, appointmentID string, fn func(context.Context, SyncAdapter, Credentials) error) Result {
	ctx, span := c.tracer.Start(ctx, "integrations."+string(op), trace.WithAttributes(
		attribute.String("provider", in.Provider),
		attribute.String("appointment_id", appointmentID),
	))
	defer span.End()

	res := Result{Provider: in.Provider}
	_, err := c.breaker(in.TenantID, in.Provider).Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		creds, err := c.credentials(callCtx, in)
		if err != nil {
			return nil, err
		}
		return nil, fn(callCtx, c.adapter(in.Provider), creds)
	})
	if err != nil {
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("integration sync failed",
			"provider", in.Provider,
			"appointment_id", appointmentID,
			"op", string(op),
			"err", err,
		)
		return res
	}
	res.Success = true
	return res
}

// credentials returns usable credentials, refreshing the access token when it
// is missing or expires within the refresh horizon.
func (c *Coordinator) credentials(ctx context.Context, in model.Integration) (Credentials, error) {
	creds := Credentials{AccessToken: in.AccessToken, CalendarID: in.CalendarID, AccountLabel: in.AccountLabel}
	stale := in.AccessToken == "" || (!in.TokenExpiry.IsZero() && in.TokenExpiry.Before(c.now().Add(c.cfg.RefreshHorizon)))
	if !stale {
		return creds, nil
	}
	refresher, ok := c.refreshers[in.Provider]
	if !ok || in.RefreshToken == "" {
		if in.AccessToken == "" {
			return Credentials{}, fmt.Errorf("%s: no usable access token", in.Provider)
		}
		return creds, nil
	}

	v, err, _ := c.refresh.Do(in.TenantID+"/"+in.Provider, func() (interface{}, error) {
		tok, err := refresher.Refresh(ctx, in.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("refresh %s token: %w", in.Provider, err)
		}
		updated := in
		updated.AccessToken = tok.AccessToken
		updated.TokenExpiry = tok.Expiry
		if tok.RefreshToken != "" {
			updated.RefreshToken = tok.RefreshToken
		}
		if err := c.store.SaveIntegrationTokens(ctx, updated); err != nil {
			c.logger.Warn("persist refreshed token failed", "provider", in.Provider, "tenant_id", in.TenantID, "err", err)
		}
		return updated.AccessToken, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	creds.AccessToken = v.(string)
	return creds, nil
}

func (c *Coordinator) payload(ctx context.Context, appt model.Appointment) Payload {
	p := Payload{Appointment: appt, Location: time.UTC}
	if t, err := c.store.GetTenant(ctx, appt.TenantID); err == nil {
		p.Location = t.Location()
	}
	if s, err := c.store.GetService(ctx, appt.TenantID, appt.ServiceID); err == nil {
		p.ServiceName = s.Name
	}
	if pr, err := c.store.GetProfessional(ctx, appt.TenantID, appt.ProfessionalID); err == nil {
		p.ProfessionalName = pr.Name
	}
	if cu, err := c.store.GetCustomer(ctx, appt.TenantID, appt.CustomerID); err == nil {
		p.CustomerName = cu.Name
		p.CustomerEmail = cu.Email
	}
	return p
}
