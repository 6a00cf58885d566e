package integrations

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeAdapter struct {
	name  string
	mu    sync.Mutex
	calls []string
	err   error
	block bool
	token string

	// onCreate runs inside Create, while the provider call is in flight.
	onCreate func()
}

func (f *fakeAdapter) Provider() string { return f.name }

func (f *fakeAdapter) record(call string, creds Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.token = creds.AccessToken
}

func (f *fakeAdapter) wait(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeAdapter) Create(ctx context.Context, creds Credentials, p Payload) (string, error) {
	f.record("create:"+p.Appointment.ID, creds)
	if f.onCreate != nil {
		f.onCreate()
	}
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.name + "-" + p.Appointment.ID, nil
}

func (f *fakeAdapter) Update(ctx context.Context, creds Credentials, p Payload, externalID string) (string, error) {
	f.record("update:"+externalID, creds)
	return externalID, f.wait(ctx)
}

func (f *fakeAdapter) Delete(ctx context.Context, creds Credentials, externalID string) error {
	f.record("delete:"+externalID, creds)
	return f.wait(ctx)
}

func (f *fakeAdapter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRefresher struct {
	calls int
}

func (r *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	r.calls++
	return &oauth2.Token{AccessToken: "fresh", RefreshToken: "rotated", Expiry: time.Now().Add(time.Hour)}, nil
}

type fixture struct {
	store *storage.Memory
	coord *Coordinator
	logs  *bytes.Buffer
	appt  model.Appointment
}

func newFixture(t *testing.T, cfg Config, integrations ...model.Integration) *fixture {
	t.Helper()
	store := storage.NewMemory()
	store.PutTenant(model.Tenant{ID: "t1", Name: "Salon", Timezone: "UTC"})
	store.PutService(model.Service{ID: "s1", TenantID: "t1", Name: "Haircut", DurationMinutes: 60, Active: true})
	store.PutProfessional(model.Professional{ID: "p1", TenantID: "t1", Name: "Bo", Active: true})
	store.PutCustomer(model.Customer{ID: "c1", TenantID: "t1", Name: "Ana", Email: "ana@example.com"})
	for _, in := range integrations {
		store.PutIntegration(in)
	}

	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	appt := model.Appointment{
		ID: "a1", TenantID: "t1", CustomerID: "c1", ProfessionalID: "p1", ServiceID: "s1",
		StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusConfirmed,
	}
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertAppointment(ctx, appt) }))

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	return &fixture{store: store, coord: NewCoordinator(store, logger, cfg), logs: logs, appt: appt}
}

func active(provider string) model.Integration {
	return model.Integration{TenantID: "t1", Provider: provider, Active: true, AccessToken: "tok", TokenExpiry: time.Now().Add(time.Hour)}
}

func TestSyncCreateWritesBackExternalRefs(t *testing.T) {
	f := newFixture(t, Config{}, active("google"), active("calendly"))
	g := &fakeAdapter{name: "google"}
	c := &fakeAdapter{name: "calendly", err: errors.New("calendly down")}
	f.coord.Register(g, nil)
	f.coord.Register(c, nil)

	results := f.coord.Sync(context.Background(), OpCreate, "a1")
	require.Len(t, results, 2)
	byProvider := map[string]Result{}
	for _, r := range results {
		byProvider[r.Provider] = r
	}
	require.True(t, byProvider["google"].Success)
	require.False(t, byProvider["calendly"].Success)
	require.Error(t, byProvider["calendly"].Err)

	got, err := f.store.GetAppointment(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "google-a1", got.ExternalRefs["google"])
	require.Empty(t, got.ExternalRefs["calendly"])
	require.Contains(t, f.logs.String(), "integration sync failed")
	require.Contains(t, f.logs.String(), "provider=calendly")
	require.Contains(t, f.logs.String(), "appointment_id=a1")
}

func TestSyncSkipsInactiveAndUnknownProviders(t *testing.T) {
	inactive := active("google")
	inactive.Active = false
	f := newFixture(t, Config{}, inactive, active("outlook"))
	g := &fakeAdapter{name: "google"}
	f.coord.Register(g, nil)

	results := f.coord.Sync(context.Background(), OpCreate, "a1")
	require.Len(t, results, 1)
	require.Equal(t, "outlook", results[0].Provider)
	require.True(t, results[0].Success, "unknown providers fall back to the no-op adapter")
	require.Empty(t, g.Calls())
	require.Equal(t, []string{"outlook"}, f.coord.ActiveProviders(context.Background(), "t1"))
}

func TestDeleteExternalTimesOut(t *testing.T) {
	f := newFixture(t, Config{CallTimeout: 20 * time.Millisecond}, active("google"))
	g := &fakeAdapter{name: "google", block: true}
	f.coord.Register(g, nil)
	f.appt.ExternalRefs = map[string]string{"google": "evt-1"}

	start := time.Now()
	results := f.coord.DeleteExternal(context.Background(), f.appt)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	require.Equal(t, []string{"delete:evt-1"}, g.Calls())
}

func TestDeleteExternalOnlyTargetsReferencedProviders(t *testing.T) {
	f := newFixture(t, Config{}, active("google"), active("calendly"))
	g := &fakeAdapter{name: "google"}
	c := &fakeAdapter{name: "calendly"}
	f.coord.Register(g, nil)
	f.coord.Register(c, nil)
	f.appt.ExternalRefs = map[string]string{"calendly": "ev"}
	ctx := context.Background()
	require.NoError(t, f.store.SetExternalRef(ctx, "a1", "calendly", "ev"))

	results := f.coord.DeleteExternal(ctx, f.appt)
	require.Len(t, results, 1)
	require.Equal(t, "calendly", results[0].Provider)
	require.Empty(t, g.Calls())

	got, err := f.store.GetAppointment(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, got.ExternalRefs, "removed events must not stay referenced")
}

func TestTokenRefreshBeforeCall(t *testing.T) {
	expiring := active("google")
	expiring.TokenExpiry = time.Now().Add(2 * time.Minute)
	expiring.RefreshToken = "rt"
	f := newFixture(t, Config{}, expiring)
	g := &fakeAdapter{name: "google"}
	r := &fakeRefresher{}
	f.coord.Register(g, r)

	results := f.coord.Sync(context.Background(), OpCreate, "a1")
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, 1, r.calls)
	require.Equal(t, "fresh", g.token)

	ins, err := f.store.ListIntegrations(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "fresh", ins[0].AccessToken)
	require.Equal(t, "rotated", ins[0].RefreshToken)
	require.True(t, ins[0].TokenExpiry.After(time.Now().Add(30*time.Minute)))
}

func TestMissingTokenWithoutRefresherFails(t *testing.T) {
	in := active("google")
	in.AccessToken = ""
	f := newFixture(t, Config{}, in)
	g := &fakeAdapter{name: "google"}
	f.coord.Register(g, nil)

	results := f.coord.Sync(context.Background(), OpCreate, "a1")
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Empty(t, g.Calls())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	f := newFixture(t, Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, active("google"))
	g := &fakeAdapter{name: "google", err: errors.New("500")}
	f.coord.Register(g, nil)

	for i := 0; i < 3; i++ {
		f.coord.Sync(context.Background(), OpCreate, "a1")
	}
	require.Len(t, g.Calls(), 2, "third call must be short-circuited")
}

func TestDispatchOutlivesRequestContext(t *testing.T) {
	f := newFixture(t, Config{}, active("google"))
	g := &fakeAdapter{name: "google"}
	f.coord.Register(g, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.coord.Dispatch(ctx, OpCreate, "a1")
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, f.coord.Wait(waitCtx))
	require.Equal(t, []string{"create:a1"}, g.Calls())
}

func cancelInStore(store *storage.Memory, id string) error {
	ctx := context.Background()
	return store.InTx(ctx, func(tx storage.Tx) error {
		a, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		a.Status = model.StatusCancelled
		return tx.UpdateAppointment(ctx, a)
	})
}

func TestSyncSkipsInactiveAppointment(t *testing.T) {
	f := newFixture(t, Config{}, active("google"))
	g := &fakeAdapter{name: "google"}
	f.coord.Register(g, nil)
	require.NoError(t, cancelInStore(f.store, "a1"))

	require.Empty(t, f.coord.Sync(context.Background(), OpCreate, "a1"))
	require.Empty(t, f.coord.Sync(context.Background(), OpUpdate, "a1"))
	require.Empty(t, g.Calls())
}

func TestSyncUpdatesInPlaceWhenReferenceExists(t *testing.T) {
	f := newFixture(t, Config{}, active("google"))
	g := &fakeAdapter{name: "google"}
	f.coord.Register(g, nil)

	// an update that overtakes the create creates the event; the late create edits it
	f.coord.Sync(context.Background(), OpUpdate, "a1")
	f.coord.Sync(context.Background(), OpCreate, "a1")
	require.Equal(t, []string{"create:a1", "update:google-a1"}, g.Calls())
}

func TestSyncRemovesEventWhenCancelledMidFlight(t *testing.T) {
	f := newFixture(t, Config{}, active("google"))
	g := &fakeAdapter{name: "google"}
	var cancelErr error
	g.onCreate = func() { cancelErr = cancelInStore(f.store, "a1") }
	f.coord.Register(g, nil)

	results := f.coord.Sync(context.Background(), OpCreate, "a1")
	require.NoError(t, cancelErr)
	require.Len(t, results, 1)
	require.Equal(t, []string{"create:a1", "delete:google-a1"}, g.Calls())

	got, err := f.store.GetAppointment(context.Background(), "a1")
	require.NoError(t, err)
	require.Empty(t, got.ExternalRefs)
	require.Contains(t, f.logs.String(), "appointment cancelled during sync")
}

func TestSyncLimitedToProviders(t *testing.T) {
	f := newFixture(t, Config{}, active("google"), active("calendly"))
	g := &fakeAdapter{name: "google"}
	c := &fakeAdapter{name: "calendly"}
	f.coord.Register(g, nil)
	f.coord.Register(c, nil)

	results := f.coord.Sync(context.Background(), OpCreate, "a1", "calendly")
	require.Len(t, results, 1)
	require.Equal(t, "calendly", results[0].Provider)
	require.Empty(t, g.Calls())
	require.Equal(t, []string{"create:a1"}, c.Calls())
}

func TestDispatchWaitsForAppointmentLock(t *testing.T) {
	f := newFixture(t, Config{}, active("google"))
	g := &fakeAdapter{name: "google"}
	f.coord.Register(g, nil)

	unlock := f.coord.Lock("a1")
	f.coord.Dispatch(context.Background(), OpCreate, "a1")
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, g.Calls(), "sync must not run while the appointment is locked")
	unlock()

	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, f.coord.Wait(waitCtx))
	require.Equal(t, []string{"create:a1"}, g.Calls())

	f.coord.appts.mu.Lock()
	defer f.coord.appts.mu.Unlock()
	require.Empty(t, f.coord.appts.locks)
}
