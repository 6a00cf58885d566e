package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonsync/libs/config"
	"github.com/md-rashed-zaman/salonsync/libs/db"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
)

type storeHandle struct {
	store storage.Store
	// pool is nil for the in-memory store.
	pool  *db.Pool
	ready func(context.Context) error
}

func (h *storeHandle) close() {
	if h.pool != nil {
		h.pool.Close()
	}
}

// openStore connects to PostgreSQL, or falls back to the in-memory store when
// DATABASE_URL is unset (development only).
func openStore(ctx context.Context, logger *slog.Logger) (*storeHandle, error) {
	dbURL := config.String("DATABASE_URL", "")
	if dbURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		mem := storage.NewMemory()
		if config.Bool("DEMO_SEED", true) {
			if err := seedDemo(mem); err != nil {
				return nil, err
			}
			logger.Info("demo tenant seeded", "tenant_id", "demo")
		}
		return &storeHandle{store: mem, ready: func(context.Context) error { return nil }}, nil
	}

	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
	if err != nil {
		return nil, fmt.Errorf("db connection: %w", err)
	}
	key, err := config.RequiredString("TOKEN_SEAL_KEY")
	if err != nil {
		pool.Close()
		return nil, err
	}
	sealer, err := storage.NewSealer(key)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("token sealer: %w", err)
	}
	pg := storage.NewPostgres(pool, outbox.NewRepository(), sealer)
	if config.Bool("DB_AUTO_MIGRATE", false) {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrated")
	}
	return &storeHandle{store: pg, pool: pool, ready: db.ReadyCheck(pool)}, nil
}

// seedDemo loads a small salon: one stylist working weekdays 09:00-17:00 with
// a lunch break.
func seedDemo(m *storage.Memory) error {
	zone := config.String("DEMO_TIMEZONE", "Europe/London")
	if _, err := model.LoadZone(zone); err != nil {
		return fmt.Errorf("DEMO_TIMEZONE: %w", err)
	}
	m.PutTenant(model.Tenant{ID: "demo", Name: "Demo Salon", Timezone: zone})
	m.PutProfessional(model.Professional{ID: "stylist-1", TenantID: "demo", Name: "Alex", Active: true})
	m.PutService(model.Service{ID: "haircut", TenantID: "demo", Name: "Haircut", DurationMinutes: 45, Active: true})
	m.PutService(model.Service{ID: "colour", TenantID: "demo", Name: "Colour", DurationMinutes: 90, Active: true})
	m.PutCustomer(model.Customer{ID: "customer-1", TenantID: "demo", Name: "Sam Carter", Email: "sam@example.com"})
	for d := time.Monday; d <= time.Friday; d++ {
		m.PutRules(
			model.AvailabilityRule{TenantID: "demo", ProfessionalID: "stylist-1", Weekday: d, StartMinute: 9 * 60, EndMinute: 17 * 60},
			model.AvailabilityRule{TenantID: "demo", ProfessionalID: "stylist-1", Weekday: d, Sequence: 1, StartMinute: 12 * 60, EndMinute: 13 * 60, IsBreak: true},
		)
	}
	return nil
}
