package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/salonsync/libs/db"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store. Integration tokens are sealed on write
// and opened on read.
type Postgres struct {
	pool    *db.Pool
	outbox  *outbox.Repository
	sealer  *Sealer
	dialect goqu.DialectWrapper
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository, sealer *Sealer) *Postgres {
	return &Postgres{
		pool:    pool,
		outbox:  outboxRepo,
		sealer:  sealer,
		dialect: goqu.Dialect("postgres"),
	}
}

// Migrate applies schema.sql. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return err
}

const appointmentColumns = `id::text, tenant_id, customer_id, professional_id, service_id,
	start_time, end_time, status, notes, external_refs, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.TenantID, &a.CustomerID, &a.ProfessionalID, &a.ServiceID,
		&a.StartTime, &a.EndTime, &status, &a.Notes, &a.ExternalRefs, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	return a, nil
}

// isInvalidID reports a malformed uuid literal (SQLSTATE 22P02).
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func (p *Postgres) GetTenant(ctx context.Context, id string) (model.Tenant, error) {
	var t model.Tenant
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, timezone, is_solo FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Timezone, &t.IsSolo)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Tenant{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) GetService(ctx context.Context, tenantID, id string) (model.Service, error) {
	var s model.Service
	err := p.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, duration_minutes, active
		FROM services WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&s.ID, &s.TenantID, &s.Name, &s.DurationMinutes, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) GetProfessional(ctx context.Context, tenantID, id string) (model.Professional, error) {
	var pr model.Professional
	err := p.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, active
		FROM professionals WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&pr.ID, &pr.TenantID, &pr.Name, &pr.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Professional{}, ErrNotFound
	}
	return pr, err
}

func (p *Postgres) ListProfessionals(ctx context.Context, tenantID string) ([]model.Professional, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, tenant_id, name, active
		FROM professionals WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Professional
	for rows.Next() {
		var pr model.Professional
		if err := rows.Scan(&pr.ID, &pr.TenantID, &pr.Name, &pr.Active); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *Postgres) GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error) {
	var c model.Customer
	err := p.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, phone
		FROM customers WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Customer{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) ListRules(ctx context.Context, tenantID, professionalID string) ([]model.AvailabilityRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tenant_id, professional_id, weekday, sequence, start_minute, end_minute, is_break
		FROM availability_rules
		WHERE tenant_id = $1 AND professional_id = $2
		ORDER BY weekday, sequence
	`, tenantID, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		var r model.AvailabilityRule
		var weekday int16
		var seq, start, end int16
		if err := rows.Scan(&r.TenantID, &r.ProfessionalID, &weekday, &seq, &start, &end, &r.IsBreak); err != nil {
			return nil, err
		}
		r.Weekday = time.Weekday(weekday)
		r.Sequence, r.StartMinute, r.EndMinute = int(seq), int(start), int(end)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(p.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
}

func (p *Postgres) ListActiveInRange(ctx context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	return listActiveInRange(ctx, p.pool, professionalID, from, to, false)
}

func listActiveInRange(ctx context.Context, q querier, professionalID string, from, to time.Time, lock bool) ([]model.Appointment, error) {
	sql := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE professional_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListUpcoming(ctx context.Context, tenantID, customerID string, from time.Time) ([]model.AppointmentView, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT a.id::text, a.tenant_id, a.customer_id, a.professional_id, a.service_id,
			a.start_time, a.end_time, a.status, a.notes, a.external_refs, a.created_at, a.updated_at,
			COALESCE(s.name, ''), COALESCE(pr.name, '')
		FROM appointments a
		LEFT JOIN services s ON s.id = a.service_id
		LEFT JOIN professionals pr ON pr.id = a.professional_id
		WHERE a.tenant_id = $1
			AND a.customer_id = $2
			AND a.status IN ('pending', 'confirmed')
			AND a.start_time >= $3
		ORDER BY a.start_time
	`, tenantID, customerID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AppointmentView
	for rows.Next() {
		var v model.AppointmentView
		var status string
		if err := rows.Scan(&v.ID, &v.TenantID, &v.CustomerID, &v.ProfessionalID, &v.ServiceID,
			&v.StartTime, &v.EndTime, &status, &v.Notes, &v.ExternalRefs, &v.CreatedAt, &v.UpdatedAt,
			&v.ServiceName, &v.ProfessionalName); err != nil {
			return nil, err
		}
		v.Status = model.Status(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetExternalRef records the provider-side id without touching updated_at;
// it is sync bookkeeping, not a lifecycle change. An empty externalID drops
// the provider's reference.
func (p *Postgres) SetExternalRef(ctx context.Context, appointmentID, provider, externalID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE appointments
		SET external_refs = CASE
			WHEN $3::text = '' THEN external_refs - $2::text
			ELSE external_refs || jsonb_build_object($2::text, $3::text)
		END
		WHERE id = $1
	`, appointmentID, provider, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListIntegrations(ctx context.Context, tenantID string) ([]model.Integration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tenant_id, provider, active, access_token, refresh_token, token_expiry, account_label, calendar_id
		FROM integrations
		WHERE tenant_id = $1
		ORDER BY provider
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Integration
	for rows.Next() {
		var in model.Integration
		var expiry *time.Time
		if err := rows.Scan(&in.TenantID, &in.Provider, &in.Active, &in.AccessToken, &in.RefreshToken,
			&expiry, &in.AccountLabel, &in.CalendarID); err != nil {
			return nil, err
		}
		if expiry != nil {
			in.TokenExpiry = *expiry
		}
		if in.AccessToken, err = p.sealer.Open(in.AccessToken); err != nil {
			return nil, fmt.Errorf("open %s access token: %w", in.Provider, err)
		}
		if in.RefreshToken, err = p.sealer.Open(in.RefreshToken); err != nil {
			return nil, fmt.Errorf("open %s refresh token: %w", in.Provider, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveIntegrationTokens(ctx context.Context, in model.Integration) error {
	access, err := p.sealer.Seal(in.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := p.sealer.Seal(in.RefreshToken)
	if err != nil {
		return err
	}
	var expiry *time.Time
	if !in.TokenExpiry.IsZero() {
		expiry = &in.TokenExpiry
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE integrations
		SET access_token = $3, refresh_token = $4, token_expiry = $5, updated_at = now()
		WHERE tenant_id = $1 AND provider = $2
	`, in.TenantID, in.Provider, access, refresh, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, p: p}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return fmt.Errorf("commit: %w: %w", ErrConflict, err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
	p  *Postgres
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ListActiveInRange(ctx context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	return listActiveInRange(ctx, t.tx, professionalID, from, to, true)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	refs := a.ExternalRefs
	if refs == nil {
		refs = map[string]string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, tenant_id, customer_id, professional_id, service_id, start_time, end_time, status, notes, external_refs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.TenantID, a.CustomerID, a.ProfessionalID, a.ServiceID, a.StartTime, a.EndTime,
		string(a.Status), a.Notes, refs, a.CreatedAt, a.UpdatedAt)
	if IsConflict(err) {
		return fmt.Errorf("insert appointment: %w: %w", ErrConflict, err)
	}
	return err
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	query, args, err := t.p.dialect.Update("appointments").
		Prepared(true).
		Set(goqu.Record{
			"professional_id": a.ProfessionalID,
			"service_id":      a.ServiceID,
			"start_time":      a.StartTime,
			"end_time":        a.EndTime,
			"status":          string(a.Status),
			"notes":           a.Notes,
			"updated_at":      a.UpdatedAt,
		}).
		Where(goqu.Ex{"id": a.ID}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if IsConflict(err) {
		return fmt.Errorf("update appointment: %w: %w", ErrConflict, err)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.p.outbox.Insert(ctx, t.tx, evt)
}
