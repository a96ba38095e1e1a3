package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"nip05d/internal/identity/models"
	"nip05d/internal/platform/postgres"
	"nip05d/pkg/platform/sentinel"
	pkgstrings "nip05d/pkg/platform/strings"
	txcontext "nip05d/pkg/platform/tx"
)

// PostgresStore persists registrations. Inside a transaction single-row reads
// take a row lock so read-check-write sequences are serialized per registration.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const registrationColumns = `id, identity_key, name, status, plan, expires_at, manual_name, last_synced_at, note, created_at, updated_at`

const insertRegistrationQuery = `
	INSERT INTO registrations (` + registrationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const updateRegistrationQuery = `
	UPDATE registrations
	SET name = $2, status = $3, plan = $4, expires_at = $5, manual_name = $6,
		last_synced_at = $7, note = $8, updated_at = $9
	WHERE id = $1
`

func (s *PostgresStore) Create(ctx context.Context, reg *models.Registration) error {
	q := txcontext.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, insertRegistrationQuery,
		reg.ID, string(reg.IdentityKey), reg.Name, string(reg.Status), string(reg.Plan),
		reg.ExpiresAt, reg.ManualName, reg.LastSyncedAt, reg.Note, reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, reg *models.Registration) error {
	q := txcontext.QuerierFrom(ctx, s.db)
	res, err := q.ExecContext(ctx, updateRegistrationQuery,
		reg.ID, reg.Name, string(reg.Status), string(reg.Plan), reg.ExpiresAt,
		reg.ManualName, reg.LastSyncedAt, reg.Note, reg.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update registration rows: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE ` + where
	if txcontext.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	row := txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, args...)
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return s.findOne(ctx, `id = $1`, id)
}

func (s *PostgresStore) FindByIdentityKey(ctx context.Context, key models.IdentityKey) (*models.Registration, error) {
	return s.findOne(ctx, `identity_key = $1`, string(key))
}

func (s *PostgresStore) FindActiveByName(ctx context.Context, name string) (*models.Registration, error) {
	return s.findOne(ctx, `name = $1 AND status = 'active'`, name)
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.Registration, error) {
	return s.findOne(ctx, `id = (
		SELECT id FROM registrations WHERE name = $1
		ORDER BY (status = 'active') DESC, updated_at DESC LIMIT 1)`, name)
}

func (s *PostgresStore) query(ctx context.Context, where string, args ...any) ([]*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE ` + where
	rows, err := txcontext.QuerierFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context, activeOnly bool) ([]*models.Registration, error) {
	return s.query(ctx, `($1 = FALSE OR status = 'active') ORDER BY name`, activeOnly)
}

func (s *PostgresStore) ListActiveByNames(ctx context.Context, names []string) ([]*models.Registration, error) {
	return s.query(ctx, `status = 'active' AND name = ANY($1) ORDER BY name`,
		pq.Array(pkgstrings.DedupeAndTrimLower(names)))
}

func (s *PostgresStore) ListByPlan(ctx context.Context, plan models.Plan) ([]*models.Registration, error) {
	return s.query(ctx, `plan = $1 ORDER BY name`, string(plan))
}

// ListSyncCandidates returns due registrations, oldest sync first. A limit of
// zero returns every candidate.
func (s *PostgresStore) ListSyncCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.Registration, error) {
	return s.query(ctx, `status = 'active' AND manual_name = FALSE
		AND (last_synced_at IS NULL OR last_synced_at < $1)
		ORDER BY last_synced_at ASC NULLS FIRST LIMIT NULLIF($2::int, 0)`, cutoff, limit)
}

func (s *PostgresStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]*models.Registration, error) {
	return s.query(ctx, `status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1 ORDER BY expires_at`, t)
}

func (s *PostgresStore) TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := txcontext.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE registrations SET last_synced_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch registration sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (*models.Registration, error) {
	var (
		reg                   models.Registration
		key, status, plan     string
		expiresAt, lastSynced sql.NullTime
	)
	if err := row.Scan(&reg.ID, &key, &reg.Name, &status, &plan, &expiresAt,
		&reg.ManualName, &lastSynced, &reg.Note, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	reg.IdentityKey = models.IdentityKey(key)
	reg.Status = models.Status(status)
	reg.Plan = models.Plan(plan)
	if expiresAt.Valid {
		t := expiresAt.Time
		reg.ExpiresAt = &t
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		reg.LastSyncedAt = &t
	}
	return &reg, nil
}
