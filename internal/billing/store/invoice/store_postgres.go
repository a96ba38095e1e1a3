package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nip05d/internal/billing/models"
	identity "nip05d/internal/identity/models"
	"nip05d/internal/platform/postgres"
	"nip05d/pkg/platform/sentinel"
	txcontext "nip05d/pkg/platform/tx"
)

// PostgresStore persists invoices. Inside a transaction FindByPaymentHash locks
// the row, so racing confirmations for one invoice are serialized and the loser
// observes the winner's terminal status.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invoiceColumns = `payment_hash, registration_id, identity_key, name, plan, amount, payment_request,
	status, created_at, expires_at, paid_at, poll_attempts, next_poll_at`

func (s *PostgresStore) Create(ctx context.Context, inv *models.Invoice) error {
	_, err := txcontext.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.PaymentHash, inv.RegistrationID, string(inv.IdentityKey), inv.Name, string(inv.Plan),
		inv.Amount, inv.PaymentRequest, string(inv.Status), inv.CreatedAt, inv.ExpiresAt,
		inv.PaidAt, inv.PollAttempts, inv.NextPollAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Update writes mutable fields. The status guard keeps a terminal row terminal
// even if a caller skipped the re-check.
func (s *PostgresStore) Update(ctx context.Context, inv *models.Invoice) error {
	res, err := txcontext.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE invoices
		SET status = $2, paid_at = $3, poll_attempts = $4, next_poll_at = $5
		WHERE payment_hash = $1 AND (status = 'unpaid' OR status = $2)`,
		inv.PaymentHash, string(inv.Status), inv.PaidAt, inv.PollAttempts, inv.NextPollAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice rows: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByPaymentHash(ctx, inv.PaymentHash); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) FindByPaymentHash(ctx context.Context, hash string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE payment_hash = $1`
	if txcontext.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) FindOpenByName(ctx context.Context, name string, now time.Time) (*models.Invoice, error) {
	row := txcontext.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE name = $1 AND status = 'unpaid' AND expires_at > $2
		ORDER BY created_at DESC LIMIT 1`, name, now)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Invoice, error) {
	rows, err := txcontext.QuerierFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE status = 'unpaid' AND next_poll_at <= $1
		ORDER BY next_poll_at LIMIT NULLIF($2::int, 0)`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due invoices: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (*models.Invoice, error) {
	var (
		inv                models.Invoice
		key, plan, status  string
		paidAt, nextPollAt sql.NullTime
	)
	if err := row.Scan(&inv.PaymentHash, &inv.RegistrationID, &key, &inv.Name, &plan, &inv.Amount,
		&inv.PaymentRequest, &status, &inv.CreatedAt, &inv.ExpiresAt, &paidAt, &inv.PollAttempts,
		&nextPollAt); err != nil {
		return nil, err
	}
	inv.IdentityKey = identity.IdentityKey(key)
	inv.Plan = identity.Plan(plan)
	inv.Status = models.InvoiceStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	if nextPollAt.Valid {
		t := nextPollAt.Time
		inv.NextPollAt = &t
	}
	return &inv, nil
}
