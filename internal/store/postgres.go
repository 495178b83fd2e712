package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres implements the room persistence collaborator on the shared database.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// outstandingIndex is the partial unique index allowing one requested or sent
// payment per room.
const outstandingIndex = "payments_room_outstanding_key"

const paymentColumns = `id, room_id, requester_id, payer_id, amount, currency, platform,
	account_name, account_number, status, reference, receipt_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	p := &Payment{}
	var reference, receiptURL sql.NullString
	err := row.Scan(&p.ID, &p.RoomID, &p.RequesterID, &p.PayerID, &p.Amount, &p.Currency, &p.Platform,
		&p.AccountName, &p.AccountNumber, &p.Status, &reference, &receiptURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Reference = reference.String
	p.ReceiptURL = receiptURL.String
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *Postgres) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PaymentRequested
	}

	query := `INSERT INTO payments (id, room_id, requester_id, payer_id, amount, currency, platform,
		account_name, account_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, p.ID, p.RoomID, p.RequesterID, p.PayerID, p.Amount, p.Currency,
		p.Platform, p.AccountName, p.AccountNumber, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == outstandingIndex {
			return ErrOutstanding
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Postgres) GetPayment(ctx context.Context, id string) (*Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE id = $1"
	return scanPayment(r.db.QueryRowContext(ctx, query, id))
}

// TransitionPayment moves a payment to `to` only if it is currently in one of
// `from`. Concurrent confirm/deny races resolve here: the loser gets ErrConflict.
func (r *Postgres) TransitionPayment(ctx context.Context, id string, from []PaymentStatus, to PaymentStatus, upd PaymentUpdate) (*Payment, error) {
	args := []any{id, to, nullString(upd.Reference), nullString(upd.ReceiptURL)}
	placeholders := make([]string, len(from))
	for i, s := range from {
		args = append(args, s)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := `UPDATE payments
		SET status = $2,
		    reference = COALESCE($3, reference),
		    receipt_url = COALESCE($4, receipt_url),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
		RETURNING ` + paymentColumns

	p, err := scanPayment(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetPayment(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	return p, err
}

// OutstandingPayment returns the room's requested or sent payment, or nil if there is none.
func (r *Postgres) OutstandingPayment(ctx context.Context, roomID string) (*Payment, error) {
	query := "SELECT " + paymentColumns + ` FROM payments
		WHERE room_id = $1 AND status IN ('requested', 'sent')
		ORDER BY created_at DESC LIMIT 1`

	p, err := scanPayment(r.db.QueryRowContext(ctx, query, roomID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (r *Postgres) ListPayments(ctx context.Context, roomID string) ([]*Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE room_id = $1 ORDER BY created_at ASC"
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *Postgres) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)"
	if err := r.db.QueryRowContext(ctx, query, reference).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Postgres) CreateTransaction(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = TransactionOngoing

	query := `INSERT INTO transactions (id, merchant_id, client_id, status)
		VALUES ($1, $2, $3, $4) RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query, t.ID, t.MerchantID, t.ClientID, t.Status).Scan(&t.CreatedAt); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *Postgres) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	t := &Transaction{}
	var platforms, timeline []byte
	var finishedAt sql.NullTime

	query := `SELECT id, merchant_id, client_id, status, total_amount, platforms, timeline, created_at, finished_at
		FROM transactions WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.MerchantID, &t.ClientID, &t.Status,
		&t.TotalAmount, &platforms, &timeline, &t.CreatedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(platforms) > 0 {
		if err := json.Unmarshal(platforms, &t.Platforms); err != nil {
			return nil, fmt.Errorf("decode platforms: %w", err)
		}
	}
	if len(timeline) > 0 {
		t.Timeline = json.RawMessage(timeline)
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return t, nil
}

// FinishTransaction writes the closing summary of an ongoing room. A room that
// was already finished yields ErrConflict.
func (r *Postgres) FinishTransaction(ctx context.Context, t *Transaction) error {
	platforms, err := json.Marshal(t.Platforms)
	if err != nil {
		return err
	}
	now := time.Now()

	query := `UPDATE transactions
		SET status = $2, total_amount = $3, platforms = $4, timeline = $5, finished_at = $6
		WHERE id = $1 AND status = 'ongoing'`
	res, err := r.db.ExecContext(ctx, query, t.ID, t.Status, t.TotalAmount, platforms, []byte(t.Timeline), now)
	if err != nil {
		return fmt.Errorf("finish transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetTransaction(ctx, t.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	t.FinishedAt = &now
	return nil
}

func (r *Postgres) CreateRating(ctx context.Context, rt *Rating) error {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}

	query := `INSERT INTO ratings (id, transaction_id, rater_id, ratee_id, score, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id, rater_id) DO NOTHING
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, rt.ID, rt.TransactionID, rt.RaterID, rt.RateeID, rt.Score, rt.Comment).Scan(&rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	return err
}

func (r *Postgres) RatingsFor(ctx context.Context, rateeID string) ([]Rating, error) {
	query := `SELECT id, transaction_id, rater_id, ratee_id, score, comment, created_at
		FROM ratings WHERE ratee_id = $1 ORDER BY created_at DESC LIMIT 50`
	rows, err := r.db.QueryContext(ctx, query, rateeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []Rating
	for rows.Next() {
		var rt Rating
		if err := rows.Scan(&rt.ID, &rt.TransactionID, &rt.RaterID, &rt.RateeID, &rt.Score, &rt.Comment, &rt.CreatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, rt)
	}
	return ratings, rows.Err()
}
