package account

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateAccount(ctx context.Context, a *Account) (*Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `INSERT INTO accounts (id, username, password, display_name)
		VALUES ($1, $2, $3, $4) RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, a.ID, a.Username, a.Password, a.DisplayName).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return a, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getOne(ctx, "username", username)
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.getOne(ctx, "id", id)
}

func (r *Repository) getOne(ctx context.Context, column, value string) (*Account, error) {
	a := &Account{}
	var token sql.NullString
	query := `SELECT id, username, password, display_name, push_token, created_at
		FROM accounts WHERE ` + column + ` = $1`

	err := r.db.QueryRowContext(ctx, query, value).Scan(&a.ID, &a.Username, &a.Password, &a.DisplayName, &token, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.PushToken = token.String
	return a, nil
}

func (r *Repository) UpdatePushToken(ctx context.Context, id, token string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET push_token = NULLIF($2, '') WHERE id = $1`, id, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CreateWallet(ctx context.Context, w *Wallet) (*Wallet, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	query := `INSERT INTO wallets (id, account_id, platform, account_name, account_number)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, w.ID, w.AccountID, w.Platform, w.AccountName, w.AccountNumber).Scan(&w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Repository) ListWallets(ctx context.Context, accountID string) ([]Wallet, error) {
	q := `SELECT id, account_id, platform, account_name, account_number, created_at
		FROM wallets WHERE account_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := []Wallet{}
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.AccountID, &w.Platform, &w.AccountName, &w.AccountNumber, &w.CreatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
