package stdsql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/clock"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

// AccountRepo implements store.AccountRepository using database/sql.
type AccountRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewAccountRepo returns a new AccountRepo.
func NewAccountRepo(db *sql.DB, clk clock.Clock) *AccountRepo {
	return &AccountRepo{db: db, clock: clk}
}

func (r *AccountRepo) Create(ctx context.Context, a *store.Account) error {
	now := r.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	return r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (discord_id, display_name, balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.DiscordID, a.DisplayName, a.Balance, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
}

func (r *AccountRepo) GetByDiscordID(ctx context.Context, discordID string) (*store.Account, error) {
	a := &store.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, discord_id, display_name, balance, created_at, updated_at
		 FROM accounts WHERE discord_id = $1`, discordID,
	).Scan(&a.ID, &a.DiscordID, &a.DisplayName, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) List(ctx context.Context) ([]store.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, discord_id, display_name, balance, created_at, updated_at
		 FROM accounts ORDER BY balance DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []store.Account
	for rows.Next() {
		var a store.Account
		if err := rows.Scan(&a.ID, &a.DiscordID, &a.DisplayName, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepo) UpdateBalance(ctx context.Context, id string, delta int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = $2
		 WHERE id = $3 AND balance + $1 >= 0`,
		delta, r.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("account %s not found or insufficient balance", id)
	}
	return nil
}
