package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/clock"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

// AccountRepo implements store.AccountRepository with sqlx.
type AccountRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAccountRepo returns a new AccountRepo.
func NewAccountRepo(db *sqlx.DB, clk clock.Clock) *AccountRepo {
	return &AccountRepo{db: db, clock: clk}
}

func (r *AccountRepo) Create(ctx context.Context, a *store.Account) error {
	query := `INSERT INTO accounts (discord_id, display_name, balance, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5)
	           RETURNING id`
	now := r.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	return r.db.QueryRowContext(ctx, query, a.DiscordID, a.DisplayName, a.Balance, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
}

func (r *AccountRepo) GetByDiscordID(ctx context.Context, discordID string) (*store.Account, error) {
	var a store.Account
	err := r.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE discord_id = $1`, discordID)
	if err != nil {
		return nil, fmt.Errorf("getting account by discord_id: %w", err)
	}
	return &a, nil
}

func (r *AccountRepo) List(ctx context.Context) ([]store.Account, error) {
	var accounts []store.Account
	err := r.db.SelectContext(ctx, &accounts, `SELECT * FROM accounts ORDER BY balance DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepo) UpdateBalance(ctx context.Context, id string, delta int64) error {
	// The WHERE clause keeps balances non-negative; a debit past zero
	// matches no row and is rejected.
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
