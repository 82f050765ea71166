package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/clock"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	query := `INSERT INTO auctions (id, item, auctioneer, commit_deadline, reveal_deadline, status, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)`
	a.CreatedAt = r.clock.Now().UTC()
	a.Status = "open"
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Item, a.Auctioneer, a.CommitDeadline, a.RevealDeadline, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) Finalize(ctx context.Context, id string, winnerID string, amount int64) error {
	now := r.clock.Now().UTC()
	// NULLIF keeps winner_id NULL for the no-reveal outcome.
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = 'finalized', winner_id = NULLIF($1, ''), highest_bid = $2, finalized_at = $3
		 WHERE id = $4 AND status = 'open'`,
		winnerID, amount, now, id,
	)
	if err != nil {
		return fmt.Errorf("finalizing auction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found or already finalized", id)
	}
	return nil
}

func (r *AuctionRepo) ListOpen(ctx context.Context) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions, `SELECT * FROM auctions WHERE status = 'open' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing open auctions: %w", err)
	}
	return auctions, nil
}
