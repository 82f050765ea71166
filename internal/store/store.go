package store

import (
	"context"
	"time"
)

// Account represents a registered bidder (or auctioneer) with an escrowed
// point balance. The balance is the generic "identity + escrowed-balance"
// accounting the auction engine delegates value transfer to.
type Account struct {
	ID          string    `db:"id"`
	DiscordID   string    `db:"discord_id"`
	DisplayName string    `db:"display_name"`
	Balance     int64     `db:"balance"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Auction represents a persisted auction snapshot.
type Auction struct {
	ID             string     `db:"id"`
	Item           string     `db:"item"`
	Auctioneer     string     `db:"auctioneer"`
	CommitDeadline time.Time  `db:"commit_deadline"`
	RevealDeadline time.Time  `db:"reveal_deadline"`
	Status         string     `db:"status"` // "open", "finalized"
	WinnerID       *string    `db:"winner_id"`
	HighestBid     *int64     `db:"highest_bid"`
	CreatedAt      time.Time  `db:"created_at"`
	FinalizedAt    *time.Time `db:"finalized_at"`
}

// AccountRepository defines account persistence operations.
type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByDiscordID(ctx context.Context, discordID string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	// UpdateBalance applies delta to the account's escrowed balance.
	// It fails if the result would be negative.
	UpdateBalance(ctx context.Context, id string, delta int64) error
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	Finalize(ctx context.Context, id string, winnerID string, amount int64) error
	ListOpen(ctx context.Context) ([]Auction, error)
}
