package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated    Type = "auction.created"
	BidCommitted      Type = "auction.bid_committed"
	BidRevealed       Type = "auction.bid_revealed"
	AuctionFinalized  Type = "auction.finalized"
	RefundClaimed     Type = "auction.refund_claimed"
	ProceedsWithdrawn Type = "auction.proceeds_withdrawn"

	EscrowDeposited Type = "escrow.deposited"
	EscrowHeld      Type = "escrow.held"
	EscrowReleased  Type = "escrow.released"

	BidderRegistered Type = "bidder.registered"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionCreatedData is the payload for AuctionCreated events.
type AuctionCreatedData struct {
	Item           string        `json:"item"`
	Auctioneer     string        `json:"auctioneer"`
	CommitDeadline time.Time     `json:"commit_deadline"`
	RevealDeadline time.Time     `json:"reveal_deadline"`
	CommitDuration time.Duration `json:"commit_duration"`
	RevealDuration time.Duration `json:"reveal_duration"`
}

// BidCommittedData is the payload for BidCommitted events.
type BidCommittedData struct {
	BidderID   string `json:"bidder_id"`
	Commitment string `json:"commitment"`
}

// BidRevealedData is the payload for BidRevealed events.
type BidRevealedData struct {
	BidderID string `json:"bidder_id"`
	Amount   uint64 `json:"amount"`
}

// AuctionFinalizedData is the payload for AuctionFinalized events.
// WinnerID is empty when nobody revealed.
type AuctionFinalizedData struct {
	WinnerID   string `json:"winner_id"`
	HighestBid uint64 `json:"highest_bid"`
}

// RefundClaimedData is the payload for RefundClaimed events.
type RefundClaimedData struct {
	BidderID string `json:"bidder_id"`
	Amount   uint64 `json:"amount"`
}

// ProceedsWithdrawnData is the payload for ProceedsWithdrawn events.
type ProceedsWithdrawnData struct {
	Auctioneer string `json:"auctioneer"`
	Amount     uint64 `json:"amount"`
}

// EscrowChangeData is the payload for escrow balance events.
type EscrowChangeData struct {
	AccountID string `json:"account_id"`
	Amount    uint64 `json:"amount"`
	Reason    string `json:"reason"`
}

// BidderRegisteredData is the payload for BidderRegistered events.
type BidderRegisteredData struct {
	DiscordID   string `json:"discord_id"`
	DisplayName string `json:"display_name"`
}
