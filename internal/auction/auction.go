package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/clock"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/commitment"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/event"
)

// Errors returned by auction operations. Every rejection is a precondition
// failure; a rejected call leaves the auction exactly as it was.
var (
	ErrInvalidCommitment    = errors.New("commitment is the reserved zero value")
	ErrAlreadyCommitted     = errors.New("bidder has already committed")
	ErrCommitPhaseEnded     = errors.New("commit phase has ended")
	ErrCommitPhaseNotEnded  = errors.New("commit phase has not ended")
	ErrRevealPhaseNotActive = errors.New("reveal phase is over")
	ErrNoCommitmentFound    = errors.New("no commitment found for bidder")
	ErrAlreadyRevealed      = errors.New("bid already revealed")
	ErrCommitmentMismatch   = errors.New("revealed bid does not match commitment")
	ErrRevealPhaseNotEnded  = errors.New("reveal phase has not ended")
	ErrAlreadyFinalized     = errors.New("auction already finalized")
	ErrUnauthorized         = errors.New("caller is not authorized")
	ErrNotFinalized         = errors.New("auction is not finalized")
	ErrWinnerCannotRefund   = errors.New("winner cannot claim a refund")
	ErrNoBidToRefund        = errors.New("no refundable bid for caller")
	ErrAlreadyWithdrawn     = errors.New("proceeds already withdrawn")
)

// BidderRecord tracks one bidder's commitment and reveal state.
// Amount is nil until a successful reveal, so a revealed bid of exactly 0
// stays distinguishable from "not yet revealed".
type BidderRecord struct {
	Commitment commitment.Commitment
	Amount     *uint64
	Refunded   bool
}

// Auction is the aggregate root for a single sealed-bid auction lifecycle.
// It is safe for concurrent use; every mutation is applied under the lock,
// so calls on one instance are serialized in acceptance order.
type Auction struct {
	mu sync.RWMutex

	ID         string
	Item       string
	Auctioneer string
	Version    int

	commitDeadline time.Time
	revealDeadline time.Time

	records map[string]*BidderRecord
	// order preserves registration order so Finalize scans deterministically.
	order []string

	finalized  bool
	winner     string
	highestBid uint64
	withdrawn  bool

	events []event.Event
	tracer trace.Tracer
	clock  clock.Clock
}

// New creates an auction with deadlines derived from the current clock time.
// Both durations must be strictly positive; the reveal deadline is the
// commit deadline plus the reveal duration.
func New(id, item, auctioneer string, commitDur, revealDur time.Duration, tp trace.TracerProvider, clk clock.Clock) (*Auction, error) {
	if commitDur <= 0 {
		return nil, fmt.Errorf("commit duration must be positive, got %s", commitDur)
	}
	if revealDur <= 0 {
		return nil, fmt.Errorf("reveal duration must be positive, got %s", revealDur)
	}

	now := clk.Now().UTC()
	a := &Auction{
		ID:             id,
		Item:           item,
		Auctioneer:     auctioneer,
		commitDeadline: now.Add(commitDur),
		revealDeadline: now.Add(commitDur).Add(revealDur),
		records:        make(map[string]*BidderRecord),
		tracer:         tp.Tracer("github.com/jensholdgaard/discord-sealed-bid-bot/internal/auction"),
		clock:          clk,
	}

	data, _ := json.Marshal(event.AuctionCreatedData{
		Item:           item,
		Auctioneer:     auctioneer,
		CommitDeadline: a.commitDeadline,
		RevealDeadline: a.revealDeadline,
		CommitDuration: commitDur,
		RevealDuration: revealDur,
	})
	a.recordEvent(event.AuctionCreated, data)
	return a, nil
}

// Commit stores a bidder's sealed commitment. Thread-safe.
func (a *Auction) Commit(ctx context.Context, bidderID string, c commitment.Commitment) error {
	ctx, span := a.tracer.Start(ctx, "Auction.Commit",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("bidder.id", bidderID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.clock.Now().After(a.commitDeadline) {
		return ErrCommitPhaseEnded
	}
	if c.IsZero() {
		return ErrInvalidCommitment
	}
	if _, ok := a.records[bidderID]; ok {
		return ErrAlreadyCommitted
	}

	a.records[bidderID] = &BidderRecord{Commitment: c}
	a.order = append(a.order, bidderID)

	data, _ := json.Marshal(event.BidCommittedData{
		BidderID:   bidderID,
		Commitment: c.String(),
	})
	a.recordEvent(event.BidCommitted, data)

	slog.InfoContext(ctx, "bid committed",
		slog.String("auction_id", a.ID),
		slog.String("bidder_id", bidderID),
		slog.String("commitment", c.String()),
	)
	return nil
}

// Reveal discloses a bid. The commitment is recomputed from the amount and
// secret and must equal the stored one; a mismatch rejects without mutating
// any state.
func (a *Auction) Reveal(ctx context.Context, bidderID string, amount uint64, secret []byte) error {
	ctx, span := a.tracer.Start(ctx, "Auction.Reveal",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("bidder.id", bidderID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if !now.After(a.commitDeadline) {
		return ErrCommitPhaseNotEnded
	}
	if now.After(a.revealDeadline) {
		return ErrRevealPhaseNotActive
	}

	rec, ok := a.records[bidderID]
	if !ok {
		return ErrNoCommitmentFound
	}
	if rec.Amount != nil {
		return ErrAlreadyRevealed
	}
	if commitment.Compute(amount, secret) != rec.Commitment {
		return ErrCommitmentMismatch
	}

	rec.Amount = &amount

	data, _ := json.Marshal(event.BidRevealedData{
		BidderID: bidderID,
		Amount:   amount,
	})
	a.recordEvent(event.BidRevealed, data)

	slog.InfoContext(ctx, "bid revealed",
		slog.String("auction_id", a.ID),
		slog.String("bidder_id", bidderID),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Finalize computes the winner as the highest correctly-revealed bid.
// The caller must be the auctioneer or a bidder who has revealed. The scan
// runs over the registry in registration order with a strict greater-than
// comparison, so ties resolve to the earliest-registered bidder regardless
// of reveal order. Irreversible.
func (a *Auction) Finalize(ctx context.Context, callerID string) (winner string, highestBid uint64, err error) {
	ctx, span := a.tracer.Start(ctx, "Auction.Finalize",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("caller.id", callerID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.clock.Now().After(a.revealDeadline) {
		return "", 0, ErrRevealPhaseNotEnded
	}
	if a.finalized {
		return "", 0, ErrAlreadyFinalized
	}
	if !a.canFinalize(callerID) {
		return "", 0, ErrUnauthorized
	}

	for _, id := range a.order {
		rec := a.records[id]
		var amount uint64
		if rec.Amount != nil {
			amount = *rec.Amount
		}
		if amount > a.highestBid {
			a.highestBid = amount
			a.winner = id
		}
	}
	a.finalized = true

	data, _ := json.Marshal(event.AuctionFinalizedData{
		WinnerID:   a.winner,
		HighestBid: a.highestBid,
	})
	a.recordEvent(event.AuctionFinalized, data)

	slog.InfoContext(ctx, "auction finalized",
		slog.String("auction_id", a.ID),
		slog.String("winner_id", a.winner),
		slog.Uint64("highest_bid", a.highestBid),
	)
	return a.winner, a.highestBid, nil
}

// canFinalize reports whether callerID may trigger finalization: the
// auctioneer always can, and so can any bidder who revealed (a losing one
// included).
func (a *Auction) canFinalize(callerID string) bool {
	if callerID == a.Auctioneer {
		return true
	}
	rec, ok := a.records[callerID]
	return ok && rec.Amount != nil
}

// ClaimRefund marks a non-winning revealed bid as refunded and returns the
// amount the escrow collaborator must release. Succeeds at most once per
// bidder.
func (a *Auction) ClaimRefund(ctx context.Context, callerID string) (uint64, error) {
	ctx, span := a.tracer.Start(ctx, "Auction.ClaimRefund",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("caller.id", callerID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finalized {
		return 0, ErrNotFinalized
	}
	if callerID == a.winner {
		return 0, ErrWinnerCannotRefund
	}

	rec, ok := a.records[callerID]
	if !ok || rec.Amount == nil || rec.Refunded {
		return 0, ErrNoBidToRefund
	}

	rec.Refunded = true
	amount := *rec.Amount

	data, _ := json.Marshal(event.RefundClaimedData{
		BidderID: callerID,
		Amount:   amount,
	})
	a.recordEvent(event.RefundClaimed, data)

	slog.InfoContext(ctx, "refund claimed",
		slog.String("auction_id", a.ID),
		slog.String("bidder_id", callerID),
		slog.Uint64("amount", amount),
	)
	return amount, nil
}

// Withdraw authorizes release of the winning amount to the auctioneer.
// The engine only authorizes; the actual transfer is the escrow
// collaborator's job. Succeeds at most once.
func (a *Auction) Withdraw(ctx context.Context, callerID string) (uint64, error) {
	ctx, span := a.tracer.Start(ctx, "Auction.Withdraw",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("caller.id", callerID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finalized {
		return 0, ErrNotFinalized
	}
	if callerID != a.Auctioneer {
		return 0, ErrUnauthorized
	}
	if a.withdrawn {
		return 0, ErrAlreadyWithdrawn
	}

	a.withdrawn = true

	data, _ := json.Marshal(event.ProceedsWithdrawnData{
		Auctioneer: callerID,
		Amount:     a.highestBid,
	})
	a.recordEvent(event.ProceedsWithdrawn, data)

	slog.InfoContext(ctx, "proceeds withdrawn",
		slog.String("auction_id", a.ID),
		slog.Uint64("amount", a.highestBid),
	)
	return a.highestBid, nil
}

// CommitDeadline returns the end of the commit phase.
func (a *Auction) CommitDeadline() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.commitDeadline
}

// RevealDeadline returns the end of the reveal phase.
func (a *Auction) RevealDeadline() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.revealDeadline
}

// Winner returns the winning bidder identity. Empty until finalization, and
// empty after it when nobody revealed.
func (a *Auction) Winner() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.winner
}

// HighestBid returns the winning amount; 0 until finalization.
func (a *Auction) HighestBid() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.highestBid
}

// Finalized reports whether the auction has been finalized.
func (a *Auction) Finalized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.finalized
}

// Commitment returns the stored commitment for a bidder; the zero value
// means the bidder never committed.
func (a *Auction) Commitment(bidderID string) commitment.Commitment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if rec, ok := a.records[bidderID]; ok {
		return rec.Commitment
	}
	return commitment.Commitment{}
}

// RevealedBid returns a bidder's revealed amount. ok is false if the bidder
// has not revealed.
func (a *Auction) RevealedBid(bidderID string) (amount uint64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, found := a.records[bidderID]
	if !found || rec.Amount == nil {
		return 0, false
	}
	return *rec.Amount, true
}

// Bidders returns all bidder identities in registration order.
func (a *Auction) Bidders() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// HasCommitted reports whether the bidder has a stored commitment.
func (a *Auction) HasCommitted(bidderID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.records[bidderID]
	return ok
}

// HasRevealed reports whether the bidder has successfully revealed.
func (a *Auction) HasRevealed(bidderID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[bidderID]
	return ok && rec.Amount != nil
}

// PendingEvents returns uncommitted events and clears the buffer.
func (a *Auction) PendingEvents() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := a.events
	a.events = nil
	return events
}

func (a *Auction) recordEvent(t event.Type, data json.RawMessage) {
	a.Version++
	a.events = append(a.events, event.Event{
		AggregateID: a.ID,
		Type:        t,
		Data:        data,
		Version:     a.Version,
	})
}

// Replay reconstructs an auction from its event history.
func Replay(events []event.Event, tp trace.TracerProvider, clk clock.Clock) (*Auction, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events to replay")
	}

	a := &Auction{
		records: make(map[string]*BidderRecord),
		tracer:  tp.Tracer("github.com/jensholdgaard/discord-sealed-bid-bot/internal/auction"),
		clock:   clk,
	}
	for _, e := range events {
		switch e.Type {
		case event.AuctionCreated:
			var d event.AuctionCreatedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling created event: %w", err)
			}
			a.ID = e.AggregateID
			a.Item = d.Item
			a.Auctioneer = d.Auctioneer
			a.commitDeadline = d.CommitDeadline
			a.revealDeadline = d.RevealDeadline

		case event.BidCommitted:
			var d event.BidCommittedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling commit event: %w", err)
			}
			c, err := commitment.Parse(d.Commitment)
			if err != nil {
				return nil, fmt.Errorf("parsing committed hash: %w", err)
			}
			a.records[d.BidderID] = &BidderRecord{Commitment: c}
			a.order = append(a.order, d.BidderID)

		case event.BidRevealed:
			var d event.BidRevealedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling reveal event: %w", err)
			}
			rec, ok := a.records[d.BidderID]
			if !ok {
				return nil, fmt.Errorf("reveal event for unknown bidder %s", d.BidderID)
			}
			amount := d.Amount
			rec.Amount = &amount

		case event.AuctionFinalized:
			var d event.AuctionFinalizedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling finalized event: %w", err)
			}
			a.finalized = true
			a.winner = d.WinnerID
			a.highestBid = d.HighestBid

		case event.RefundClaimed:
			var d event.RefundClaimedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling refund event: %w", err)
			}
			if rec, ok := a.records[d.BidderID]; ok {
				rec.Refunded = true
			}

		case event.ProceedsWithdrawn:
			a.withdrawn = true
		}
		a.Version = e.Version
	}
	return a, nil
}
