package auction

import (
	"context"
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
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

// ErrInsufficientEscrow is returned when a reveal names an amount the
// bidder's escrow balance does not cover.
var ErrInsufficientEscrow = errors.New("insufficient escrow balance")

// Escrow is the subset of escrow operations the manager drives on behalf of
// the engine: balance lookups, holds on reveal, releases on refund/payout.
type Escrow interface {
	GetAccount(ctx context.Context, discordID string) (*store.Account, error)
	Hold(ctx context.Context, accountID string, amount uint64, reason string) error
	Release(ctx context.Context, accountID string, amount uint64, reason string) error
}

// Manager coordinates auction lifecycle, escrow movement and concurrency.
// One engine instance exists per auction ID; all mutations on an instance
// go through its own lock.
type Manager struct {
	mu       sync.RWMutex
	auctions map[string]*Auction

	events    event.Store
	snapshots store.AuctionRepository
	escrow    Escrow
	logger    *slog.Logger
	tracer    trace.Tracer
	tp        trace.TracerProvider
	clock     clock.Clock
}

// NewManager creates a new auction Manager.
func NewManager(events event.Store, snapshots store.AuctionRepository, esc Escrow, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		auctions:  make(map[string]*Auction),
		events:    events,
		snapshots: snapshots,
		escrow:    esc,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/discord-sealed-bid-bot/internal/auction"),
		tp:        tp,
		clock:     clk,
	}
}

// StartAuction creates and tracks a new sealed-bid auction.
func (m *Manager) StartAuction(ctx context.Context, item, auctioneer string, commitDur, revealDur time.Duration) (*Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.StartAuction",
		trace.WithAttributes(
			attribute.String("item", item),
			attribute.String("auctioneer", auctioneer),
		),
	)
	defer span.End()

	id := fmt.Sprintf("auction-%d", m.clock.Now().UnixNano())
	a, err := New(id, item, auctioneer, commitDur, revealDur, m.tp, m.clock)
	if err != nil {
		return nil, err
	}

	snapshot := &store.Auction{
		ID:             id,
		Item:           item,
		Auctioneer:     auctioneer,
		CommitDeadline: a.CommitDeadline(),
		RevealDeadline: a.RevealDeadline(),
	}
	if err := m.snapshots.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persisting auction: %w", err)
	}

	if err := m.events.Append(ctx, a.PendingEvents()...); err != nil {
		return nil, fmt.Errorf("persisting auction created events: %w", err)
	}

	m.mu.Lock()
	m.auctions[id] = a
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "auction started",
		slog.String("auction_id", id),
		slog.String("item", item),
		slog.Time("commit_deadline", a.CommitDeadline()),
		slog.Time("reveal_deadline", a.RevealDeadline()),
	)
	return a, nil
}

// Commit records a sealed commitment from a registered bidder.
func (m *Manager) Commit(ctx context.Context, auctionID, discordID string, c commitment.Commitment) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Commit",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("discord_id", discordID),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return err
	}

	// Only registered bidders may participate.
	if _, err := m.escrow.GetAccount(ctx, discordID); err != nil {
		return fmt.Errorf("bidder not registered: %w", err)
	}

	if err := a.Commit(ctx, discordID, c); err != nil {
		return err
	}

	if err := m.events.Append(ctx, a.PendingEvents()...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist commit event", slog.Any("error", err))
	}
	return nil
}

// Reveal discloses a bid and places an escrow hold covering it.
func (m *Manager) Reveal(ctx context.Context, auctionID, discordID string, amount uint64, secret []byte) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Reveal",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("discord_id", discordID),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return err
	}

	account, err := m.escrow.GetAccount(ctx, discordID)
	if err != nil {
		return fmt.Errorf("bidder not registered: %w", err)
	}
	if account.Balance < int64(amount) {
		return ErrInsufficientEscrow
	}

	if err := a.Reveal(ctx, discordID, amount, secret); err != nil {
		return err
	}

	if err := m.escrow.Hold(ctx, account.ID, amount, "bid revealed on "+auctionID); err != nil {
		m.logger.ErrorContext(ctx, "failed to hold escrow for revealed bid",
			slog.String("auction_id", auctionID),
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
		return fmt.Errorf("holding escrow: %w", err)
	}

	if err := m.events.Append(ctx, a.PendingEvents()...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist reveal event", slog.Any("error", err))
	}
	return nil
}

// Finalize computes the winner and persists the outcome.
func (m *Manager) Finalize(ctx context.Context, auctionID, discordID string) (winner string, highestBid uint64, err error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Finalize",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("discord_id", discordID),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return "", 0, err
	}

	winner, highestBid, err = a.Finalize(ctx, discordID)
	if err != nil {
		return "", 0, err
	}

	if err := m.snapshots.Finalize(ctx, auctionID, winner, int64(highestBid)); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist finalized auction", slog.Any("error", err))
	}
	if err := m.events.Append(ctx, a.PendingEvents()...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist finalize event", slog.Any("error", err))
	}
	return winner, highestBid, nil
}

// ClaimRefund releases a losing revealed bid back to the bidder's escrow.
func (m *Manager) ClaimRefund(ctx context.Context, auctionID, discordID string) (uint64, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ClaimRefund",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("discord_id", discordID),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return 0, err
	}

	account, err := m.escrow.GetAccount(ctx, discordID)
	if err != nil {
		return 0, fmt.Errorf("bidder not registered: %w", err)
	}

	amount, err := a.ClaimRefund(ctx, discordID)
	if err != nil {
		return 0, err
	}

	if err := m.escrow.Release(ctx, account.ID, amount, "refund from "+auctionID); err != nil {
		m.logger.ErrorContext(ctx, "failed to release refund",
			slog.String("auction_id", auctionID),
			slog.String("account_id", account.ID),
			slog.Any("error", err),
		)
		return 0, fmt.Errorf("releasing refund: %w", err)
	}

	if err := m.events.Append(ctx, a.PendingEvents()...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist refund event", slog.Any("error", err))
	}
	return amount, nil
}

// Withdraw releases the winning amount to the auctioneer's escrow account.
func (m *Manager) Withdraw(ctx context.Context, auctionID, discordID string) (uint64, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Withdraw",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("discord_id", discordID),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return 0, err
	}

	account, err := m.escrow.GetAccount(ctx, discordID)
	if err != nil {
		return 0, fmt.Errorf("auctioneer not registered: %w", err)
	}

	amount, err := a.Withdraw(ctx, discordID)
	if err != nil {
		return 0, err
	}

	if amount > 0 {
		if err := m.escrow.Release(ctx, account.ID, amount, "proceeds of "+auctionID); err != nil {
			m.logger.ErrorContext(ctx, "failed to release proceeds",
				slog.String("auction_id", auctionID),
				slog.String("account_id", account.ID),
				slog.Any("error", err),
			)
			return 0, fmt.Errorf("releasing proceeds: %w", err)
		}
	}

	if err := m.events.Append(ctx, a.PendingEvents()...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist withdraw event", slog.Any("error", err))
	}
	return amount, nil
}

// Get returns a tracked auction for read-only queries.
func (m *Manager) Get(auctionID string) (*Auction, error) {
	return m.get(auctionID)
}

func (m *Manager) get(auctionID string) (*Auction, error) {
	m.mu.RLock()
	a, ok := m.auctions[auctionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auction %s not found", auctionID)
	}
	return a, nil
}

// ReplayAuction reconstructs an auction from stored events.
func (m *Manager) ReplayAuction(ctx context.Context, auctionID string) (*Auction, error) {
	events, err := m.events.Load(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return Replay(events, m.tp, m.clock)
}

// RecoverOpenAuctions replays all auctions from the event store and loads
// any not yet finalized into the in-memory map. This is used on leader
// startup to restore state after a failover.
func (m *Manager) RecoverOpenAuctions(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RecoverOpenAuctions")
	defer span.End()

	created, err := m.events.LoadByType(ctx, event.AuctionCreated)
	if err != nil {
		return 0, fmt.Errorf("loading auction created events: %w", err)
	}

	// Deduplicate aggregate IDs.
	seen := make(map[string]struct{}, len(created))
	var ids []string
	for _, e := range created {
		if _, ok := seen[e.AggregateID]; !ok {
			seen[e.AggregateID] = struct{}{}
			ids = append(ids, e.AggregateID)
		}
	}

	recovered := 0
	for _, id := range ids {
		a, replayErr := m.ReplayAuction(ctx, id)
		if replayErr != nil {
			m.logger.WarnContext(ctx, "failed to replay auction during recovery",
				slog.String("auction_id", id),
				slog.Any("error", replayErr),
			)
			continue
		}
		if a.Finalized() {
			continue
		}

		m.mu.Lock()
		m.auctions[id] = a
		m.mu.Unlock()
		recovered++

		m.logger.InfoContext(ctx, "recovered open auction",
			slog.String("auction_id", id),
			slog.String("item", a.Item),
			slog.Int("bidders", len(a.Bidders())),
		)
	}

	m.logger.InfoContext(ctx, "auction recovery complete",
		slog.Int("total_created", len(ids)),
		slog.Int("recovered_open", recovered),
	)
	return recovered, nil
}
