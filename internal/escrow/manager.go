// Package escrow manages the identity + escrowed-balance accounting the
// auction engine delegates value transfer to. The engine only authorizes
// movements; this manager applies them.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/event"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

// Manager handles escrow account operations.
type Manager struct {
	accounts store.AccountRepository
	events   event.Store
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager returns a new escrow Manager.
func NewManager(accounts store.AccountRepository, events event.Store, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		accounts: accounts,
		events:   events,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/discord-sealed-bid-bot/internal/escrow"),
	}
}

// RegisterBidder creates an escrow account for a Discord user.
func (m *Manager) RegisterBidder(ctx context.Context, discordID, displayName string) (*store.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RegisterBidder",
		trace.WithAttributes(
			attribute.String("discord_id", discordID),
			attribute.String("display_name", displayName),
		),
	)
	defer span.End()

	a := &store.Account{
		DiscordID:   discordID,
		DisplayName: displayName,
		Balance:     0,
	}
	if err := m.accounts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	data, _ := json.Marshal(event.BidderRegisteredData{
		DiscordID:   discordID,
		DisplayName: displayName,
	})
	evt := event.Event{
		AggregateID: a.ID,
		Type:        event.BidderRegistered,
		Data:        data,
		Version:     1,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append bidder registered event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "bidder registered",
		slog.String("account_id", a.ID),
		slog.String("display_name", displayName),
	)
	return a, nil
}

// Deposit credits escrow to an account.
func (m *Manager) Deposit(ctx context.Context, accountID string, amount uint64, reason string) error {
	return m.apply(ctx, "Manager.Deposit", event.EscrowDeposited, accountID, int64(amount), reason)
}

// Hold debits an account's escrow when its bid is revealed; the amount is
// locked in the auction until refunded or paid out.
func (m *Manager) Hold(ctx context.Context, accountID string, amount uint64, reason string) error {
	return m.apply(ctx, "Manager.Hold", event.EscrowHeld, accountID, -int64(amount), reason)
}

// Release credits escrow back to an account (refund of a losing bid, or
// payout of the winning amount to the auctioneer).
func (m *Manager) Release(ctx context.Context, accountID string, amount uint64, reason string) error {
	return m.apply(ctx, "Manager.Release", event.EscrowReleased, accountID, int64(amount), reason)
}

func (m *Manager) apply(ctx context.Context, op string, typ event.Type, accountID string, delta int64, reason string) error {
	ctx, span := m.tracer.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("account_id", accountID),
			attribute.Int64("delta", delta),
		),
	)
	defer span.End()

	if err := m.accounts.UpdateBalance(ctx, accountID, delta); err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}
	data, _ := json.Marshal(event.EscrowChangeData{
		AccountID: accountID,
		Amount:    uint64(amount),
		Reason:    reason,
	})
	evt := event.Event{
		AggregateID: accountID,
		Type:        typ,
		Data:        data,
		Version:     0,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append escrow event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "escrow balance changed",
		slog.String("account_id", accountID),
		slog.Int64("delta", delta),
		slog.String("reason", reason),
	)
	return nil
}

// GetAccount looks up an account by Discord user ID.
func (m *Manager) GetAccount(ctx context.Context, discordID string) (*store.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetAccount",
		trace.WithAttributes(attribute.String("discord_id", discordID)),
	)
	defer span.End()

	a, err := m.accounts.GetByDiscordID(ctx, discordID)
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all escrow accounts.
func (m *Manager) ListAccounts(ctx context.Context) ([]store.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListAccounts")
	defer span.End()

	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}
