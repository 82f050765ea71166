package escrow_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/escrow"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/event"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

var testTP = noop.NewTracerProvider()

type mockEventStore struct {
	events []event.Event
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	var result []event.Event
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	var result []event.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

type mockAccountRepo struct {
	accounts map[string]*store.Account
	nextID   int
	err      error
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{accounts: make(map[string]*store.Account)}
}

func (m *mockAccountRepo) Create(_ context.Context, a *store.Account) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[a.DiscordID]; ok {
		return fmt.Errorf("account already exists")
	}
	m.nextID++
	a.ID = fmt.Sprintf("acct-%d", m.nextID)
	m.accounts[a.DiscordID] = a
	return nil
}

func (m *mockAccountRepo) GetByDiscordID(_ context.Context, discordID string) (*store.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[discordID]
	if !ok {
		return nil, fmt.Errorf("account not found")
	}
	return a, nil
}

func (m *mockAccountRepo) List(_ context.Context) ([]store.Account, error) {
	result := make([]store.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, *a)
	}
	return result, nil
}

func (m *mockAccountRepo) UpdateBalance(_ context.Context, id string, delta int64) error {
	if m.err != nil {
		return m.err
	}
	for _, a := range m.accounts {
		if a.ID == id {
			if a.Balance+delta < 0 {
				return fmt.Errorf("balance would go negative")
			}
			a.Balance += delta
			return nil
		}
	}
	return fmt.Errorf("account %s not found", id)
}

func newManager() (*escrow.Manager, *mockAccountRepo, *mockEventStore) {
	repo := newMockAccountRepo()
	es := &mockEventStore{}
	return escrow.NewManager(repo, es, slog.Default(), testTP), repo, es
}

func TestManager_RegisterBidder(t *testing.T) {
	mgr, _, es := newManager()

	a, err := mgr.RegisterBidder(context.Background(), "discord-1", "Frodo")
	if err != nil {
		t.Fatalf("RegisterBidder() error = %v", err)
	}
	if a.ID == "" {
		t.Error("expected account ID to be assigned")
	}
	if a.Balance != 0 {
		t.Errorf("new account balance = %d, want 0", a.Balance)
	}
	if len(es.events) != 1 || es.events[0].Type != event.BidderRegistered {
		t.Errorf("events = %+v, want one BidderRegistered", es.events)
	}
}

func TestManager_RegisterBidder_Duplicate(t *testing.T) {
	mgr, _, _ := newManager()

	if _, err := mgr.RegisterBidder(context.Background(), "discord-1", "Frodo"); err != nil {
		t.Fatalf("RegisterBidder() error = %v", err)
	}
	if _, err := mgr.RegisterBidder(context.Background(), "discord-1", "Frodo"); err == nil {
		t.Fatal("expected error registering the same Discord ID twice")
	}
}

func TestManager_DepositHoldRelease(t *testing.T) {
	mgr, repo, es := newManager()

	a, err := mgr.RegisterBidder(context.Background(), "discord-1", "Frodo")
	if err != nil {
		t.Fatalf("RegisterBidder() error = %v", err)
	}

	if err := mgr.Deposit(context.Background(), a.ID, 100, "raid payout"); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if err := mgr.Hold(context.Background(), a.ID, 60, "bid revealed"); err != nil {
		t.Fatalf("Hold() error = %v", err)
	}
	if err := mgr.Release(context.Background(), a.ID, 60, "refund"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if balance := repo.accounts["discord-1"].Balance; balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}

	var types []event.Type
	for _, e := range es.events {
		types = append(types, e.Type)
	}
	want := []event.Type{event.BidderRegistered, event.EscrowDeposited, event.EscrowHeld, event.EscrowReleased}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestManager_Hold_InsufficientBalance(t *testing.T) {
	mgr, _, es := newManager()

	a, err := mgr.RegisterBidder(context.Background(), "discord-1", "Frodo")
	if err != nil {
		t.Fatalf("RegisterBidder() error = %v", err)
	}
	if err := mgr.Deposit(context.Background(), a.ID, 30, "seed"); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	if err := mgr.Hold(context.Background(), a.ID, 60, "bid revealed"); err == nil {
		t.Fatal("expected error holding more than the balance")
	}
	// No escrow event is written for a rejected movement.
	for _, e := range es.events {
		if e.Type == event.EscrowHeld {
			t.Error("unexpected EscrowHeld event after rejected hold")
		}
	}
}

func TestManager_GetAccount(t *testing.T) {
	mgr, _, _ := newManager()

	if _, err := mgr.GetAccount(context.Background(), "discord-1"); err == nil {
		t.Fatal("expected error for unknown account")
	}

	if _, err := mgr.RegisterBidder(context.Background(), "discord-1", "Frodo"); err != nil {
		t.Fatalf("RegisterBidder() error = %v", err)
	}
	a, err := mgr.GetAccount(context.Background(), "discord-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if a.DisplayName != "Frodo" {
		t.Errorf("DisplayName = %q, want %q", a.DisplayName, "Frodo")
	}
}

func TestManager_ListAccounts(t *testing.T) {
	mgr, _, _ := newManager()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("discord-%d", i)
		if _, err := mgr.RegisterBidder(context.Background(), id, "name-"+id); err != nil {
			t.Fatalf("RegisterBidder(%s) error = %v", id, err)
		}
	}

	accounts, err := mgr.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(accounts) != 3 {
		t.Errorf("accounts = %d, want 3", len(accounts))
	}
}
