package auction_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/auction"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/clock"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/commitment"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/event"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/store"
)

// --- mock helpers ---

type mockEventStore struct {
	events   []event.Event
	appendFn func(events ...event.Event) error
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	if m.appendFn != nil {
		return m.appendFn(events...)
	}
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

type mockAuctionRepo struct {
	auctions map[string]*store.Auction
	err      error
}

func newMockAuctionRepo() *mockAuctionRepo {
	return &mockAuctionRepo{auctions: make(map[string]*store.Auction)}
}

func (m *mockAuctionRepo) Create(_ context.Context, a *store.Auction) error {
	if m.err != nil {
		return m.err
	}
	m.auctions[a.ID] = a
	return nil
}

func (m *mockAuctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	a, ok := m.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction not found")
	}
	return a, nil
}

func (m *mockAuctionRepo) Finalize(_ context.Context, id string, winnerID string, amount int64) error {
	a, ok := m.auctions[id]
	if !ok {
		return fmt.Errorf("auction not found")
	}
	a.Status = "finalized"
	if winnerID != "" {
		a.WinnerID = &winnerID
		a.HighestBid = &amount
	}
	return nil
}

func (m *mockAuctionRepo) ListOpen(_ context.Context) ([]store.Auction, error) {
	var result []store.Auction
	for _, a := range m.auctions {
		if a.Status != "finalized" {
			result = append(result, *a)
		}
	}
	return result, nil
}

// mockEscrow tracks balances by account ID and records every hold/release.
type mockEscrow struct {
	accounts map[string]*store.Account
	holds    []uint64
	releases []uint64
	err      error
}

func newMockEscrow() *mockEscrow {
	return &mockEscrow{accounts: make(map[string]*store.Account)}
}

func (m *mockEscrow) register(discordID string, balance int64) {
	m.accounts[discordID] = &store.Account{
		ID:        "acct-" + discordID,
		DiscordID: discordID,
		Balance:   balance,
	}
}

func (m *mockEscrow) GetAccount(_ context.Context, discordID string) (*store.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[discordID]
	if !ok {
		return nil, fmt.Errorf("account not found")
	}
	return a, nil
}

func (m *mockEscrow) Hold(_ context.Context, accountID string, amount uint64, _ string) error {
	if m.err != nil {
		return m.err
	}
	for _, a := range m.accounts {
		if a.ID == accountID {
			a.Balance -= int64(amount)
			m.holds = append(m.holds, amount)
			return nil
		}
	}
	return fmt.Errorf("account %s not found", accountID)
}

func (m *mockEscrow) Release(_ context.Context, accountID string, amount uint64, _ string) error {
	if m.err != nil {
		return m.err
	}
	for _, a := range m.accounts {
		if a.ID == accountID {
			a.Balance += int64(amount)
			m.releases = append(m.releases, amount)
			return nil
		}
	}
	return fmt.Errorf("account %s not found", accountID)
}

type fixture struct {
	mgr  *auction.Manager
	es   *mockEventStore
	repo *mockAuctionRepo
	esc  *mockEscrow
	clk  *clock.Mock
}

func newFixture() *fixture {
	es := &mockEventStore{}
	repo := newMockAuctionRepo()
	esc := newMockEscrow()
	clk := clock.NewMock(baseTime)
	mgr := auction.NewManager(es, repo, esc, slog.Default(), testTP, clk)
	return &fixture{mgr: mgr, es: es, repo: repo, esc: esc, clk: clk}
}

// --- tests ---

func TestManager_StartAuction(t *testing.T) {
	f := newFixture()

	a, err := f.mgr.StartAuction(context.Background(), "Shadowfang", "auctioneer", commitWindow, revealWindow)
	if err != nil {
		t.Fatalf("StartAuction() error = %v", err)
	}
	if a == nil {
		t.Fatal("StartAuction() returned nil auction")
	}
	if a.Item != "Shadowfang" {
		t.Errorf("Item = %q, want %q", a.Item, "Shadowfang")
	}
	if len(f.es.events) == 0 {
		t.Error("expected events to be persisted")
	}
	if _, ok := f.repo.auctions[a.ID]; !ok {
		t.Error("expected a snapshot row to be created")
	}
}

func TestManager_StartAuction_PersistError(t *testing.T) {
	f := newFixture()
	f.es.appendFn = func(events ...event.Event) error {
		return fmt.Errorf("db write error")
	}

	if _, err := f.mgr.StartAuction(context.Background(), "Item", "auctioneer", commitWindow, revealWindow); err == nil {
		t.Fatal("expected error when event store fails")
	}
}

func TestManager_Commit(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)

	c := commitment.Compute(50, []byte("s1"))
	if err := f.mgr.Commit(context.Background(), a.ID, "bidder-1", c); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !a.HasCommitted("bidder-1") {
		t.Error("HasCommitted() = false after Commit")
	}
}

func TestManager_Commit_AuctionNotFound(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)

	err := f.mgr.Commit(context.Background(), "nonexistent", "bidder-1", commitment.Compute(50, []byte("s1")))
	if err == nil {
		t.Fatal("expected error for nonexistent auction")
	}
}

func TestManager_Commit_BidderNotRegistered(t *testing.T) {
	f := newFixture()

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)

	err := f.mgr.Commit(context.Background(), a.ID, "unknown", commitment.Compute(50, []byte("s1")))
	if err == nil {
		t.Fatal("expected error for unregistered bidder")
	}
}

func TestManager_Reveal_HoldsEscrow(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)
	c := commitment.Compute(80, []byte("s1"))
	if err := f.mgr.Commit(context.Background(), a.ID, "bidder-1", c); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	f.clk.Advance(commitWindow + time.Second)

	if err := f.mgr.Reveal(context.Background(), a.ID, "bidder-1", 80, []byte("s1")); err != nil {
		t.Fatalf("Reveal() error = %v", err)
	}

	if balance := f.esc.accounts["bidder-1"].Balance; balance != 120 {
		t.Errorf("balance after hold = %d, want 120", balance)
	}
	if len(f.esc.holds) != 1 || f.esc.holds[0] != 80 {
		t.Errorf("holds = %v, want [80]", f.esc.holds)
	}
}

func TestManager_Reveal_InsufficientEscrow(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 50)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)
	c := commitment.Compute(80, []byte("s1"))
	if err := f.mgr.Commit(context.Background(), a.ID, "bidder-1", c); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	f.clk.Advance(commitWindow + time.Second)

	err := f.mgr.Reveal(context.Background(), a.ID, "bidder-1", 80, []byte("s1"))
	if err != auction.ErrInsufficientEscrow {
		t.Errorf("Reveal() error = %v, want %v", err, auction.ErrInsufficientEscrow)
	}
	// The rejected reveal must not touch escrow or the commitment.
	if len(f.esc.holds) != 0 {
		t.Errorf("holds = %v, want none", f.esc.holds)
	}
	if a.HasRevealed("bidder-1") {
		t.Error("HasRevealed() = true after rejected reveal")
	}
}

func TestManager_Finalize_PersistsOutcome(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)
	f.esc.register("bidder-2", 200)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)
	_ = f.mgr.Commit(context.Background(), a.ID, "bidder-1", commitment.Compute(60, []byte("s1")))
	_ = f.mgr.Commit(context.Background(), a.ID, "bidder-2", commitment.Compute(90, []byte("s2")))

	f.clk.Advance(commitWindow + time.Second)
	_ = f.mgr.Reveal(context.Background(), a.ID, "bidder-1", 60, []byte("s1"))
	_ = f.mgr.Reveal(context.Background(), a.ID, "bidder-2", 90, []byte("s2"))

	f.clk.Advance(revealWindow + time.Second)

	winner, highest, err := f.mgr.Finalize(context.Background(), a.ID, "auctioneer")
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if winner != "bidder-2" || highest != 90 {
		t.Errorf("Finalize() = (%q, %d), want (bidder-2, 90)", winner, highest)
	}

	snapshot := f.repo.auctions[a.ID]
	if snapshot.Status != "finalized" {
		t.Errorf("snapshot status = %q, want finalized", snapshot.Status)
	}
	if snapshot.WinnerID == nil || *snapshot.WinnerID != "bidder-2" {
		t.Errorf("snapshot winner = %v, want bidder-2", snapshot.WinnerID)
	}
}

func TestManager_ClaimRefund_ReleasesEscrow(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)
	f.esc.register("bidder-2", 200)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)
	_ = f.mgr.Commit(context.Background(), a.ID, "bidder-1", commitment.Compute(60, []byte("s1")))
	_ = f.mgr.Commit(context.Background(), a.ID, "bidder-2", commitment.Compute(90, []byte("s2")))

	f.clk.Advance(commitWindow + time.Second)
	_ = f.mgr.Reveal(context.Background(), a.ID, "bidder-1", 60, []byte("s1"))
	_ = f.mgr.Reveal(context.Background(), a.ID, "bidder-2", 90, []byte("s2"))

	f.clk.Advance(revealWindow + time.Second)
	if _, _, err := f.mgr.Finalize(context.Background(), a.ID, "auctioneer"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	amount, err := f.mgr.ClaimRefund(context.Background(), a.ID, "bidder-1")
	if err != nil {
		t.Fatalf("ClaimRefund() error = %v", err)
	}
	if amount != 60 {
		t.Errorf("refund = %d, want 60", amount)
	}
	if balance := f.esc.accounts["bidder-1"].Balance; balance != 200 {
		t.Errorf("balance after refund = %d, want 200", balance)
	}

	// The winner's 90 stays held for the auctioneer.
	if balance := f.esc.accounts["bidder-2"].Balance; balance != 110 {
		t.Errorf("winner balance = %d, want 110", balance)
	}
}

func TestManager_Withdraw_ReleasesProceeds(t *testing.T) {
	f := newFixture()
	f.esc.register("auctioneer", 0)
	f.esc.register("bidder-1", 200)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)
	_ = f.mgr.Commit(context.Background(), a.ID, "bidder-1", commitment.Compute(90, []byte("s1")))

	f.clk.Advance(commitWindow + time.Second)
	_ = f.mgr.Reveal(context.Background(), a.ID, "bidder-1", 90, []byte("s1"))

	f.clk.Advance(revealWindow + time.Second)
	if _, _, err := f.mgr.Finalize(context.Background(), a.ID, "auctioneer"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	amount, err := f.mgr.Withdraw(context.Background(), a.ID, "auctioneer")
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if amount != 90 {
		t.Errorf("withdraw = %d, want 90", amount)
	}
	if balance := f.esc.accounts["auctioneer"].Balance; balance != 90 {
		t.Errorf("auctioneer balance = %d, want 90", balance)
	}
}

func TestManager_Withdraw_NoWinnerSkipsEscrow(t *testing.T) {
	f := newFixture()
	f.esc.register("auctioneer", 0)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)

	f.clk.Advance(commitWindow + revealWindow + time.Second)
	if _, _, err := f.mgr.Finalize(context.Background(), a.ID, "auctioneer"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	amount, err := f.mgr.Withdraw(context.Background(), a.ID, "auctioneer")
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if amount != 0 {
		t.Errorf("withdraw = %d, want 0", amount)
	}
	if len(f.esc.releases) != 0 {
		t.Errorf("releases = %v, want none", f.esc.releases)
	}
}

func TestManager_ReplayAuction(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)

	a, _ := f.mgr.StartAuction(context.Background(), "Helm", "auctioneer", commitWindow, revealWindow)
	_ = f.mgr.Commit(context.Background(), a.ID, "bidder-1", commitment.Compute(60, []byte("s1")))

	replayed, err := f.mgr.ReplayAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("ReplayAuction() error = %v", err)
	}
	if replayed.Item != "Helm" {
		t.Errorf("Item = %q, want %q", replayed.Item, "Helm")
	}
	if !replayed.HasCommitted("bidder-1") {
		t.Error("replayed auction missing commitment")
	}
}

func TestManager_RecoverOpenAuctions(t *testing.T) {
	f := newFixture()
	f.esc.register("bidder-1", 200)

	open, _ := f.mgr.StartAuction(context.Background(), "Open Item", "auctioneer", commitWindow, revealWindow)
	_ = f.mgr.Commit(context.Background(), open.ID, "bidder-1", commitment.Compute(60, []byte("s1")))

	f.clk.Advance(time.Millisecond) // distinct auction ID
	done, _ := f.mgr.StartAuction(context.Background(), "Done Item", "auctioneer", commitWindow, revealWindow)
	f.clk.Advance(commitWindow + revealWindow + time.Second)
	if _, _, err := f.mgr.Finalize(context.Background(), done.ID, "auctioneer"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	// A fresh manager over the same event store simulates leader failover.
	mgr2 := auction.NewManager(f.es, f.repo, f.esc, slog.Default(), testTP, f.clk)
	n, err := mgr2.RecoverOpenAuctions(context.Background())
	if err != nil {
		t.Fatalf("RecoverOpenAuctions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	recovered, err := mgr2.Get(open.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !recovered.HasCommitted("bidder-1") {
		t.Error("recovered auction lost its commitment")
	}
	if _, err := mgr2.Get(done.ID); err == nil {
		t.Error("finalized auction should not be recovered")
	}
}
