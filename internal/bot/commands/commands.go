package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/auction"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/commitment"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/config"
	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/escrow"
)

// Handlers process Discord interactions. The interacting Discord user ID is
// the caller identity for every auction operation.
type Handlers struct {
	escrowMgr  *escrow.Manager
	auctionMgr *auction.Manager
	adminIDs   []string
	defaults   config.AuctionConfig
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(escrowMgr *escrow.Manager, auctionMgr *auction.Manager, adminIDs []string, defaults config.AuctionConfig, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		escrowMgr:  escrowMgr,
		auctionMgr: auctionMgr,
		adminIDs:   adminIDs,
		defaults:   defaults,
		logger:     logger,
		tracer:     tp.Tracer("github.com/jensholdgaard/discord-sealed-bid-bot/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "register",
			Description: "Register an escrow account for sealed-bid auctions",
		},
		{
			Name:        "balance",
			Description: "Check your escrowed balance",
		},
		{
			Name:        "standings",
			Description: "List all accounts and their escrowed balances",
		},
		{
			Name:        "deposit",
			Description: "Credit escrow to a bidder (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "bidder",
					Description: "The bidder to credit",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Amount to credit",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for the deposit",
					Required:    true,
				},
			},
		},
		{
			Name:        "auction-start",
			Description: "Start a sealed-bid auction",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item",
					Description: "Item to auction",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "commit-minutes",
					Description: "Commit phase length in minutes",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "reveal-minutes",
					Description: "Reveal phase length in minutes",
					Required:    false,
				},
			},
		},
		{
			Name:        "commit",
			Description: "Submit your sealed commitment (use sealtool to generate it)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "commitment",
					Description: "Hex-encoded commitment hash",
					Required:    true,
				},
			},
		},
		{
			Name:        "reveal",
			Description: "Reveal your bid amount and secret",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Bid amount committed to",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "secret",
					Description: "Secret used when generating the commitment",
					Required:    true,
				},
			},
		},
		{
			Name:        "finalize",
			Description: "Finalize an auction after the reveal deadline",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID",
					Required:    true,
				},
			},
		},
		{
			Name:        "refund",
			Description: "Claim back your losing bid after finalization",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID",
					Required:    true,
				},
			},
		},
		{
			Name:        "withdraw",
			Description: "Collect the winning amount (auctioneer only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID",
					Required:    true,
				},
			},
		},
		{
			Name:        "auction-status",
			Description: "Show an auction's phase, deadlines and outcome",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "auction-id",
					Description: "Auction ID",
					Required:    true,
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", i.ApplicationCommandData().Name)),
	)
	defer span.End()

	switch i.ApplicationCommandData().Name {
	case "register":
		h.handleRegister(ctx, s, i)
	case "balance":
		h.handleBalance(ctx, s, i)
	case "standings":
		h.handleStandings(ctx, s, i)
	case "deposit":
		h.handleDeposit(ctx, s, i)
	case "auction-start":
		h.handleAuctionStart(ctx, s, i)
	case "commit":
		h.handleCommit(ctx, s, i)
	case "reveal":
		h.handleReveal(ctx, s, i)
	case "finalize":
		h.handleFinalize(ctx, s, i)
	case "refund":
		h.handleRefund(ctx, s, i)
	case "withdraw":
		h.handleWithdraw(ctx, s, i)
	case "auction-status":
		h.handleAuctionStatus(ctx, s, i)
	default:
		respond(s, i, "Unknown command")
	}
}

func (h *Handlers) handleRegister(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := i.Member.User

	a, err := h.escrowMgr.RegisterBidder(ctx, user.ID, user.Username)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to register: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Registered **%s** (balance: %d)", a.DisplayName, a.Balance))
}

func (h *Handlers) handleBalance(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	a, err := h.escrowMgr.GetAccount(ctx, i.Member.User.ID)
	if err != nil {
		respond(s, i, "You are not registered. Use `/register` first.")
		return
	}
	respond(s, i, fmt.Sprintf("**%s** escrowed balance: **%d**", a.DisplayName, a.Balance))
}

func (h *Handlers) handleStandings(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	accounts, err := h.escrowMgr.ListAccounts(ctx)
	if err != nil {
		respond(s, i, fmt.Sprintf("Error listing accounts: %s", err))
		return
	}
	if len(accounts) == 0 {
		respond(s, i, "No accounts registered yet.")
		return
	}
	msg := "**Escrow standings:**\n"
	for idx, a := range accounts {
		msg += fmt.Sprintf("%d. %s: %d\n", idx+1, a.DisplayName, a.Balance)
	}
	respond(s, i, msg)
}

func (h *Handlers) handleDeposit(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !slices.Contains(h.adminIDs, i.Member.User.ID) {
		respond(s, i, "Only admins can credit deposits.")
		return
	}

	opts := i.ApplicationCommandData().Options
	targetUser := opts[0].UserValue(s)
	amount := opts[1].IntValue()
	reason := opts[2].StringValue()

	if amount <= 0 {
		respond(s, i, "Deposit amount must be positive.")
		return
	}

	target, err := h.escrowMgr.GetAccount(ctx, targetUser.ID)
	if err != nil {
		respond(s, i, "Target bidder is not registered.")
		return
	}

	if err := h.escrowMgr.Deposit(ctx, target.ID, uint64(amount), reason); err != nil {
		respond(s, i, fmt.Sprintf("Failed to deposit: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Credited **%d** to **%s** for: %s", amount, target.DisplayName, reason))
}

func (h *Handlers) handleAuctionStart(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	item := opts[0].StringValue()

	commitDur := h.defaults.DefaultCommitDuration
	revealDur := h.defaults.DefaultRevealDuration

	for _, opt := range opts[1:] {
		switch opt.Name {
		case "commit-minutes":
			commitDur = time.Duration(opt.IntValue()) * time.Minute
		case "reveal-minutes":
			revealDur = time.Duration(opt.IntValue()) * time.Minute
		}
	}

	a, err := h.auctionMgr.StartAuction(ctx, item, i.Member.User.ID, commitDur, revealDur)
	if err != nil {
		respond(s, i, fmt.Sprintf("Failed to start auction: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf(
		"Sealed-bid auction started for **%s** (ID: `%s`)\nCommit until <t:%d>, reveal until <t:%d>.",
		item, a.ID, a.CommitDeadline().Unix(), a.RevealDeadline().Unix(),
	))
}

func (h *Handlers) handleCommit(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	auctionID := opts[0].StringValue()

	c, err := commitment.Parse(opts[1].StringValue())
	if err != nil {
		respond(s, i, fmt.Sprintf("Invalid commitment: %s", err))
		return
	}

	if err := h.auctionMgr.Commit(ctx, auctionID, i.Member.User.ID, c); err != nil {
		respond(s, i, fmt.Sprintf("Commit failed: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Commitment recorded on auction `%s`. Reveal it with `/reveal` once the commit phase ends.", auctionID))
}

func (h *Handlers) handleReveal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	auctionID := opts[0].StringValue()
	amount := opts[1].IntValue()
	secret := opts[2].StringValue()

	if amount < 0 {
		respond(s, i, "Bid amount cannot be negative.")
		return
	}

	if err := h.auctionMgr.Reveal(ctx, auctionID, i.Member.User.ID, uint64(amount), []byte(secret)); err != nil {
		respond(s, i, fmt.Sprintf("Reveal failed: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Bid of **%d** revealed on auction `%s`; the amount is now held in escrow.", amount, auctionID))
}

func (h *Handlers) handleFinalize(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctionID := i.ApplicationCommandData().Options[0].StringValue()

	winner, highest, err := h.auctionMgr.Finalize(ctx, auctionID, i.Member.User.ID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Finalize failed: %s", err))
		return
	}
	if winner == "" {
		respond(s, i, fmt.Sprintf("Auction `%s` finalized with no revealed bids.", auctionID))
		return
	}
	respond(s, i, fmt.Sprintf("Auction `%s` finalized! Winner: <@%s> with **%d**.", auctionID, winner, highest))
}

func (h *Handlers) handleRefund(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctionID := i.ApplicationCommandData().Options[0].StringValue()

	amount, err := h.auctionMgr.ClaimRefund(ctx, auctionID, i.Member.User.ID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Refund failed: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Refunded **%d** from auction `%s` back to your escrow.", amount, auctionID))
}

func (h *Handlers) handleWithdraw(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctionID := i.ApplicationCommandData().Options[0].StringValue()

	amount, err := h.auctionMgr.Withdraw(ctx, auctionID, i.Member.User.ID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Withdraw failed: %s", err))
		return
	}
	respond(s, i, fmt.Sprintf("Withdrew **%d** from auction `%s`.", amount, auctionID))
}

func (h *Handlers) handleAuctionStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	auctionID := i.ApplicationCommandData().Options[0].StringValue()

	a, err := h.auctionMgr.Get(auctionID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Status failed: %s", err))
		return
	}

	msg := fmt.Sprintf("**%s** (`%s`)\nCommit deadline: <t:%d>\nReveal deadline: <t:%d>\nBidders: %d\n",
		a.Item, a.ID, a.CommitDeadline().Unix(), a.RevealDeadline().Unix(), len(a.Bidders()))
	if a.Finalized() {
		if w := a.Winner(); w != "" {
			msg += fmt.Sprintf("Finalized: winner <@%s> with **%d**.", w, a.HighestBid())
		} else {
			msg += "Finalized: no revealed bids."
		}
	} else {
		msg += "Not yet finalized."
	}
	respond(s, i, msg)
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
