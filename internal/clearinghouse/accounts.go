package clearinghouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/coldbell/clearinghouse/internal/cache"
	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/reader"
	"github.com/coldbell/clearinghouse/internal/subscription"
	"github.com/gagliardetto/solana-go"
)

const (
	LabelState                 = "State"
	LabelMarkets               = "Markets"
	LabelTradeHistory          = "TradeHistory"
	LabelDepositHistory        = "DepositHistory"
	LabelFundingPaymentHistory = "FundingPaymentHistory"
	LabelFundingRateHistory    = "FundingRateHistory"
	LabelCurveHistory          = "CurveHistory"
	LabelLiquidationHistory    = "LiquidationHistory"
)

// Subscriptions opens push channels for handles and tears them down in bulk.
type Subscriptions interface {
	cache.Subscriber
	Teardown(ctx context.Context, targets []subscription.Target) map[string]error
}

// Accounts is the set of program-wide accounts a client tracks. Every handle
// shares one reader and one subscription manager.
type Accounts struct {
	subs   Subscriptions
	push   subscription.Config
	logger *slog.Logger

	State                 *cache.Handle[accounts.State]
	Markets               *cache.Handle[accounts.Markets]
	TradeHistory          *cache.Handle[accounts.TradeHistory]
	DepositHistory        *cache.Handle[accounts.DepositHistory]
	FundingPaymentHistory *cache.Handle[accounts.FundingPaymentHistory]
	FundingRateHistory    *cache.Handle[accounts.FundingRateHistory]
	CurveHistory          *cache.Handle[accounts.CurveHistory]
	LiquidationHistory    *cache.Handle[accounts.LiquidationHistory]
}

// NewAccounts reads the state account once and creates a handle for every
// address it references.
func NewAccounts(
	ctx context.Context,
	rd *reader.Reader,
	subs Subscriptions,
	push subscription.Config,
	stateAddress solana.PublicKey,
	logger *slog.Logger,
) (*Accounts, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	stateHandle := cache.New(LabelState, stateAddress, accounts.DecodeState, rd, subs, logger)
	state, err := stateHandle.Get(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load clearing house state: %w", err)
	}

	return &Accounts{
		subs:   subs,
		push:   push,
		logger: logger,

		State:                 stateHandle,
		Markets:               cache.New(LabelMarkets, state.Markets, accounts.DecodeMarkets, rd, subs, logger),
		TradeHistory:          cache.New(LabelTradeHistory, state.TradeHistory, accounts.DecodeTradeHistory, rd, subs, logger),
		DepositHistory:        cache.New(LabelDepositHistory, state.DepositHistory, accounts.DecodeDepositHistory, rd, subs, logger),
		FundingPaymentHistory: cache.New(LabelFundingPaymentHistory, state.FundingPaymentHistory, accounts.DecodeFundingPaymentHistory, rd, subs, logger),
		FundingRateHistory:    cache.New(LabelFundingRateHistory, state.FundingRateHistory, accounts.DecodeFundingRateHistory, rd, subs, logger),
		CurveHistory:          cache.New(LabelCurveHistory, state.CurveHistory, accounts.DecodeCurveHistory, rd, subs, logger),
		LiquidationHistory:    cache.New(LabelLiquidationHistory, state.LiquidationHistory, accounts.DecodeLiquidationHistory, rd, subs, logger),
	}, nil
}

func (a *Accounts) targets() []subscription.Target {
	return []subscription.Target{
		a.State,
		a.Markets,
		a.CurveHistory,
		a.DepositHistory,
		a.FundingPaymentHistory,
		a.FundingRateHistory,
		a.LiquidationHistory,
		a.TradeHistory,
	}
}

// Addresses maps each tracked label to its account address.
func (a *Accounts) Addresses() map[string]solana.PublicKey {
	return map[string]solana.PublicKey{
		LabelState:                 a.State.Address(),
		LabelMarkets:               a.Markets.Address(),
		LabelTradeHistory:          a.TradeHistory.Address(),
		LabelDepositHistory:        a.DepositHistory.Address(),
		LabelFundingPaymentHistory: a.FundingPaymentHistory.Address(),
		LabelFundingRateHistory:    a.FundingRateHistory.Address(),
		LabelCurveHistory:          a.CurveHistory.Address(),
		LabelLiquidationHistory:    a.LiquidationHistory.Address(),
	}
}

// IsSubscribed reports whether the handle for label has a live channel.
// Unknown labels report false.
func (a *Accounts) IsSubscribed(label string) bool {
	handles := map[string]interface{ IsSubscribed() bool }{
		LabelState:                 a.State,
		LabelMarkets:               a.Markets,
		LabelTradeHistory:          a.TradeHistory,
		LabelDepositHistory:        a.DepositHistory,
		LabelFundingPaymentHistory: a.FundingPaymentHistory,
		LabelFundingRateHistory:    a.FundingRateHistory,
		LabelCurveHistory:          a.CurveHistory,
		LabelLiquidationHistory:    a.LiquidationHistory,
	}
	handle, ok := handles[label]
	return ok && handle.IsSubscribed()
}

// Subscribe routes consumer to the handle of its account type. It is a no-op
// when that handle is already subscribed.
func (a *Accounts) Subscribe(ctx context.Context, consumer Consumer) error {
	if consumer == nil {
		return fmt.Errorf("nil consumer")
	}
	return consumer.subscribe(ctx, a)
}

// Unsubscribe tears down every handle concurrently and reports failures per label.
func (a *Accounts) Unsubscribe(ctx context.Context) map[string]error {
	return a.subs.Teardown(ctx, a.targets())
}

// Consumer is one of the typed push consumers below, one per tracked account type.
type Consumer interface {
	subscribe(ctx context.Context, a *Accounts) error
}

type (
	StateConsumer                 func(*accounts.State)
	MarketsConsumer               func(*accounts.Markets)
	TradeHistoryConsumer          func(*accounts.TradeHistory)
	DepositHistoryConsumer        func(*accounts.DepositHistory)
	FundingPaymentHistoryConsumer func(*accounts.FundingPaymentHistory)
	FundingRateHistoryConsumer    func(*accounts.FundingRateHistory)
	CurveHistoryConsumer          func(*accounts.CurveHistory)
	LiquidationHistoryConsumer    func(*accounts.LiquidationHistory)
)

func (f StateConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.State.Subscribe(ctx, a.push, f)
}

func (f MarketsConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.Markets.Subscribe(ctx, a.push, f)
}

func (f TradeHistoryConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.TradeHistory.Subscribe(ctx, a.push, f)
}

func (f DepositHistoryConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.DepositHistory.Subscribe(ctx, a.push, f)
}

func (f FundingPaymentHistoryConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.FundingPaymentHistory.Subscribe(ctx, a.push, f)
}

func (f FundingRateHistoryConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.FundingRateHistory.Subscribe(ctx, a.push, f)
}

func (f CurveHistoryConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.CurveHistory.Subscribe(ctx, a.push, f)
}

func (f LiquidationHistoryConsumer) subscribe(ctx context.Context, a *Accounts) error {
	return a.LiquidationHistory.Subscribe(ctx, a.push, f)
}
