package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/coldbell/clearinghouse/internal/clearinghouse"
	"github.com/coldbell/clearinghouse/internal/config"
	"github.com/coldbell/clearinghouse/internal/journal"
	"github.com/gagliardetto/solana-go"
)

const (
	teardownTimeout            = 15 * time.Second
	defaultResubscribeInterval = 5 * time.Second
)

// Journal stores decoded account pushes.
type Journal interface {
	Record(ctx context.Context, snap journal.Snapshot) error
	Close() error
}

type Service struct {
	cfg     config.WatcherConfig
	conn    *clearinghouse.Connection
	journal Journal
	logger  *slog.Logger
}

func New(cfg config.WatcherConfig, logger *slog.Logger) (*Service, error) {
	conn, err := clearinghouse.Connect(cfg.Client, logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	svc := &Service{cfg: cfg, conn: conn, logger: logger}
	if cfg.JournalEnabled {
		store, err := journal.NewStore(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		logger.Info("journal enabled", "run_id", store.RunID().String())
		svc.journal = store
	}
	return svc, nil
}

// Run subscribes the selected accounts and blocks until ctx is done, then
// tears every subscription down.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if s.journal == nil {
			return
		}
		if err := s.journal.Close(); err != nil {
			s.logger.Error("failed to close journal", "err", err)
		}
	}()

	labels, err := selectLabels(s.cfg.Accounts)
	if err != nil {
		return err
	}

	tracked, err := s.conn.Accounts(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("watcher started",
		"rpc", s.cfg.Client.RPCURL,
		"ws", s.cfg.Client.WSURL,
		"commitment", s.cfg.Client.Commitment,
		"state", s.conn.StateAddress,
		"accounts", labels,
	)
	return s.watch(ctx, tracked, labels)
}

// trackedAccounts is the part of *clearinghouse.Accounts the watcher drives.
type trackedAccounts interface {
	Addresses() map[string]solana.PublicKey
	IsSubscribed(label string) bool
	Subscribe(ctx context.Context, consumer clearinghouse.Consumer) error
	Unsubscribe(ctx context.Context) map[string]error
}

type backoff struct {
	delay time.Duration
	next  time.Time
}

// watch subscribes labels, then resubscribes any that drop until ctx is done.
func (s *Service) watch(ctx context.Context, tracked trackedAccounts, labels []string) error {
	addresses := tracked.Addresses()
	consumers := make(map[string]clearinghouse.Consumer, len(labels))
	for _, label := range labels {
		consumer, err := s.consumer(ctx, label, addresses[label])
		if err != nil {
			s.teardown(tracked)
			return err
		}
		if err := tracked.Subscribe(ctx, consumer); err != nil {
			s.teardown(tracked)
			return fmt.Errorf("subscribe %s: %w", label, err)
		}
		consumers[label] = consumer
		s.logger.Info("account subscribed", "label", label, "address", addresses[label])
	}

	interval := s.cfg.ResubscribeInterval
	if interval <= 0 {
		interval = defaultResubscribeInterval
	}
	maxBackoff := max(s.cfg.ResubscribeMaxBackoff, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	retries := make(map[string]*backoff)
	for {
		select {
		case <-ctx.Done():
			s.teardown(tracked)
			s.logger.Info("watcher stopped")
			return nil
		case now := <-ticker.C:
			for _, label := range labels {
				if tracked.IsSubscribed(label) {
					delete(retries, label)
					continue
				}
				retry := retries[label]
				if retry != nil && now.Before(retry.next) {
					continue
				}
				if err := tracked.Subscribe(ctx, consumers[label]); err != nil {
					if ctx.Err() != nil {
						break
					}
					delay := interval
					if retry != nil {
						delay = min(2*retry.delay, maxBackoff)
					}
					retries[label] = &backoff{delay: delay, next: now.Add(delay)}
					s.logger.Warn("account resubscribe failed", "label", label, "retry_in", delay, "err", err)
					continue
				}
				delete(retries, label)
				s.logger.Info("account resubscribed", "label", label, "address", addresses[label])
			}
		}
	}
}

func (s *Service) teardown(tracked trackedAccounts) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	for label, err := range tracked.Unsubscribe(ctx) {
		if err != nil {
			s.logger.Warn("account teardown failed", "label", label, "err", err)
		}
	}
}

// consumer builds the typed push consumer for label.
func (s *Service) consumer(ctx context.Context, label string, address solana.PublicKey) (clearinghouse.Consumer, error) {
	history := func(head accounts.HistoryHead) {
		s.observe(ctx, historySnapshot(label, address, head))
	}

	switch label {
	case clearinghouse.LabelState:
		return clearinghouse.StateConsumer(func(state *accounts.State) {
			s.observe(ctx, stateSnapshot(address, state))
		}), nil
	case clearinghouse.LabelMarkets:
		return clearinghouse.MarketsConsumer(func(markets *accounts.Markets) {
			s.observe(ctx, marketsSnapshot(address, markets))
		}), nil
	case clearinghouse.LabelTradeHistory:
		return clearinghouse.TradeHistoryConsumer(func(h *accounts.TradeHistory) { history(h.HistoryHead) }), nil
	case clearinghouse.LabelDepositHistory:
		return clearinghouse.DepositHistoryConsumer(func(h *accounts.DepositHistory) { history(h.HistoryHead) }), nil
	case clearinghouse.LabelFundingPaymentHistory:
		return clearinghouse.FundingPaymentHistoryConsumer(func(h *accounts.FundingPaymentHistory) { history(h.HistoryHead) }), nil
	case clearinghouse.LabelFundingRateHistory:
		return clearinghouse.FundingRateHistoryConsumer(func(h *accounts.FundingRateHistory) { history(h.HistoryHead) }), nil
	case clearinghouse.LabelCurveHistory:
		return clearinghouse.CurveHistoryConsumer(func(h *accounts.CurveHistory) { history(h.HistoryHead) }), nil
	case clearinghouse.LabelLiquidationHistory:
		return clearinghouse.LiquidationHistoryConsumer(func(h *accounts.LiquidationHistory) { history(h.HistoryHead) }), nil
	default:
		return nil, fmt.Errorf("no consumer for account %q", label)
	}
}

func (s *Service) observe(ctx context.Context, snap journal.Snapshot) {
	s.logger.Info("account updated",
		"label", snap.Label,
		"address", snap.Address,
		"metric", snap.Metric.String(),
	)
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, snap); err != nil {
		s.logger.Error("failed to journal account update", "label", snap.Label, "err", err)
	}
}
