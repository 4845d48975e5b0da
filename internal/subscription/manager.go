package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/gagliardetto/solana-go"
)

const (
	DefaultUnsubscribeRetries    = 2
	DefaultUnsubscribeRetryDelay = 2 * time.Second
)

// Target is anything that can be torn down by Teardown.
type Target interface {
	Label() string
	Unsubscribe(ctx context.Context) error
}

// Manager maps each subscribed address to its live channel.
type Manager struct {
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
	open       func(ctx context.Context, cfg Config, address solana.PublicKey, handler Handler, logger *slog.Logger) (*Channel, error)
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	channels map[solana.PublicKey]*Channel
}

type Option func(*Manager)

func WithRetry(retries int, delay time.Duration) Option {
	return func(m *Manager) {
		if retries >= 0 {
			m.retries = retries
		}
		if delay >= 0 {
			m.retryDelay = delay
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		retries:    DefaultUnsubscribeRetries,
		retryDelay: DefaultUnsubscribeRetryDelay,
		logger:     logging.Discard(),
		open:       Open,
		sleep:      sleepContext,
		channels:   make(map[solana.PublicKey]*Channel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe opens a channel for address. It reports false without dialing
// when the address already has a live channel.
func (m *Manager) Subscribe(ctx context.Context, cfg Config, address solana.PublicKey, handler Handler) (bool, error) {
	if m.IsSubscribed(address) {
		return false, nil
	}

	ch, err := m.open(ctx, cfg, address, handler, m.logger)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if existing, ok := m.channels[address]; ok {
		m.mu.Unlock()
		_ = ch.Close(ctx)
		m.logger.Debug("duplicate subscription discarded", "address", address, "existing", existing.subscriptionID)
		return false, nil
	}
	m.channels[address] = ch
	m.mu.Unlock()

	go m.watch(address, ch)
	m.logger.Info("account subscribed", "address", address, "subscription", ch.subscriptionID)
	return true, nil
}

func (m *Manager) watch(address solana.PublicKey, ch *Channel) {
	<-ch.Done()

	m.mu.Lock()
	if m.channels[address] == ch {
		delete(m.channels, address)
	}
	m.mu.Unlock()

	if err := ch.Err(); err != nil {
		m.logger.Warn("account subscription dropped", "address", address, "err", err)
	}
}

func (m *Manager) IsSubscribed(address solana.PublicKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[address]
	return ok
}

// Unsubscribe closes the channel for address in a single attempt.
// Unsubscribing an address without a channel is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, address solana.PublicKey) error {
	m.mu.Lock()
	ch, ok := m.channels[address]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := ch.Close(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.channels[address] == ch {
		delete(m.channels, address)
	}
	m.mu.Unlock()
	return nil
}

// Teardown unsubscribes every target concurrently. Each target retries on its
// own schedule and failures are reported per label, never escalated.
func (m *Manager) Teardown(ctx context.Context, targets []Target) map[string]error {
	type result struct {
		label string
		err   error
	}

	results := make(map[string]error, len(targets))
	if len(targets) == 0 {
		return results
	}

	ch := make(chan result, len(targets))
	for _, target := range targets {
		target := target
		go func() {
			ch <- result{label: target.Label(), err: m.unsubscribeWithRetry(ctx, target)}
		}()
	}

	for range targets {
		res := <-ch
		results[res.label] = res.err
		if res.err != nil {
			m.logger.Error("account unsubscribe failed", "label", res.label, "err", res.err)
		}
	}
	return results
}

func (m *Manager) unsubscribeWithRetry(ctx context.Context, target Target) error {
	var err error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err = target.Unsubscribe(ctx); err == nil {
			return nil
		}
		m.logger.Warn("account unsubscribe attempt failed",
			"label", target.Label(),
			"attempt", attempt+1,
			"err", err,
		)
		if attempt == m.retries {
			break
		}
		if sleepErr := m.sleep(ctx, m.retryDelay); sleepErr != nil {
			break
		}
	}
	return fmt.Errorf("unsubscribe %s: %w", target.Label(), err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
