package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/reader"
	"github.com/coldbell/clearinghouse/internal/subscription"
	"github.com/gagliardetto/solana-go"
)

// Subscriber is the part of *subscription.Manager a handle drives.
type Subscriber interface {
	Subscribe(ctx context.Context, cfg subscription.Config, address solana.PublicKey, handler subscription.Handler) (bool, error)
	Unsubscribe(ctx context.Context, address solana.PublicKey) error
	IsSubscribed(address solana.PublicKey) bool
}

// Handle caches the decoded value of one account. Forced refreshes and
// pushed snapshots write under the same lock, so the last writer wins.
// Returned values are shared and must not be mutated.
type Handle[T any] struct {
	label   string
	address solana.PublicKey
	decode  func(data []byte) (*T, error)
	reader  *reader.Reader
	subs    Subscriber
	logger  *slog.Logger

	mu    sync.RWMutex
	value *T

	subscribeMu sync.Mutex
}

func New[T any](
	label string,
	address solana.PublicKey,
	decode func(data []byte) (*T, error),
	rd *reader.Reader,
	subs Subscriber,
	logger *slog.Logger,
) *Handle[T] {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handle[T]{
		label:   label,
		address: address,
		decode:  decode,
		reader:  rd,
		subs:    subs,
		logger:  logger.With("label", label, "address", address.String()),
	}
}

func (h *Handle[T]) Label() string { return h.label }

func (h *Handle[T]) Address() solana.PublicKey { return h.address }

// Get returns the cached value, reading through the reader when force is set
// or nothing is cached yet. A failed read leaves the cache untouched.
func (h *Handle[T]) Get(ctx context.Context, force bool) (*T, error) {
	if !force {
		if value, ok := h.Peek(); ok {
			return value, nil
		}
	}

	value, err := reader.Decoded(ctx, h.reader, h.address, h.decode)
	if err != nil {
		return nil, err
	}
	h.store(value)
	return value, nil
}

// Peek returns the cached value without any I/O.
func (h *Handle[T]) Peek() (*T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value, h.value != nil
}

func (h *Handle[T]) store(value *T) {
	h.mu.Lock()
	h.value = value
	h.mu.Unlock()
}

// Subscribe opens a push channel for the account unless one is already live.
// Each decoded push replaces the cached value before consumer sees it.
// Pushes that fail to decode are logged and dropped.
func (h *Handle[T]) Subscribe(ctx context.Context, cfg subscription.Config, consumer func(*T)) error {
	h.subscribeMu.Lock()
	defer h.subscribeMu.Unlock()

	if h.subs.IsSubscribed(h.address) {
		return nil
	}

	_, err := h.subs.Subscribe(ctx, cfg, h.address, func(update subscription.Update) {
		value, err := h.decode(update.Data)
		if err != nil {
			h.logger.Warn("dropping undecodable account push", "slot", update.Slot, "err", err)
			return
		}
		h.store(value)
		if consumer != nil {
			consumer(value)
		}
	})
	return err
}

// Unsubscribe closes the push channel. It is a no-op when not subscribed.
func (h *Handle[T]) Unsubscribe(ctx context.Context) error {
	h.subscribeMu.Lock()
	defer h.subscribeMu.Unlock()
	return h.subs.Unsubscribe(ctx, h.address)
}

func (h *Handle[T]) IsSubscribed() bool {
	return h.subs.IsSubscribed(h.address)
}
