package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/sdkerr"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 4 * time.Second
)

// AccountFetcher is the slice of *rpc.Client the reader depends on.
type AccountFetcher interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

type Reader struct {
	rpc        AccountFetcher
	commitment rpc.CommitmentType
	owner      solana.PublicKey
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Reader)

func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(r *Reader) { r.commitment = commitment }
}

// WithOwner rejects accounts not owned by the given program.
func WithOwner(programID solana.PublicKey) Option {
	return func(r *Reader) { r.owner = programID }
}

func WithRetry(attempts int, delay time.Duration) Option {
	return func(r *Reader) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(client AccountFetcher, opts ...Option) *Reader {
	r := &Reader{
		rpc:        client,
		commitment: rpc.CommitmentConfirmed,
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
		logger:     logging.Discard(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) Commitment() rpc.CommitmentType { return r.commitment }

// AccountData fetches raw account bytes, retrying transport failures with a
// fixed delay. A missing account is reported immediately as ErrAccountNotFound.
func (r *Reader) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, err := r.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: r.commitment,
		})
		if err == nil && (resp == nil || resp.Value == nil) {
			err = rpc.ErrNotFound
		}
		if err == nil {
			if !r.owner.IsZero() && !resp.Value.Owner.Equals(r.owner) {
				return nil, sdkerr.New(sdkerr.ErrDecode, "get account data", address.String(),
					fmt.Errorf("owner %s, expected %s", resp.Value.Owner, r.owner))
			}
			return resp.Value.Data.GetBinary(), nil
		}
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, sdkerr.New(sdkerr.ErrAccountNotFound, "get account data", address.String(), nil)
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		r.logger.Warn("account read failed",
			"address", address,
			"attempt", attempt,
			"max_attempts", r.attempts,
			"err", err,
		)
		if attempt == r.attempts {
			break
		}
		if sleepErr := r.sleep(ctx, r.retryDelay); sleepErr != nil {
			lastErr = errors.Join(lastErr, sleepErr)
			break
		}
	}
	return nil, sdkerr.New(sdkerr.ErrTransport, "get account data", address.String(), lastErr)
}

// Decoded reads address and decodes it with decode. Decode failures are never retried.
func Decoded[T any](ctx context.Context, r *Reader, address solana.PublicKey, decode func(data []byte) (*T, error)) (*T, error) {
	data, err := r.AccountData(ctx, address)
	if err != nil {
		return nil, err
	}
	value, err := decode(data)
	if err != nil {
		if errors.Is(err, sdkerr.ErrDecode) {
			return nil, err
		}
		return nil, sdkerr.New(sdkerr.ErrDecode, "decode account", address.String(), err)
	}
	return value, nil
}

// Exists reports whether address currently holds an account.
func (r *Reader) Exists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := r.AccountData(ctx, address)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sdkerr.ErrAccountNotFound):
		return false, nil
	default:
		return false, err
	}
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
