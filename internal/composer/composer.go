package composer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/sdkerr"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	defaultTxTimeout     = 30 * time.Second
	confirmationInterval = 700 * time.Millisecond
)

// RPC is the subset of *rpc.Client used to submit transactions.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Composer signs and sends batches of instructions as single transactions.
// The wallet pays fees and always signs first. Nothing is ever resent.
type Composer struct {
	rpc    RPC
	wallet solana.PrivateKey
	logger *slog.Logger

	commitment                    rpc.CommitmentType
	skipPreflight                 bool
	maxRetries                    *uint
	computeUnitLimit              uint32
	computeUnitPriceMicroLamports uint64
	waitForConfirmation           bool
	txTimeout                     time.Duration
	pollInterval                  time.Duration
}

type Option func(*Composer)

func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(c *Composer) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// WithPreflight controls simulation before send and how often the RPC node
// may rebroadcast on its own. A nil maxRetries keeps the node default.
func WithPreflight(skip bool, maxRetries *uint) Option {
	return func(c *Composer) {
		c.skipPreflight = skip
		if maxRetries != nil {
			retries := *maxRetries
			c.maxRetries = &retries
		}
	}
}

// WithComputeBudget prepends compute budget instructions. Zero values are omitted.
func WithComputeBudget(unitLimit uint32, unitPriceMicroLamports uint64) Option {
	return func(c *Composer) {
		c.computeUnitLimit = unitLimit
		c.computeUnitPriceMicroLamports = unitPriceMicroLamports
	}
}

// WithConfirmation makes Submit poll the signature status until it is
// confirmed, fails on chain or timeout elapses.
func WithConfirmation(wait bool, timeout time.Duration) Option {
	return func(c *Composer) {
		c.waitForConfirmation = wait
		if timeout > 0 {
			c.txTimeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(client RPC, wallet solana.PrivateKey, opts ...Option) *Composer {
	c := &Composer{
		rpc:          client,
		wallet:       wallet,
		logger:       logging.Discard(),
		commitment:   rpc.CommitmentConfirmed,
		txTimeout:    defaultTxTimeout,
		pollInterval: confirmationInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composer) Wallet() solana.PublicKey {
	return c.wallet.PublicKey()
}

// Submit sends instructions, in order, as one transaction signed by the wallet
// and signers. A fresh blockhash is fetched for every call. Any failure is
// reported as sdkerr.ErrSubmit; a signature is returned whenever the
// transaction reached the node, even if confirmation later failed.
func (c *Composer) Submit(ctx context.Context, signers []solana.PrivateKey, instructions ...solana.Instruction) (solana.Signature, error) {
	if len(instructions) == 0 {
		return solana.Signature{}, sdkerr.New(sdkerr.ErrSubmit, "submit", "", fmt.Errorf("no instructions"))
	}

	all, err := c.withComputeBudget(instructions)
	if err != nil {
		return solana.Signature{}, sdkerr.New(sdkerr.ErrSubmit, "submit", "", err)
	}

	txCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	signature, err := c.sendTransaction(txCtx, signers, all)
	if err != nil {
		return solana.Signature{}, sdkerr.New(sdkerr.ErrSubmit, "submit", "", err)
	}

	if c.waitForConfirmation {
		if err := c.confirm(txCtx, signature); err != nil {
			return signature, sdkerr.New(sdkerr.ErrSubmit, "confirm", signature.String(), err)
		}
	}

	c.logger.Info("transaction submitted",
		"signature", signature,
		"instructions", len(all),
		"signers", 1+len(signers),
	)
	return signature, nil
}

func (c *Composer) withComputeBudget(instructions []solana.Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(instructions)+2)
	if c.computeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(c.computeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, cuLimitIx)
	}
	if c.computeUnitPriceMicroLamports > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(c.computeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, cuPriceIx)
	}
	return append(out, instructions...), nil
}

func (c *Composer) sendTransaction(ctx context.Context, signers []solana.PrivateKey, instructions []solana.Instruction) (solana.Signature, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: empty result")
	}

	payer := c.wallet.PublicKey()
	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payer.Equals(key) {
			return &c.wallet
		}
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	}
	if c.maxRetries != nil {
		retries := *c.maxRetries
		opts.MaxRetries = &retries
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *Composer) confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
