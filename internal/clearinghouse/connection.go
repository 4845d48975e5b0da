package clearinghouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldbell/clearinghouse/internal/composer"
	"github.com/coldbell/clearinghouse/internal/config"
	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/pda"
	"github.com/coldbell/clearinghouse/internal/reader"
	"github.com/coldbell/clearinghouse/internal/subscription"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Connection holds the endpoint handles shared by every façade of one process.
type Connection struct {
	cfg    config.ClientConfig
	logger *slog.Logger

	ProgramID     solana.PublicKey
	StateAddress  solana.PublicKey
	RPC           *rpc.Client
	Reader        *reader.Reader
	Subscriptions *subscription.Manager
	Push          subscription.Config
}

func Connect(cfg config.ClientConfig, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	stateAddress := cfg.StatePubkey
	if stateAddress.IsZero() {
		derived, _, err := pda.DeriveStatePDA(cfg.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("derive state address: %w", err)
		}
		stateAddress = derived
	}

	rpcClient := rpc.New(cfg.RPCURL)
	return &Connection{
		cfg:          cfg,
		logger:       logger,
		ProgramID:    cfg.ProgramID,
		StateAddress: stateAddress,
		RPC:          rpcClient,
		Reader: reader.New(rpcClient,
			reader.WithCommitment(cfg.Commitment),
			reader.WithOwner(cfg.ProgramID),
			reader.WithRetry(cfg.ReadAttempts, cfg.ReadRetryDelay),
			reader.WithLogger(logger),
		),
		Subscriptions: subscription.NewManager(
			subscription.WithRetry(cfg.UnsubscribeRetries, cfg.UnsubscribeRetryDelay),
			subscription.WithLogger(logger),
		),
		Push: subscription.Config{
			Endpoint:   cfg.WSURL,
			Commitment: cfg.Commitment,
		},
	}, nil
}

// LoadWallet reads the configured solana-keygen keypair file.
func (c *Connection) LoadWallet() (solana.PrivateKey, error) {
	wallet, err := solana.PrivateKeyFromSolanaKeygenFile(c.cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", c.cfg.KeypairPath, err)
	}
	return wallet, nil
}

func (c *Connection) Composer(wallet solana.PrivateKey) *composer.Composer {
	return composer.New(c.RPC, wallet,
		composer.WithCommitment(c.cfg.Commitment),
		composer.WithPreflight(c.cfg.SkipPreflight, c.cfg.MaxRetries),
		composer.WithComputeBudget(c.cfg.ComputeUnitLimit, c.cfg.ComputeUnitPriceMicroLamports),
		composer.WithConfirmation(c.cfg.WaitForConfirmation, c.cfg.TxTimeout),
		composer.WithLogger(c.logger),
	)
}

func (c *Connection) Accounts(ctx context.Context) (*Accounts, error) {
	return NewAccounts(ctx, c.Reader, c.Subscriptions, c.Push, c.StateAddress, c.logger)
}

func (c *Connection) User(ctx context.Context, wallet solana.PrivateKey) (*User, error) {
	tracked, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	return NewUser(c.ProgramID, tracked, c.Reader, c.Subscriptions, c.Composer(wallet), c.logger)
}

func (c *Connection) Admin(wallet solana.PrivateKey) *Admin {
	return NewAdmin(c.ProgramID, c.Reader, c.Composer(wallet), c.RPC, c.logger)
}
