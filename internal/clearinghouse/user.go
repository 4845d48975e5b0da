package clearinghouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/coldbell/clearinghouse/internal/cache"
	"github.com/coldbell/clearinghouse/internal/instruction"
	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/pda"
	"github.com/coldbell/clearinghouse/internal/reader"
	"github.com/gagliardetto/solana-go"
)

// Submitter sends instructions as one transaction paid for and signed by Wallet.
type Submitter interface {
	Wallet() solana.PublicKey
	Submit(ctx context.Context, signers []solana.PrivateKey, instructions ...solana.Instruction) (solana.Signature, error)
}

// User acts on the clearing house on behalf of the submitter's wallet.
type User struct {
	programID solana.PublicKey
	accounts  *Accounts
	reader    *reader.Reader
	submitter Submitter
	logger    *slog.Logger

	address solana.PublicKey
	nonce   uint8
	account *cache.Handle[accounts.User]
}

func NewUser(
	programID solana.PublicKey,
	tracked *Accounts,
	rd *reader.Reader,
	subs Subscriptions,
	submitter Submitter,
	logger *slog.Logger,
) (*User, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	address, nonce, err := pda.DeriveUserPDA(programID, submitter.Wallet())
	if err != nil {
		return nil, fmt.Errorf("derive user account: %w", err)
	}
	return &User{
		programID: programID,
		accounts:  tracked,
		reader:    rd,
		submitter: submitter,
		logger:    logger.With("user", address.String()),
		address:   address,
		nonce:     nonce,
		account:   cache.New("User", address, accounts.DecodeUser, rd, subs, logger),
	}, nil
}

// Address is the user account derived from the wallet.
func (u *User) Address() solana.PublicKey { return u.address }

func (u *User) Accounts() *Accounts { return u.accounts }

// UserAccount returns the user account, reading it when force is set or nothing is cached.
func (u *User) UserAccount(ctx context.Context, force bool) (*accounts.User, error) {
	return u.account.Get(ctx, force)
}

// AccountHandle exposes the user account cache for subscriptions.
func (u *User) AccountHandle() *cache.Handle[accounts.User] { return u.account }

// Positions reads the positions account referenced by the user account.
func (u *User) Positions(ctx context.Context) (*accounts.UserPositions, error) {
	user, err := u.account.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	return reader.Decoded(ctx, u.reader, user.Positions, accounts.DecodeUserPositions)
}

// InitializeUserAccount creates the user account and its positions account.
func (u *User) InitializeUserAccount(ctx context.Context) (solana.Signature, solana.PublicKey, error) {
	positions, initIx, err := u.initializeUserInstruction(ctx)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}
	sig, err := u.submitter.Submit(ctx, []solana.PrivateKey{positions}, initIx)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}
	u.logger.Info("user account initialized", "positions", positions.PublicKey(), "signature", sig)
	return sig, u.address, nil
}

// InitializeUserAccountAndDepositCollateral creates the user account and funds
// it in a single transaction, so neither takes effect without the other.
func (u *User) InitializeUserAccountAndDepositCollateral(
	ctx context.Context,
	amount uint64,
	collateralAccount solana.PublicKey,
) (solana.Signature, solana.PublicKey, error) {
	positions, initIx, err := u.initializeUserInstruction(ctx)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}
	positionsAddress := positions.PublicKey()
	depositIx, err := u.depositCollateralInstruction(ctx, amount, collateralAccount, &positionsAddress)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}

	sig, err := u.submitter.Submit(ctx, []solana.PrivateKey{positions}, initIx, depositIx)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}
	u.logger.Info("user account initialized and funded",
		"positions", positionsAddress,
		"amount", amount,
		"signature", sig,
	)
	return sig, u.address, nil
}

// DeleteUser closes the user and positions accounts. The user account is
// re-read first so the positions address is current.
func (u *User) DeleteUser(ctx context.Context) (solana.Signature, error) {
	user, err := u.account.Get(ctx, true)
	if err != nil {
		return solana.Signature{}, err
	}
	ix := instruction.DeleteUser(u.programID, u.address, user.Positions, u.submitter.Wallet())
	sig, err := u.submitter.Submit(ctx, nil, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	u.logger.Info("user account deleted", "signature", sig)
	return sig, nil
}

func (u *User) DepositCollateral(ctx context.Context, amount uint64, collateralAccount solana.PublicKey) (solana.Signature, error) {
	ix, err := u.depositCollateralInstruction(ctx, amount, collateralAccount, nil)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := u.submitter.Submit(ctx, nil, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	u.logger.Info("collateral deposited", "amount", amount, "signature", sig)
	return sig, nil
}

func (u *User) WithdrawCollateral(ctx context.Context, amount uint64, collateralAccount solana.PublicKey) (solana.Signature, error) {
	user, err := u.account.Get(ctx, false)
	if err != nil {
		return solana.Signature{}, err
	}
	state, err := u.accounts.State.Get(ctx, false)
	if err != nil {
		return solana.Signature{}, err
	}

	ix, err := instruction.WithdrawCollateral(u.programID, instruction.WithdrawCollateralAccounts{
		State:                    u.accounts.State.Address(),
		User:                     u.address,
		Authority:                u.submitter.Wallet(),
		CollateralVault:          state.CollateralVault,
		CollateralVaultAuthority: state.CollateralVaultAuthority,
		InsuranceVault:           state.InsuranceVault,
		InsuranceVaultAuthority:  state.InsuranceVaultAuthority,
		UserCollateralAccount:    collateralAccount,
		Markets:                  state.Markets,
		UserPositions:            user.Positions,
		FundingPaymentHistory:    state.FundingPaymentHistory,
		DepositHistory:           state.DepositHistory,
	}, amount)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := u.submitter.Submit(ctx, nil, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	u.logger.Info("collateral withdrawn", "amount", amount, "signature", sig)
	return sig, nil
}

func (u *User) OpenPosition(ctx context.Context, args instruction.OpenPositionArgs, opts instruction.ManagePositionOptions) (solana.Signature, error) {
	positionAccounts, err := u.managePositionAccounts(ctx, args.MarketIndex)
	if err != nil {
		return solana.Signature{}, err
	}
	ix, err := instruction.OpenPosition(u.programID, positionAccounts, args, opts)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := u.submitter.Submit(ctx, nil, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	u.logger.Info("position opened",
		"market_index", args.MarketIndex,
		"direction", args.Direction.String(),
		"quote_amount", args.QuoteAssetAmount,
		"signature", sig,
	)
	return sig, nil
}

func (u *User) ClosePosition(ctx context.Context, marketIndex uint64, opts instruction.ManagePositionOptions) (solana.Signature, error) {
	positionAccounts, err := u.managePositionAccounts(ctx, marketIndex)
	if err != nil {
		return solana.Signature{}, err
	}
	ix, err := instruction.ClosePosition(u.programID, positionAccounts, marketIndex, opts)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := u.submitter.Submit(ctx, nil, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	u.logger.Info("position closed", "market_index", marketIndex, "signature", sig)
	return sig, nil
}

func (u *User) initializeUserInstruction(ctx context.Context) (solana.PrivateKey, solana.Instruction, error) {
	state, err := u.accounts.State.Get(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	positions, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate positions keypair: %w", err)
	}

	wallet := u.submitter.Wallet()
	accts := instruction.InitializeUserAccounts{
		User:          u.address,
		State:         u.accounts.State.Address(),
		UserPositions: positions.PublicKey(),
		Authority:     wallet,
	}
	if !state.WhitelistMint.IsZero() {
		token, _, err := solana.FindAssociatedTokenAddress(wallet, state.WhitelistMint)
		if err != nil {
			return nil, nil, fmt.Errorf("derive whitelist token account: %w", err)
		}
		accts.WhitelistToken = &token
	}

	ix, err := instruction.InitializeUser(u.programID, accts, u.nonce)
	if err != nil {
		return nil, nil, err
	}
	return positions, ix, nil
}

// depositCollateralInstruction uses positions when given, otherwise the
// positions account of the cached user account.
func (u *User) depositCollateralInstruction(
	ctx context.Context,
	amount uint64,
	collateralAccount solana.PublicKey,
	positions *solana.PublicKey,
) (solana.Instruction, error) {
	state, err := u.accounts.State.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		user, err := u.account.Get(ctx, false)
		if err != nil {
			return nil, err
		}
		positions = &user.Positions
	}

	return instruction.DepositCollateral(u.programID, instruction.DepositCollateralAccounts{
		State:                 u.accounts.State.Address(),
		User:                  u.address,
		Authority:             u.submitter.Wallet(),
		CollateralVault:       state.CollateralVault,
		UserCollateralAccount: collateralAccount,
		Markets:               u.accounts.Markets.Address(),
		UserPositions:         *positions,
		FundingPaymentHistory: state.FundingPaymentHistory,
		DepositHistory:        state.DepositHistory,
	}, amount)
}

func (u *User) managePositionAccounts(ctx context.Context, marketIndex uint64) (instruction.ManagePositionAccounts, error) {
	if err := accounts.CheckMarketIndex(marketIndex); err != nil {
		return instruction.ManagePositionAccounts{}, err
	}
	user, err := u.account.Get(ctx, false)
	if err != nil {
		return instruction.ManagePositionAccounts{}, err
	}
	markets, err := u.accounts.Markets.Get(ctx, false)
	if err != nil {
		return instruction.ManagePositionAccounts{}, err
	}
	market, err := markets.Market(marketIndex)
	if err != nil {
		return instruction.ManagePositionAccounts{}, err
	}
	state, err := u.accounts.State.Get(ctx, false)
	if err != nil {
		return instruction.ManagePositionAccounts{}, err
	}

	return instruction.ManagePositionAccounts{
		State:                 u.accounts.State.Address(),
		User:                  u.address,
		Authority:             u.submitter.Wallet(),
		Markets:               state.Markets,
		UserPositions:         user.Positions,
		TradeHistory:          state.TradeHistory,
		FundingPaymentHistory: state.FundingPaymentHistory,
		FundingRateHistory:    state.FundingRateHistory,
		Oracle:                market.AMM.Oracle,
	}, nil
}
