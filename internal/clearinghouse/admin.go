package clearinghouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/coldbell/clearinghouse/internal/instruction"
	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/pda"
	"github.com/coldbell/clearinghouse/internal/reader"
	"github.com/coldbell/clearinghouse/internal/sdkerr"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RentReader reports the lamports an account of a given size needs to be rent exempt.
type RentReader interface {
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
}

// Admin initializes the program and its markets.
type Admin struct {
	programID  solana.PublicKey
	reader     *reader.Reader
	submitter  Submitter
	rent       RentReader
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

func NewAdmin(programID solana.PublicKey, rd *reader.Reader, submitter Submitter, rent RentReader, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Admin{
		programID:  programID,
		reader:     rd,
		submitter:  submitter,
		rent:       rent,
		commitment: rd.Commitment(),
		logger:     logger,
	}
}

// Initialized holds the signatures and accounts produced by InitializeClearingHouse.
type Initialized struct {
	InitializeSignature        solana.Signature
	InitializeHistorySignature solana.Signature

	State                    solana.PublicKey
	CollateralVault          solana.PublicKey
	CollateralVaultAuthority solana.PublicKey
	InsuranceVault           solana.PublicKey
	InsuranceVaultAuthority  solana.PublicKey
	Markets                  solana.PublicKey
	FundingRateHistory       solana.PublicKey
	FundingPaymentHistory    solana.PublicKey
	TradeHistory             solana.PublicKey
	LiquidationHistory       solana.PublicKey
	DepositHistory           solana.PublicKey
	CurveHistory             solana.PublicKey
}

type sizedAccount struct {
	key  solana.PrivateKey
	size uint64
}

// InitializeClearingHouse creates the state, markets and history accounts in
// two transactions. Each account is created in the same transaction as the
// instruction that initializes it. It fails with sdkerr.ErrAlreadyInitialized
// when the state account exists.
func (a *Admin) InitializeClearingHouse(ctx context.Context, collateralMint solana.PublicKey, adminControlsPrices bool) (*Initialized, error) {
	state, stateNonce, err := pda.DeriveStatePDA(a.programID)
	if err != nil {
		return nil, err
	}
	exists, err := a.reader.Exists(ctx, state)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerr.New(sdkerr.ErrAlreadyInitialized, "initialize clearing house", "State",
			fmt.Errorf("state account %s exists", state))
	}

	collateralVault, collateralVaultNonce, err := pda.DeriveCollateralVaultPDA(a.programID)
	if err != nil {
		return nil, err
	}
	collateralVaultAuthority, _, err := pda.DeriveCollateralVaultAuthorityPDA(a.programID, collateralVault)
	if err != nil {
		return nil, err
	}
	insuranceVault, insuranceVaultNonce, err := pda.DeriveInsuranceVaultPDA(a.programID)
	if err != nil {
		return nil, err
	}
	insuranceVaultAuthority, _, err := pda.DeriveInsuranceVaultAuthorityPDA(a.programID, insuranceVault)
	if err != nil {
		return nil, err
	}

	keys, err := newKeypairs(7)
	if err != nil {
		return nil, err
	}
	markets := keys[0]
	fundingRateHistory := keys[1]
	fundingPaymentHistory := keys[2]
	tradeHistory := keys[3]
	liquidationHistory := keys[4]
	depositHistory := keys[5]
	curveHistory := keys[6]

	out := &Initialized{
		State:                    state,
		CollateralVault:          collateralVault,
		CollateralVaultAuthority: collateralVaultAuthority,
		InsuranceVault:           insuranceVault,
		InsuranceVaultAuthority:  insuranceVaultAuthority,
		Markets:                  markets.PublicKey(),
		FundingRateHistory:       fundingRateHistory.PublicKey(),
		FundingPaymentHistory:    fundingPaymentHistory.PublicKey(),
		TradeHistory:             tradeHistory.PublicKey(),
		LiquidationHistory:       liquidationHistory.PublicKey(),
		DepositHistory:           depositHistory.PublicKey(),
		CurveHistory:             curveHistory.PublicKey(),
	}

	createMarkets, err := a.createAccountInstruction(ctx, markets.PublicKey(), accounts.MarketsSize)
	if err != nil {
		return nil, err
	}
	initializeIx, err := instruction.Initialize(a.programID, instruction.InitializeAccounts{
		Admin:                    a.submitter.Wallet(),
		State:                    state,
		CollateralMint:           collateralMint,
		CollateralVault:          collateralVault,
		CollateralVaultAuthority: collateralVaultAuthority,
		InsuranceVault:           insuranceVault,
		InsuranceVaultAuthority:  insuranceVaultAuthority,
		Markets:                  markets.PublicKey(),
	}, instruction.InitializeArgs{
		StateNonce:           stateNonce,
		CollateralVaultNonce: collateralVaultNonce,
		InsuranceVaultNonce:  insuranceVaultNonce,
		AdminControlsPrices:  adminControlsPrices,
	})
	if err != nil {
		return nil, err
	}

	out.InitializeSignature, err = a.submitter.Submit(ctx, []solana.PrivateKey{markets}, createMarkets, initializeIx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("clearing house initialized",
		"state", state,
		"markets", out.Markets,
		"signature", out.InitializeSignature,
	)

	histories := []sizedAccount{
		{key: fundingRateHistory, size: accounts.FundingRateHistorySize},
		{key: fundingPaymentHistory, size: accounts.FundingPaymentHistorySize},
		{key: tradeHistory, size: accounts.TradeHistorySize},
		{key: liquidationHistory, size: accounts.LiquidationHistorySize},
		{key: depositHistory, size: accounts.DepositHistorySize},
		{key: curveHistory, size: accounts.CurveHistorySize},
	}
	instructions := make([]solana.Instruction, 0, len(histories)+1)
	signers := make([]solana.PrivateKey, 0, len(histories))
	for _, history := range histories {
		ix, err := a.createAccountInstruction(ctx, history.key.PublicKey(), history.size)
		if err != nil {
			return out, err
		}
		instructions = append(instructions, ix)
		signers = append(signers, history.key)
	}
	instructions = append(instructions, instruction.InitializeHistory(a.programID, instruction.InitializeHistoryAccounts{
		Admin:                 a.submitter.Wallet(),
		State:                 state,
		FundingPaymentHistory: out.FundingPaymentHistory,
		TradeHistory:          out.TradeHistory,
		LiquidationHistory:    out.LiquidationHistory,
		DepositHistory:        out.DepositHistory,
		FundingRateHistory:    out.FundingRateHistory,
		CurveHistory:          out.CurveHistory,
	}))

	out.InitializeHistorySignature, err = a.submitter.Submit(ctx, signers, instructions...)
	if err != nil {
		return out, fmt.Errorf("initialize history: %w", err)
	}
	a.logger.Info("clearing house history initialized", "signature", out.InitializeHistorySignature)
	return out, nil
}

type InitializeMarketParams struct {
	MarketIndex       uint64
	Oracle            solana.PublicKey
	BaseAssetReserve  uint64
	QuoteAssetReserve uint64
	Periodicity       int64
	PegMultiplier     uint64
}

// InitializeMarket initializes one market slot. The state and markets
// accounts are read fresh; an initialized slot fails with sdkerr.ErrAlreadyInitialized.
func (a *Admin) InitializeMarket(ctx context.Context, params InitializeMarketParams) (solana.Signature, error) {
	if err := accounts.CheckMarketIndex(params.MarketIndex); err != nil {
		return solana.Signature{}, err
	}

	stateAddress, _, err := pda.DeriveStatePDA(a.programID)
	if err != nil {
		return solana.Signature{}, err
	}
	state, err := reader.Decoded(ctx, a.reader, stateAddress, accounts.DecodeState)
	if err != nil {
		return solana.Signature{}, err
	}
	markets, err := reader.Decoded(ctx, a.reader, state.Markets, accounts.DecodeMarkets)
	if err != nil {
		return solana.Signature{}, err
	}
	market, err := markets.Market(params.MarketIndex)
	if err != nil {
		return solana.Signature{}, err
	}
	if market.Initialized {
		return solana.Signature{}, sdkerr.New(sdkerr.ErrAlreadyInitialized, "initialize market",
			fmt.Sprintf("Markets[%d]", params.MarketIndex), nil)
	}

	ix, err := instruction.InitializeMarket(a.programID, instruction.InitializeMarketAccounts{
		Admin:   a.submitter.Wallet(),
		State:   stateAddress,
		Markets: state.Markets,
		Oracle:  params.Oracle,
	}, instruction.InitializeMarketArgs{
		MarketIndex:       params.MarketIndex,
		BaseAssetReserve:  instruction.U128(params.BaseAssetReserve),
		QuoteAssetReserve: instruction.U128(params.QuoteAssetReserve),
		Periodicity:       params.Periodicity,
		PegMultiplier:     instruction.U128(params.PegMultiplier),
	})
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := a.submitter.Submit(ctx, nil, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("market initialized",
		"market_index", params.MarketIndex,
		"oracle", params.Oracle,
		"signature", sig,
	)
	return sig, nil
}

func (a *Admin) createAccountInstruction(ctx context.Context, account solana.PublicKey, size uint64) (solana.Instruction, error) {
	lamports, err := a.rent.GetMinimumBalanceForRentExemption(ctx, size, a.commitment)
	if err != nil {
		return nil, sdkerr.New(sdkerr.ErrTransport, "get rent exemption", fmt.Sprintf("%d bytes", size), err)
	}
	return instruction.CreateAccount(a.submitter.Wallet(), account, a.programID, size, lamports)
}

func newKeypairs(n int) ([]solana.PrivateKey, error) {
	out := make([]solana.PrivateKey, n)
	for i := range out {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate keypair: %w", err)
		}
		out[i] = key
	}
	return out, nil
}
