package instruction

import (
	"github.com/coldbell/clearinghouse/internal/accounts"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type InitializeAccounts struct {
	Admin                    solana.PublicKey
	State                    solana.PublicKey
	CollateralMint           solana.PublicKey
	CollateralVault          solana.PublicKey
	CollateralVaultAuthority solana.PublicKey
	InsuranceVault           solana.PublicKey
	InsuranceVaultAuthority  solana.PublicKey
	Markets                  solana.PublicKey
}

type InitializeArgs struct {
	StateNonce           uint8
	CollateralVaultNonce uint8
	InsuranceVaultNonce  uint8
	AdminControlsPrices  bool
}

func Initialize(programID solana.PublicKey, accts InitializeAccounts, args InitializeArgs) (solana.Instruction, error) {
	w := newArgWriter(initializeDisc)
	w.u8(args.StateNonce)
	w.u8(args.CollateralVaultNonce)
	w.u8(args.InsuranceVaultNonce)
	w.bool(args.AdminControlsPrices)
	data, err := w.bytes("initialize")
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Admin, true, true),
		solana.NewAccountMeta(accts.State, true, false),
		solana.NewAccountMeta(accts.CollateralMint, false, false),
		solana.NewAccountMeta(accts.CollateralVault, true, false),
		solana.NewAccountMeta(accts.CollateralVaultAuthority, false, false),
		solana.NewAccountMeta(accts.InsuranceVault, true, false),
		solana.NewAccountMeta(accts.InsuranceVaultAuthority, false, false),
		solana.NewAccountMeta(accts.Markets, true, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

type InitializeHistoryAccounts struct {
	Admin                 solana.PublicKey
	State                 solana.PublicKey
	FundingPaymentHistory solana.PublicKey
	TradeHistory          solana.PublicKey
	LiquidationHistory    solana.PublicKey
	DepositHistory        solana.PublicKey
	FundingRateHistory    solana.PublicKey
	CurveHistory          solana.PublicKey
}

func InitializeHistory(programID solana.PublicKey, accts InitializeHistoryAccounts) solana.Instruction {
	data := make([]byte, len(initializeHistoryDisc))
	copy(data, initializeHistoryDisc[:])

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Admin, true, true),
		solana.NewAccountMeta(accts.State, true, false),
		solana.NewAccountMeta(accts.FundingPaymentHistory, true, false),
		solana.NewAccountMeta(accts.TradeHistory, true, false),
		solana.NewAccountMeta(accts.LiquidationHistory, true, false),
		solana.NewAccountMeta(accts.DepositHistory, true, false),
		solana.NewAccountMeta(accts.FundingRateHistory, true, false),
		solana.NewAccountMeta(accts.CurveHistory, true, false),
	}
	return solana.NewInstruction(programID, metas, data)
}

type InitializeMarketAccounts struct {
	Admin   solana.PublicKey
	State   solana.PublicKey
	Markets solana.PublicKey
	Oracle  solana.PublicKey
}

type InitializeMarketArgs struct {
	MarketIndex       uint64
	BaseAssetReserve  bin.Uint128
	QuoteAssetReserve bin.Uint128
	Periodicity       int64
	PegMultiplier     bin.Uint128
}

func InitializeMarket(programID solana.PublicKey, accts InitializeMarketAccounts, args InitializeMarketArgs) (solana.Instruction, error) {
	if err := accounts.CheckMarketIndex(args.MarketIndex); err != nil {
		return nil, err
	}

	w := newArgWriter(initializeMarketDisc)
	w.u64(args.MarketIndex)
	w.u128(args.BaseAssetReserve)
	w.u128(args.QuoteAssetReserve)
	w.i64(args.Periodicity)
	w.u128(args.PegMultiplier)
	data, err := w.bytes("initialize_market")
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Admin, false, true),
		solana.NewAccountMeta(accts.State, false, false),
		solana.NewAccountMeta(accts.Markets, true, false),
		solana.NewAccountMeta(accts.Oracle, false, false),
	}
	return solana.NewInstruction(programID, metas, data), nil
}
