package instruction

import (
	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/gagliardetto/solana-go"
)

type InitializeUserAccounts struct {
	User          solana.PublicKey
	State         solana.PublicKey
	UserPositions solana.PublicKey
	Authority     solana.PublicKey
	// WhitelistToken is the authority's token account for the whitelist mint, if one is configured.
	WhitelistToken *solana.PublicKey
}

func InitializeUser(programID solana.PublicKey, accts InitializeUserAccounts, userNonce uint8) (solana.Instruction, error) {
	var optional optionalAccounts
	whitelisted := optional.add(accts.WhitelistToken, false)

	w := newArgWriter(initializeUserDisc)
	w.u8(userNonce)
	w.bool(whitelisted)
	data, err := w.bytes("initialize_user")
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.User, true, false),
		solana.NewAccountMeta(accts.State, false, false),
		solana.NewAccountMeta(accts.UserPositions, true, true),
		solana.NewAccountMeta(accts.Authority, true, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	metas = append(metas, optional.metas...)
	return solana.NewInstruction(programID, metas, data), nil
}

func DeleteUser(programID, user, userPositions, authority solana.PublicKey) solana.Instruction {
	data := make([]byte, len(deleteUserDisc))
	copy(data, deleteUserDisc[:])

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(userPositions, true, false),
		solana.NewAccountMeta(authority, true, true),
	}
	return solana.NewInstruction(programID, metas, data)
}

type DepositCollateralAccounts struct {
	State                 solana.PublicKey
	User                  solana.PublicKey
	Authority             solana.PublicKey
	CollateralVault       solana.PublicKey
	UserCollateralAccount solana.PublicKey
	Markets               solana.PublicKey
	UserPositions         solana.PublicKey
	FundingPaymentHistory solana.PublicKey
	DepositHistory        solana.PublicKey
}

func DepositCollateral(programID solana.PublicKey, accts DepositCollateralAccounts, amount uint64) (solana.Instruction, error) {
	w := newArgWriter(depositCollateralDisc)
	w.u64(amount)
	data, err := w.bytes("deposit_collateral")
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.State, false, false),
		solana.NewAccountMeta(accts.User, true, false),
		solana.NewAccountMeta(accts.Authority, false, true),
		solana.NewAccountMeta(accts.CollateralVault, true, false),
		solana.NewAccountMeta(accts.UserCollateralAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(accts.Markets, false, false),
		solana.NewAccountMeta(accts.UserPositions, true, false),
		solana.NewAccountMeta(accts.FundingPaymentHistory, true, false),
		solana.NewAccountMeta(accts.DepositHistory, true, false),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

type WithdrawCollateralAccounts struct {
	State                    solana.PublicKey
	User                     solana.PublicKey
	Authority                solana.PublicKey
	CollateralVault          solana.PublicKey
	CollateralVaultAuthority solana.PublicKey
	InsuranceVault           solana.PublicKey
	InsuranceVaultAuthority  solana.PublicKey
	UserCollateralAccount    solana.PublicKey
	Markets                  solana.PublicKey
	UserPositions            solana.PublicKey
	FundingPaymentHistory    solana.PublicKey
	DepositHistory           solana.PublicKey
}

func WithdrawCollateral(programID solana.PublicKey, accts WithdrawCollateralAccounts, amount uint64) (solana.Instruction, error) {
	w := newArgWriter(withdrawCollateralDisc)
	w.u64(amount)
	data, err := w.bytes("withdraw_collateral")
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.State, false, false),
		solana.NewAccountMeta(accts.User, true, false),
		solana.NewAccountMeta(accts.Authority, false, true),
		solana.NewAccountMeta(accts.CollateralVault, true, false),
		solana.NewAccountMeta(accts.CollateralVaultAuthority, false, false),
		solana.NewAccountMeta(accts.InsuranceVault, true, false),
		solana.NewAccountMeta(accts.InsuranceVaultAuthority, false, false),
		solana.NewAccountMeta(accts.UserCollateralAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(accts.Markets, false, false),
		solana.NewAccountMeta(accts.UserPositions, true, false),
		solana.NewAccountMeta(accts.FundingPaymentHistory, true, false),
		solana.NewAccountMeta(accts.DepositHistory, true, false),
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// ManagePositionAccounts is shared by open_position and close_position.
type ManagePositionAccounts struct {
	State                 solana.PublicKey
	User                  solana.PublicKey
	Authority             solana.PublicKey
	Markets               solana.PublicKey
	UserPositions         solana.PublicKey
	TradeHistory          solana.PublicKey
	FundingPaymentHistory solana.PublicKey
	FundingRateHistory    solana.PublicKey
	Oracle                solana.PublicKey
}

// ManagePositionOptions carries the optional discount token and referrer.
// A nil field leaves both the account and its flag out.
type ManagePositionOptions struct {
	DiscountToken *solana.PublicKey
	Referrer      *solana.PublicKey
}

func (o ManagePositionOptions) resolve() (discount, referrer bool, metas solana.AccountMetaSlice) {
	var optional optionalAccounts
	discount = optional.add(o.DiscountToken, false)
	referrer = optional.add(o.Referrer, true)
	return discount, referrer, optional.metas
}

func (a ManagePositionAccounts) metas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(a.State, false, false),
		solana.NewAccountMeta(a.User, true, false),
		solana.NewAccountMeta(a.Authority, false, true),
		solana.NewAccountMeta(a.Markets, true, false),
		solana.NewAccountMeta(a.UserPositions, true, false),
		solana.NewAccountMeta(a.TradeHistory, true, false),
		solana.NewAccountMeta(a.FundingPaymentHistory, true, false),
		solana.NewAccountMeta(a.FundingRateHistory, true, false),
		solana.NewAccountMeta(a.Oracle, false, false),
	}
}

type OpenPositionArgs struct {
	Direction        PositionDirection
	QuoteAssetAmount uint64
	MarketIndex      uint64
	// LimitPrice of zero means no limit.
	LimitPrice uint64
}

func OpenPosition(programID solana.PublicKey, accts ManagePositionAccounts, args OpenPositionArgs, opts ManagePositionOptions) (solana.Instruction, error) {
	if err := accounts.CheckMarketIndex(args.MarketIndex); err != nil {
		return nil, err
	}
	discount, referrer, optional := opts.resolve()

	w := newArgWriter(openPositionDisc)
	w.u8(uint8(args.Direction))
	w.u128(U128(args.QuoteAssetAmount))
	w.u64(args.MarketIndex)
	w.u128(U128(args.LimitPrice))
	w.bool(discount)
	w.bool(referrer)
	data, err := w.bytes("open_position")
	if err != nil {
		return nil, err
	}

	metas := append(accts.metas(), optional...)
	return solana.NewInstruction(programID, metas, data), nil
}

func ClosePosition(programID solana.PublicKey, accts ManagePositionAccounts, marketIndex uint64, opts ManagePositionOptions) (solana.Instruction, error) {
	if err := accounts.CheckMarketIndex(marketIndex); err != nil {
		return nil, err
	}
	discount, referrer, optional := opts.resolve()

	w := newArgWriter(closePositionDisc)
	w.u64(marketIndex)
	w.bool(discount)
	w.bool(referrer)
	data, err := w.bytes("close_position")
	if err != nil {
		return nil, err
	}

	metas := append(accts.metas(), optional...)
	return solana.NewInstruction(programID, metas, data), nil
}
