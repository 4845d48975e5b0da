package accounts

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var StateDiscriminator = accountDiscriminator("State")

type State struct {
	Admin                    solana.PublicKey
	ExchangePaused           bool
	FundingPaused            bool
	AdminControlsPrices      bool
	CollateralMint           solana.PublicKey
	CollateralVault          solana.PublicKey
	CollateralVaultAuthority solana.PublicKey
	CollateralVaultNonce     uint8
	DepositHistory           solana.PublicKey
	TradeHistory             solana.PublicKey
	FundingPaymentHistory    solana.PublicKey
	FundingRateHistory       solana.PublicKey
	LiquidationHistory       solana.PublicKey
	CurveHistory             solana.PublicKey
	InsuranceVault           solana.PublicKey
	InsuranceVaultAuthority  solana.PublicKey
	InsuranceVaultNonce      uint8
	Markets                  solana.PublicKey
	MarginRatioInitial       bin.Uint128
	MarginRatioMaintenance   bin.Uint128
	MarginRatioPartial       bin.Uint128
	Liquidation              LiquidationParams
	FeeStructure             FeeStructure
	WhitelistMint            solana.PublicKey
	DiscountMint             solana.PublicKey
}

// LiquidationParams holds the partial and full liquidation fractions as
// numerator/denominator pairs.
type LiquidationParams struct {
	PartialClosePercentageNumerator     bin.Uint128
	PartialClosePercentageDenominator   bin.Uint128
	PartialPenaltyPercentageNumerator   bin.Uint128
	PartialPenaltyPercentageDenominator bin.Uint128
	FullPenaltyPercentageNumerator      bin.Uint128
	FullPenaltyPercentageDenominator    bin.Uint128
	PartialLiquidatorShareDenominator   uint64
	FullLiquidatorShareDenominator      uint64
}

type DiscountTokenTier struct {
	MinimumBalance      uint64
	DiscountNumerator   bin.Uint128
	DiscountDenominator bin.Uint128
}

type FeeStructure struct {
	FeeNumerator               bin.Uint128
	FeeDenominator             bin.Uint128
	DiscountTokenTiers         [4]DiscountTokenTier
	ReferrerRewardNumerator    bin.Uint128
	ReferrerRewardDenominator  bin.Uint128
	RefereeDiscountNumerator   bin.Uint128
	RefereeDiscountDenominator bin.Uint128
}

func (*State) Discriminator() [8]byte { return StateDiscriminator }

func (s *State) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &fieldReader{dec: dec}
	r.pubkey(&s.Admin)
	r.bool(&s.ExchangePaused)
	r.bool(&s.FundingPaused)
	r.bool(&s.AdminControlsPrices)
	r.pubkey(&s.CollateralMint)
	r.pubkey(&s.CollateralVault)
	r.pubkey(&s.CollateralVaultAuthority)
	r.u8(&s.CollateralVaultNonce)
	r.pubkey(&s.DepositHistory)
	r.pubkey(&s.TradeHistory)
	r.pubkey(&s.FundingPaymentHistory)
	r.pubkey(&s.FundingRateHistory)
	r.pubkey(&s.LiquidationHistory)
	r.pubkey(&s.CurveHistory)
	r.pubkey(&s.InsuranceVault)
	r.pubkey(&s.InsuranceVaultAuthority)
	r.u8(&s.InsuranceVaultNonce)
	r.pubkey(&s.Markets)
	r.u128(&s.MarginRatioInitial)
	r.u128(&s.MarginRatioMaintenance)
	r.u128(&s.MarginRatioPartial)
	s.Liquidation.read(r)
	s.FeeStructure.read(r)
	r.pubkey(&s.WhitelistMint)
	r.pubkey(&s.DiscountMint)
	return r.err
}

func (s *State) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &fieldWriter{enc: enc}
	w.pubkey(s.Admin)
	w.bool(s.ExchangePaused)
	w.bool(s.FundingPaused)
	w.bool(s.AdminControlsPrices)
	w.pubkey(s.CollateralMint)
	w.pubkey(s.CollateralVault)
	w.pubkey(s.CollateralVaultAuthority)
	w.u8(s.CollateralVaultNonce)
	w.pubkey(s.DepositHistory)
	w.pubkey(s.TradeHistory)
	w.pubkey(s.FundingPaymentHistory)
	w.pubkey(s.FundingRateHistory)
	w.pubkey(s.LiquidationHistory)
	w.pubkey(s.CurveHistory)
	w.pubkey(s.InsuranceVault)
	w.pubkey(s.InsuranceVaultAuthority)
	w.u8(s.InsuranceVaultNonce)
	w.pubkey(s.Markets)
	w.u128(s.MarginRatioInitial)
	w.u128(s.MarginRatioMaintenance)
	w.u128(s.MarginRatioPartial)
	s.Liquidation.write(w)
	s.FeeStructure.write(w)
	w.pubkey(s.WhitelistMint)
	w.pubkey(s.DiscountMint)
	return w.err
}

func (l *LiquidationParams) read(r *fieldReader) {
	r.u128(&l.PartialClosePercentageNumerator)
	r.u128(&l.PartialClosePercentageDenominator)
	r.u128(&l.PartialPenaltyPercentageNumerator)
	r.u128(&l.PartialPenaltyPercentageDenominator)
	r.u128(&l.FullPenaltyPercentageNumerator)
	r.u128(&l.FullPenaltyPercentageDenominator)
	r.u64(&l.PartialLiquidatorShareDenominator)
	r.u64(&l.FullLiquidatorShareDenominator)
}

func (l *LiquidationParams) write(w *fieldWriter) {
	w.u128(l.PartialClosePercentageNumerator)
	w.u128(l.PartialClosePercentageDenominator)
	w.u128(l.PartialPenaltyPercentageNumerator)
	w.u128(l.PartialPenaltyPercentageDenominator)
	w.u128(l.FullPenaltyPercentageNumerator)
	w.u128(l.FullPenaltyPercentageDenominator)
	w.u64(l.PartialLiquidatorShareDenominator)
	w.u64(l.FullLiquidatorShareDenominator)
}

func (f *FeeStructure) read(r *fieldReader) {
	r.u128(&f.FeeNumerator)
	r.u128(&f.FeeDenominator)
	for i := range f.DiscountTokenTiers {
		tier := &f.DiscountTokenTiers[i]
		r.u64(&tier.MinimumBalance)
		r.u128(&tier.DiscountNumerator)
		r.u128(&tier.DiscountDenominator)
	}
	r.u128(&f.ReferrerRewardNumerator)
	r.u128(&f.ReferrerRewardDenominator)
	r.u128(&f.RefereeDiscountNumerator)
	r.u128(&f.RefereeDiscountDenominator)
}

func (f *FeeStructure) write(w *fieldWriter) {
	w.u128(f.FeeNumerator)
	w.u128(f.FeeDenominator)
	for _, tier := range f.DiscountTokenTiers {
		w.u64(tier.MinimumBalance)
		w.u128(tier.DiscountNumerator)
		w.u128(tier.DiscountDenominator)
	}
	w.u128(f.ReferrerRewardNumerator)
	w.u128(f.ReferrerRewardDenominator)
	w.u128(f.RefereeDiscountNumerator)
	w.u128(f.RefereeDiscountDenominator)
}

func DecodeState(data []byte) (*State, error) {
	return Decode[State](data)
}
