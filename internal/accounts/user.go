package accounts

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MaxUserPositions is the number of position slots in a UserPositions account.
const MaxUserPositions = 5

var (
	UserDiscriminator          = accountDiscriminator("User")
	UserPositionsDiscriminator = accountDiscriminator("UserPositions")
)

type User struct {
	Authority            solana.PublicKey
	Collateral           bin.Uint128
	CumulativeDeposits   bin.Int128
	TotalFeePaid         bin.Uint128
	TotalTokenDiscount   bin.Uint128
	TotalReferralReward  bin.Uint128
	TotalRefereeDiscount bin.Uint128
	Positions            solana.PublicKey
}

func (*User) Discriminator() [8]byte { return UserDiscriminator }

func (u *User) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &fieldReader{dec: dec}
	r.pubkey(&u.Authority)
	r.u128(&u.Collateral)
	r.i128(&u.CumulativeDeposits)
	r.u128(&u.TotalFeePaid)
	r.u128(&u.TotalTokenDiscount)
	r.u128(&u.TotalReferralReward)
	r.u128(&u.TotalRefereeDiscount)
	r.pubkey(&u.Positions)
	return r.err
}

func (u *User) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &fieldWriter{enc: enc}
	w.pubkey(u.Authority)
	w.u128(u.Collateral)
	w.i128(u.CumulativeDeposits)
	w.u128(u.TotalFeePaid)
	w.u128(u.TotalTokenDiscount)
	w.u128(u.TotalReferralReward)
	w.u128(u.TotalRefereeDiscount)
	w.pubkey(u.Positions)
	return w.err
}

// CollateralAmount scales the raw collateral balance by the mint decimals.
func (u *User) CollateralAmount(mintDecimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(u.Collateral.BigInt(), -mintDecimals)
}

func (u *User) CumulativeDepositsAmount(mintDecimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(u.CumulativeDeposits.BigInt(), -mintDecimals)
}

type MarketPosition struct {
	MarketIndex               uint64
	BaseAssetAmount           bin.Int128
	QuoteAssetAmount          bin.Uint128
	LastCumulativeFundingRate bin.Int128
}

// IsOpen reports whether the slot holds a non-zero base position.
func (p MarketPosition) IsOpen() bool {
	return p.BaseAssetAmount.Lo != 0 || p.BaseAssetAmount.Hi != 0
}

type UserPositions struct {
	User      solana.PublicKey
	Positions [MaxUserPositions]MarketPosition
}

func (*UserPositions) Discriminator() [8]byte { return UserPositionsDiscriminator }

func (p *UserPositions) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &fieldReader{dec: dec}
	r.pubkey(&p.User)
	for i := range p.Positions {
		position := &p.Positions[i]
		r.u64(&position.MarketIndex)
		r.i128(&position.BaseAssetAmount)
		r.u128(&position.QuoteAssetAmount)
		r.i128(&position.LastCumulativeFundingRate)
		if r.err != nil {
			return fmt.Errorf("position %d: %w", i, r.err)
		}
	}
	return r.err
}

func (p *UserPositions) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &fieldWriter{enc: enc}
	w.pubkey(p.User)
	for _, position := range p.Positions {
		w.u64(position.MarketIndex)
		w.i128(position.BaseAssetAmount)
		w.u128(position.QuoteAssetAmount)
		w.i128(position.LastCumulativeFundingRate)
	}
	return w.err
}

// Open returns the positions with a non-zero base amount.
func (p *UserPositions) Open() []MarketPosition {
	out := make([]MarketPosition, 0, len(p.Positions))
	for _, position := range p.Positions {
		if position.IsOpen() {
			out = append(out, position)
		}
	}
	return out
}

func DecodeUser(data []byte) (*User, error) {
	return Decode[User](data)
}

func DecodeUserPositions(data []byte) (*UserPositions, error) {
	return Decode[UserPositions](data)
}
