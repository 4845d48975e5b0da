package accounts

import (
	"fmt"

	"github.com/coldbell/clearinghouse/internal/sdkerr"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// MarketSlots is the fixed number of market slots in the Markets account.
	MarketSlots = 64
	// MarketSize is the packed width of one slot.
	MarketSize = 522
)

var MarketsDiscriminator = accountDiscriminator("Markets")

type OracleSource uint8

const (
	OracleSourcePyth OracleSource = iota
	OracleSourceSwitchboard
)

// AMM is the curve state of one market. The reserved tail is carried so a slot
// round-trips at MarketSize.
type AMM struct {
	Oracle                     solana.PublicKey
	OracleSource               OracleSource
	BaseAssetReserve           bin.Uint128
	QuoteAssetReserve          bin.Uint128
	CumulativeRepegRebateLong  bin.Uint128
	CumulativeRepegRebateShort bin.Uint128
	CumulativeFundingRateLong  bin.Int128
	CumulativeFundingRateShort bin.Int128
	LastFundingRate            bin.Int128
	LastFundingRateTs          int64
	FundingPeriod              int64
	LastOraclePriceTwap        bin.Int128
	LastMarkPriceTwap          bin.Uint128
	LastMarkPriceTwapTs        int64
	SqrtK                      bin.Uint128
	PegMultiplier              bin.Uint128
	TotalFee                   bin.Uint128
	TotalFeeMinusDistributions bin.Uint128
	TotalFeeWithdrawn          bin.Uint128
	MinimumQuoteAssetTradeSize bin.Uint128
	LastOraclePriceTwapTs      int64
	LastOraclePrice            bin.Int128
	MinimumBaseAssetTradeSize  bin.Uint128
	padding                    [40]byte
}

type Market struct {
	Initialized          bool
	BaseAssetAmountLong  bin.Int128
	BaseAssetAmountShort bin.Int128
	BaseAssetAmount      bin.Int128
	OpenInterest         bin.Uint128
	AMM                  AMM
	padding              [80]byte
}

type Markets struct {
	Markets [MarketSlots]Market
}

func (*Markets) Discriminator() [8]byte { return MarketsDiscriminator }

func (m *Markets) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &fieldReader{dec: dec}
	for i := range m.Markets {
		market := &m.Markets[i]
		r.bool(&market.Initialized)
		r.i128(&market.BaseAssetAmountLong)
		r.i128(&market.BaseAssetAmountShort)
		r.i128(&market.BaseAssetAmount)
		r.u128(&market.OpenInterest)
		market.AMM.read(r)
		r.bytes(market.padding[:])
		if r.err != nil {
			return fmt.Errorf("market %d: %w", i, r.err)
		}
	}
	return nil
}

func (m *Markets) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &fieldWriter{enc: enc}
	for i := range m.Markets {
		market := &m.Markets[i]
		w.bool(market.Initialized)
		w.i128(market.BaseAssetAmountLong)
		w.i128(market.BaseAssetAmountShort)
		w.i128(market.BaseAssetAmount)
		w.u128(market.OpenInterest)
		market.AMM.write(w)
		w.bytes(market.padding[:])
	}
	return w.err
}

func (a *AMM) read(r *fieldReader) {
	var source uint8
	r.pubkey(&a.Oracle)
	r.u8(&source)
	a.OracleSource = OracleSource(source)
	r.u128(&a.BaseAssetReserve)
	r.u128(&a.QuoteAssetReserve)
	r.u128(&a.CumulativeRepegRebateLong)
	r.u128(&a.CumulativeRepegRebateShort)
	r.i128(&a.CumulativeFundingRateLong)
	r.i128(&a.CumulativeFundingRateShort)
	r.i128(&a.LastFundingRate)
	r.i64(&a.LastFundingRateTs)
	r.i64(&a.FundingPeriod)
	r.i128(&a.LastOraclePriceTwap)
	r.u128(&a.LastMarkPriceTwap)
	r.i64(&a.LastMarkPriceTwapTs)
	r.u128(&a.SqrtK)
	r.u128(&a.PegMultiplier)
	r.u128(&a.TotalFee)
	r.u128(&a.TotalFeeMinusDistributions)
	r.u128(&a.TotalFeeWithdrawn)
	r.u128(&a.MinimumQuoteAssetTradeSize)
	r.i64(&a.LastOraclePriceTwapTs)
	r.i128(&a.LastOraclePrice)
	r.u128(&a.MinimumBaseAssetTradeSize)
	r.bytes(a.padding[:])
}

func (a *AMM) write(w *fieldWriter) {
	w.pubkey(a.Oracle)
	w.u8(uint8(a.OracleSource))
	w.u128(a.BaseAssetReserve)
	w.u128(a.QuoteAssetReserve)
	w.u128(a.CumulativeRepegRebateLong)
	w.u128(a.CumulativeRepegRebateShort)
	w.i128(a.CumulativeFundingRateLong)
	w.i128(a.CumulativeFundingRateShort)
	w.i128(a.LastFundingRate)
	w.i64(a.LastFundingRateTs)
	w.i64(a.FundingPeriod)
	w.i128(a.LastOraclePriceTwap)
	w.u128(a.LastMarkPriceTwap)
	w.i64(a.LastMarkPriceTwapTs)
	w.u128(a.SqrtK)
	w.u128(a.PegMultiplier)
	w.u128(a.TotalFee)
	w.u128(a.TotalFeeMinusDistributions)
	w.u128(a.TotalFeeWithdrawn)
	w.u128(a.MinimumQuoteAssetTradeSize)
	w.i64(a.LastOraclePriceTwapTs)
	w.i128(a.LastOraclePrice)
	w.u128(a.MinimumBaseAssetTradeSize)
	w.bytes(a.padding[:])
}

// Market returns the slot at index, rejecting indexes outside the fixed slot range.
func (m *Markets) Market(index uint64) (*Market, error) {
	if err := CheckMarketIndex(index); err != nil {
		return nil, err
	}
	return &m.Markets[index], nil
}

func CheckMarketIndex(index uint64) error {
	if index >= MarketSlots {
		return sdkerr.New(sdkerr.ErrInvalidMarketIndex, "market index", fmt.Sprint(index),
			fmt.Errorf("must be below %d", MarketSlots))
	}
	return nil
}

func DecodeMarkets(data []byte) (*Markets, error) {
	return Decode[Markets](data)
}
