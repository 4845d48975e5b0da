package accounts

import (
	bin "github.com/gagliardetto/binary"
)

// Fixed sizes of the accounts the client allocates before the program initializes them.
const (
	MarketsSize               = 33_416
	FundingRateHistorySize    = 114_704
	FundingPaymentHistorySize = 188_432
	TradeHistorySize          = 247_824
	LiquidationHistorySize    = 254_992
	DepositHistorySize        = 132_112
	CurveHistorySize          = 8_720
)

var (
	TradeHistoryDiscriminator          = accountDiscriminator("TradeHistory")
	DepositHistoryDiscriminator        = accountDiscriminator("DepositHistory")
	FundingPaymentHistoryDiscriminator = accountDiscriminator("FundingPaymentHistory")
	FundingRateHistoryDiscriminator    = accountDiscriminator("FundingRateHistory")
	LiquidationHistoryDiscriminator    = accountDiscriminator("LiquidationHistory")
	CurveHistoryDiscriminator          = accountDiscriminator("CurveHistory")
)

// HistoryHead is the ring-buffer cursor shared by all history logs.
// Records past the head are not decoded.
type HistoryHead struct {
	Head uint64
}

// NextRecordID is the id the program assigns to the next appended record.
func (h HistoryHead) NextRecordID() uint64 {
	return h.Head + 1
}

func (h *HistoryHead) UnmarshalWithDecoder(dec *bin.Decoder) error {
	r := &fieldReader{dec: dec}
	r.u64(&h.Head)
	return r.err
}

func (h HistoryHead) MarshalWithEncoder(enc *bin.Encoder) error {
	w := &fieldWriter{enc: enc}
	w.u64(h.Head)
	return w.err
}

type TradeHistory struct{ HistoryHead }

func (*TradeHistory) Discriminator() [8]byte { return TradeHistoryDiscriminator }

type DepositHistory struct{ HistoryHead }

func (*DepositHistory) Discriminator() [8]byte { return DepositHistoryDiscriminator }

type FundingPaymentHistory struct{ HistoryHead }

func (*FundingPaymentHistory) Discriminator() [8]byte { return FundingPaymentHistoryDiscriminator }

type FundingRateHistory struct{ HistoryHead }

func (*FundingRateHistory) Discriminator() [8]byte { return FundingRateHistoryDiscriminator }

type LiquidationHistory struct{ HistoryHead }

func (*LiquidationHistory) Discriminator() [8]byte { return LiquidationHistoryDiscriminator }

type CurveHistory struct{ HistoryHead }

func (*CurveHistory) Discriminator() [8]byte { return CurveHistoryDiscriminator }

func DecodeTradeHistory(data []byte) (*TradeHistory, error) {
	return Decode[TradeHistory](data)
}

func DecodeDepositHistory(data []byte) (*DepositHistory, error) {
	return Decode[DepositHistory](data)
}

func DecodeFundingPaymentHistory(data []byte) (*FundingPaymentHistory, error) {
	return Decode[FundingPaymentHistory](data)
}

func DecodeFundingRateHistory(data []byte) (*FundingRateHistory, error) {
	return Decode[FundingRateHistory](data)
}

func DecodeLiquidationHistory(data []byte) (*LiquidationHistory, error) {
	return Decode[LiquidationHistory](data)
}

func DecodeCurveHistory(data []byte) (*CurveHistory, error) {
	return Decode[CurveHistory](data)
}
