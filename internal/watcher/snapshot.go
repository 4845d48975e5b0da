package watcher

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/coldbell/clearinghouse/internal/clearinghouse"
	"github.com/coldbell/clearinghouse/internal/journal"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// labelsByName maps the WATCHER_ACCOUNTS names onto tracked account labels.
var labelsByName = map[string]string{
	"state":                   clearinghouse.LabelState,
	"markets":                 clearinghouse.LabelMarkets,
	"trade_history":           clearinghouse.LabelTradeHistory,
	"deposit_history":         clearinghouse.LabelDepositHistory,
	"funding_payment_history": clearinghouse.LabelFundingPaymentHistory,
	"funding_rate_history":    clearinghouse.LabelFundingRateHistory,
	"curve_history":           clearinghouse.LabelCurveHistory,
	"liquidation_history":     clearinghouse.LabelLiquidationHistory,
}

// selectLabels resolves configured names to labels. No names selects every tracked account.
func selectLabels(names []string) ([]string, error) {
	if len(names) == 0 {
		out := make([]string, 0, len(labelsByName))
		for _, label := range labelsByName {
			out = append(out, label)
		}
		sort.Strings(out)
		return out, nil
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		label, ok := labelsByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown watcher account %q", name)
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out, nil
}

type stateSummary struct {
	Admin               string `json:"admin"`
	ExchangePaused      bool   `json:"exchange_paused"`
	FundingPaused       bool   `json:"funding_paused"`
	AdminControlsPrices bool   `json:"admin_controls_prices"`
	CollateralMint      string `json:"collateral_mint"`
	Markets             string `json:"markets"`
}

func stateSnapshot(address solana.PublicKey, state *accounts.State) journal.Snapshot {
	return journal.Snapshot{
		Label:   clearinghouse.LabelState,
		Address: address,
		Metric:  decimal.Zero,
		Payload: stateSummary{
			Admin:               state.Admin.String(),
			ExchangePaused:      state.ExchangePaused,
			FundingPaused:       state.FundingPaused,
			AdminControlsPrices: state.AdminControlsPrices,
			CollateralMint:      state.CollateralMint.String(),
			Markets:             state.Markets.String(),
		},
	}
}

type marketSummary struct {
	Index             uint64 `json:"index"`
	Oracle            string `json:"oracle"`
	BaseAssetReserve  string `json:"base_asset_reserve"`
	QuoteAssetReserve string `json:"quote_asset_reserve"`
	PegMultiplier     string `json:"peg_multiplier"`
	OpenInterest      string `json:"open_interest"`
}

// marketsSnapshot journals the initialized slots only; the metric is their count.
func marketsSnapshot(address solana.PublicKey, markets *accounts.Markets) journal.Snapshot {
	initialized := make([]marketSummary, 0)
	for i, market := range markets.Markets {
		if !market.Initialized {
			continue
		}
		initialized = append(initialized, marketSummary{
			Index:             uint64(i),
			Oracle:            market.AMM.Oracle.String(),
			BaseAssetReserve:  decimal.NewFromBigInt(market.AMM.BaseAssetReserve.BigInt(), 0).String(),
			QuoteAssetReserve: decimal.NewFromBigInt(market.AMM.QuoteAssetReserve.BigInt(), 0).String(),
			PegMultiplier:     decimal.NewFromBigInt(market.AMM.PegMultiplier.BigInt(), 0).String(),
			OpenInterest:      decimal.NewFromBigInt(market.OpenInterest.BigInt(), 0).String(),
		})
	}
	return journal.Snapshot{
		Label:   clearinghouse.LabelMarkets,
		Address: address,
		Metric:  decimal.NewFromInt(int64(len(initialized))),
		Payload: initialized,
	}
}

type historySummary struct {
	Head         uint64 `json:"head"`
	NextRecordID uint64 `json:"next_record_id"`
}

func historySnapshot(label string, address solana.PublicKey, head accounts.HistoryHead) journal.Snapshot {
	return journal.Snapshot{
		Label:   label,
		Address: address,
		Metric:  decimal.NewFromBigInt(new(big.Int).SetUint64(head.Head), 0),
		Payload: historySummary{Head: head.Head, NextRecordID: head.NextRecordID()},
	}
}
