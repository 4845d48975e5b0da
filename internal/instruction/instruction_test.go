package instruction

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/coldbell/clearinghouse/internal/sdkerr"
	"github.com/gagliardetto/solana-go"
)

var testProgramID = solana.MustPublicKeyFromBase58("dammHkt7jmytvbS3nHTxQNEcP59aE57nxwV21YdqEDN")

func randomKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func positionAccounts() ManagePositionAccounts {
	return ManagePositionAccounts{
		State:                 randomKey(),
		User:                  randomKey(),
		Authority:             randomKey(),
		Markets:               randomKey(),
		UserPositions:         randomKey(),
		TradeHistory:          randomKey(),
		FundingPaymentHistory: randomKey(),
		FundingRateHistory:    randomKey(),
		Oracle:                randomKey(),
	}
}

func mustData(t *testing.T, ix solana.Instruction) []byte {
	t.Helper()
	data, err := ix.Data()
	if err != nil {
		t.Fatalf("instruction data: %v", err)
	}
	return data
}

func TestDiscriminatorMatchesAnchorNamespace(t *testing.T) {
	ix, err := DepositCollateral(testProgramID, DepositCollateralAccounts{}, 1_000_000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	data := mustData(t, ix)

	hash := sha256.Sum256([]byte("global:deposit_collateral"))
	if !bytes.Equal(data[:8], hash[:8]) {
		t.Fatalf("discriminator = %x, want %x", data[:8], hash[:8])
	}
	if got := binary.LittleEndian.Uint64(data[8:]); got != 1_000_000 {
		t.Fatalf("amount = %d", got)
	}
	if len(ix.Accounts()) != 10 {
		t.Fatalf("deposit accounts = %d", len(ix.Accounts()))
	}
}

func TestOpenPositionOptionalAccounts(t *testing.T) {
	referrer := randomKey()
	discount := randomKey()

	tests := []struct {
		name         string
		opts         ManagePositionOptions
		wantDiscount byte
		wantReferrer byte
		wantTail     []solana.PublicKey
	}{
		{name: "none", opts: ManagePositionOptions{}},
		{
			name:         "referrer only",
			opts:         ManagePositionOptions{Referrer: &referrer},
			wantReferrer: 1,
			wantTail:     []solana.PublicKey{referrer},
		},
		{
			name:         "both",
			opts:         ManagePositionOptions{DiscountToken: &discount, Referrer: &referrer},
			wantDiscount: 1,
			wantReferrer: 1,
			wantTail:     []solana.PublicKey{discount, referrer},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			accts := positionAccounts()
			ix, err := OpenPosition(testProgramID, accts, OpenPositionArgs{
				Direction:        Short,
				QuoteAssetAmount: 50_000_000,
				MarketIndex:      3,
			}, tc.opts)
			if err != nil {
				t.Fatalf("open position: %v", err)
			}

			data := mustData(t, ix)
			if len(data) != 8+1+16+8+16+2 {
				t.Fatalf("data length = %d", len(data))
			}
			if data[8] != byte(Short) {
				t.Fatalf("direction = %d", data[8])
			}
			if got := binary.LittleEndian.Uint64(data[25:33]); got != 3 {
				t.Fatalf("market index = %d", got)
			}
			if data[49] != tc.wantDiscount || data[50] != tc.wantReferrer {
				t.Fatalf("flags = %d/%d, want %d/%d", data[49], data[50], tc.wantDiscount, tc.wantReferrer)
			}

			metas := ix.Accounts()
			if len(metas) != 9+len(tc.wantTail) {
				t.Fatalf("accounts = %d", len(metas))
			}
			if !metas[8].PublicKey.Equals(accts.Oracle) {
				t.Fatalf("oracle not in position 8")
			}
			for i, want := range tc.wantTail {
				meta := metas[9+i]
				if !meta.PublicKey.Equals(want) {
					t.Fatalf("remaining account %d = %s", i, meta.PublicKey)
				}
				if meta.IsWritable != want.Equals(referrer) {
					t.Fatalf("remaining account %d writable = %v", i, meta.IsWritable)
				}
			}
		})
	}
}

func TestMarketIndexBounds(t *testing.T) {
	for _, index := range []uint64{0, 63} {
		if _, err := ClosePosition(testProgramID, positionAccounts(), index, ManagePositionOptions{}); err != nil {
			t.Fatalf("index %d rejected: %v", index, err)
		}
	}

	if _, err := ClosePosition(testProgramID, positionAccounts(), 64, ManagePositionOptions{}); !errors.Is(err, sdkerr.ErrInvalidMarketIndex) {
		t.Fatalf("close index 64: expected ErrInvalidMarketIndex, got %v", err)
	}
	if _, err := OpenPosition(testProgramID, positionAccounts(), OpenPositionArgs{MarketIndex: 64}, ManagePositionOptions{}); !errors.Is(err, sdkerr.ErrInvalidMarketIndex) {
		t.Fatalf("open index 64: expected ErrInvalidMarketIndex, got %v", err)
	}
	if _, err := InitializeMarket(testProgramID, InitializeMarketAccounts{}, InitializeMarketArgs{MarketIndex: 64}); !errors.Is(err, sdkerr.ErrInvalidMarketIndex) {
		t.Fatalf("initialize market 64: expected ErrInvalidMarketIndex, got %v", err)
	}
}

func TestInitializeUserWhitelistToken(t *testing.T) {
	token := randomKey()
	base := InitializeUserAccounts{
		User:          randomKey(),
		State:         randomKey(),
		UserPositions: randomKey(),
		Authority:     randomKey(),
	}

	plain, err := InitializeUser(testProgramID, base, 254)
	if err != nil {
		t.Fatalf("initialize user: %v", err)
	}
	data := mustData(t, plain)
	if data[8] != 254 || data[9] != 0 || len(plain.Accounts()) != 6 {
		t.Fatalf("unexpected plain initialize_user: data=%x accounts=%d", data, len(plain.Accounts()))
	}

	whitelisted := base
	whitelisted.WhitelistToken = &token
	ix, err := InitializeUser(testProgramID, whitelisted, 254)
	if err != nil {
		t.Fatalf("initialize user: %v", err)
	}
	data = mustData(t, ix)
	metas := ix.Accounts()
	if data[9] != 1 || len(metas) != 7 || !metas[6].PublicKey.Equals(token) {
		t.Fatalf("whitelist token not carried with its flag")
	}

	positions := metas[2]
	if !positions.IsSigner || !positions.IsWritable {
		t.Fatalf("user positions account must sign")
	}
}

func TestInitializeMarketLayout(t *testing.T) {
	ix, err := InitializeMarket(testProgramID, InitializeMarketAccounts{}, InitializeMarketArgs{
		MarketIndex:       7,
		BaseAssetReserve:  U128(1_000),
		QuoteAssetReserve: U128(2_000),
		Periodicity:       3600,
		PegMultiplier:     U128(1),
	})
	if err != nil {
		t.Fatalf("initialize market: %v", err)
	}
	data := mustData(t, ix)
	if len(data) != 8+8+16+16+8+16 {
		t.Fatalf("data length = %d", len(data))
	}
	if got := binary.LittleEndian.Uint64(data[8:16]); got != 7 {
		t.Fatalf("market index = %d", got)
	}
	if got := binary.LittleEndian.Uint64(data[16:24]); got != 1_000 {
		t.Fatalf("base reserve = %d", got)
	}
	if got := int64(binary.LittleEndian.Uint64(data[48:56])); got != 3600 {
		t.Fatalf("periodicity = %d", got)
	}
}

func TestCreateAccount(t *testing.T) {
	funding := randomKey()
	fresh := randomKey()

	ix, err := CreateAccount(funding, fresh, testProgramID, 8_720, 61_570_560)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if !ix.ProgramID().Equals(solana.SystemProgramID) {
		t.Fatalf("program = %s", ix.ProgramID())
	}
	metas := ix.Accounts()
	if len(metas) != 2 || !metas[0].PublicKey.Equals(funding) || !metas[1].PublicKey.Equals(fresh) {
		t.Fatalf("unexpected accounts")
	}
	if !metas[1].IsSigner {
		t.Fatalf("new account must sign")
	}
}
