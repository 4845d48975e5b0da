package journal

import (
	"context"
	"os"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "no placeholders",
			query: "SELECT 1",
			want:  "SELECT 1",
		},
		{
			name:  "sequential",
			query: "INSERT INTO t (a, b, c) VALUES (?, ?, ?)",
			want:  "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		},
		{
			name:  "quoted question mark kept",
			query: "SELECT '?' FROM t WHERE a = ?",
			want:  "SELECT '?' FROM t WHERE a = $1",
		},
		{
			name:  "escaped quote inside literal",
			query: "SELECT 'it''s ?' WHERE a = ? AND b = ?",
			want:  "SELECT 'it''s ?' WHERE a = $1 AND b = $2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rebindPostgresPlaceholders(tt.query); got != tt.want {
				t.Fatalf("rebind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodePayload(t *testing.T) {
	snap := Snapshot{
		Label:   "TradeHistory",
		Address: solana.SystemProgramID,
		Metric:  decimal.NewFromInt(7),
		Payload: map[string]uint64{"head": 7},
	}
	raw, err := encodePayload(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw != `{"head":7}` {
		t.Fatalf("payload = %s", raw)
	}

	snap.Payload = nil
	raw, err = encodePayload(snap)
	if err != nil || raw != "{}" {
		t.Fatalf("nil payload = %q, %v", raw, err)
	}

	snap.Label = " "
	if _, err := encodePayload(snap); err == nil {
		t.Fatal("expected missing label to fail")
	}
}

func TestNormalizePagination(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, defaultPageLimit, 0},
		{10, 5, 10, 5},
		{maxPageLimit + 1, -3, maxPageLimit, 0},
	}
	for _, tt := range tests {
		limit, offset := normalizePagination(tt.limit, tt.offset)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Fatalf("normalize(%d, %d) = (%d, %d), want (%d, %d)",
				tt.limit, tt.offset, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

// openTestStore connects to JOURNAL_TEST_DSN and skips when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("JOURNAL_TEST_DSN")
	if dsn == "" {
		t.Skip("JOURNAL_TEST_DSN not set")
	}
	store, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordKeepsHistoryAndLatestHead(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	address := solana.NewWallet().PublicKey()

	for _, head := range []int64{3, 4} {
		if err := store.Record(ctx, Snapshot{
			Label:   "TradeHistory",
			Address: address,
			Metric:  decimal.NewFromInt(head),
			Payload: map[string]int64{"head": head},
		}); err != nil {
			t.Fatalf("record head %d: %v", head, err)
		}
	}

	latest, err := store.Latest(ctx, address)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.RunID != store.RunID() || !latest.Metric.Equal(decimal.NewFromInt(4)) || latest.RawJSON != `{"head":4}` {
		t.Fatalf("latest = %+v", latest)
	}

	missing, err := store.Latest(ctx, solana.NewWallet().PublicKey())
	if err != nil || missing != nil {
		t.Fatalf("unknown address = %+v, %v", missing, err)
	}

	records, limit, offset, err := store.ListSnapshots(ctx, SnapshotFilter{
		Address: address.String(),
		RunID:   store.RunID().String(),
	})
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if limit != defaultPageLimit || offset != 0 || len(records) != 2 {
		t.Fatalf("list = %d records, limit %d, offset %d", len(records), limit, offset)
	}
	if !records[0].Metric.Equal(decimal.NewFromInt(4)) || !records[1].Metric.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("records = %+v", records)
	}

	heads, err := store.ListHeads(ctx, "TradeHistory")
	if err != nil {
		t.Fatalf("list heads: %v", err)
	}
	found := 0
	for _, head := range heads {
		if head.Address.Equals(address) {
			found++
			if !head.Metric.Equal(decimal.NewFromInt(4)) {
				t.Fatalf("head metric = %s", head.Metric)
			}
		}
	}
	if found != 1 {
		t.Fatalf("address appears %d times in heads", found)
	}
}
