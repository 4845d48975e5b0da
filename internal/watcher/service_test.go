package watcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coldbell/clearinghouse/internal/accounts"
	"github.com/coldbell/clearinghouse/internal/clearinghouse"
	"github.com/coldbell/clearinghouse/internal/config"
	"github.com/coldbell/clearinghouse/internal/journal"
	"github.com/coldbell/clearinghouse/internal/logging"
	"github.com/coldbell/clearinghouse/internal/reader"
	"github.com/coldbell/clearinghouse/internal/subscription"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

type recordingJournal struct {
	mu    sync.Mutex
	snaps []journal.Snapshot
	err   error
}

func (j *recordingJournal) Record(_ context.Context, snap journal.Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snaps = append(j.snaps, snap)
	return j.err
}

func (j *recordingJournal) Close() error { return nil }

func TestSelectLabels(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		want    []string
		wantErr bool
	}{
		{
			name:  "explicit order kept and duplicates dropped",
			names: []string{"markets", " Trade_History ", "markets"},
			want:  []string{clearinghouse.LabelMarkets, clearinghouse.LabelTradeHistory},
		},
		{
			name:    "unknown name",
			names:   []string{"orders"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectLabels(tt.names)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("labels = %v, want %v", got, tt.want)
			}
		})
	}

	all, err := selectLabels(nil)
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(all) != 8 {
		t.Fatalf("all labels = %v", all)
	}
}

func TestMarketsSnapshotCountsInitializedSlots(t *testing.T) {
	markets := &accounts.Markets{}
	markets.Markets[3].Initialized = true
	markets.Markets[3].AMM.BaseAssetReserve = bin.Uint128{Lo: 1000, Endianness: bin.LE}
	markets.Markets[40].Initialized = true

	snap := marketsSnapshot(solana.SystemProgramID, markets)
	if snap.Metric.IntPart() != 2 {
		t.Fatalf("metric = %s", snap.Metric)
	}
	slots, ok := snap.Payload.([]marketSummary)
	if !ok || len(slots) != 2 {
		t.Fatalf("payload = %#v", snap.Payload)
	}
	if slots[0].Index != 3 || slots[0].BaseAssetReserve != "1000" || slots[1].Index != 40 {
		t.Fatalf("slots = %+v", slots)
	}
}

func TestConsumerJournalsEachPush(t *testing.T) {
	rec := &recordingJournal{}
	svc := &Service{journal: rec, logger: logging.Discard()}
	address := solana.TokenProgramID

	consumer, err := svc.consumer(context.Background(), clearinghouse.LabelDepositHistory, address)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	push, ok := consumer.(clearinghouse.DepositHistoryConsumer)
	if !ok {
		t.Fatalf("consumer type = %T", consumer)
	}
	push(&accounts.DepositHistory{HistoryHead: accounts.HistoryHead{Head: 9}})

	if len(rec.snaps) != 1 {
		t.Fatalf("journaled %d snapshots", len(rec.snaps))
	}
	snap := rec.snaps[0]
	if snap.Label != clearinghouse.LabelDepositHistory || !snap.Address.Equals(address) || snap.Metric.IntPart() != 9 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if summary := snap.Payload.(historySummary); summary.NextRecordID != 10 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestJournalFailureDoesNotStopConsumer(t *testing.T) {
	rec := &recordingJournal{err: errors.New("db down")}
	svc := &Service{journal: rec, logger: logging.Discard()}

	consumer, err := svc.consumer(context.Background(), clearinghouse.LabelState, solana.SystemProgramID)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	push := consumer.(clearinghouse.StateConsumer)
	push(&accounts.State{ExchangePaused: true})
	push(&accounts.State{})

	if len(rec.snaps) != 2 {
		t.Fatalf("journaled %d snapshots", len(rec.snaps))
	}
	if !rec.snaps[0].Payload.(stateSummary).ExchangePaused {
		t.Fatalf("first snapshot = %+v", rec.snaps[0])
	}
}

func TestConsumerWithoutJournal(t *testing.T) {
	svc := &Service{logger: logging.Discard()}
	consumer, err := svc.consumer(context.Background(), clearinghouse.LabelMarkets, solana.SystemProgramID)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	consumer.(clearinghouse.MarketsConsumer)(&accounts.Markets{})

	if _, err := svc.consumer(context.Background(), "Orders", solana.SystemProgramID); err == nil {
		t.Fatal("expected unknown label to fail")
	}
}

type stateLedger struct {
	address solana.PublicKey
	data    []byte
}

func (l *stateLedger) GetAccountInfoWithOpts(_ context.Context, address solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	if !address.Equals(l.address) {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{
		Owner: solana.SystemProgramID,
		Data:  rpc.DataBytesOrJSONFromBytes(l.data),
	}}, nil
}

// pubsubServer acknowledges account subscriptions and can drop every open connection.
type pubsubServer struct {
	upgrader   websocket.Upgrader
	subscribed chan string

	mu      sync.Mutex
	conns   []*websocket.Conn
	writeMu map[*websocket.Conn]*sync.Mutex
	nextID  uint64
	latest  *websocket.Conn
	subID   uint64
}

func newPubsubServer(t *testing.T) (*pubsubServer, string) {
	t.Helper()
	p := &pubsubServer{
		subscribed: make(chan string, 16),
		writeMu:    make(map[*websocket.Conn]*sync.Mutex),
	}
	server := httptest.NewServer(p)
	t.Cleanup(server.Close)
	return p, "ws" + strings.TrimPrefix(server.URL, "http")
}

func (p *pubsubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writeMu := &sync.Mutex{}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.writeMu[conn] = writeMu
	p.mu.Unlock()

	for {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		reply := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true}
		if req.Method == "accountSubscribe" {
			var address string
			_ = json.Unmarshal(req.Params[0], &address)
			p.mu.Lock()
			p.nextID++
			p.latest, p.subID = conn, p.nextID
			reply["result"] = p.nextID
			p.mu.Unlock()
			p.subscribed <- address
		}

		writeMu.Lock()
		err := conn.WriteJSON(reply)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (p *pubsubServer) dropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		_ = conn.Close()
	}
	p.conns = nil
}

func (p *pubsubServer) pushLatest(t *testing.T, data []byte) {
	t.Helper()
	p.mu.Lock()
	conn, subID := p.latest, p.subID
	writeMu := p.writeMu[conn]
	p.mu.Unlock()

	note := map[string]any{
		"jsonrpc": "2.0",
		"method":  "accountNotification",
		"params": map[string]any{
			"subscription": subID,
			"result": map[string]any{
				"context": map[string]any{"slot": 7},
				"value": map[string]any{
					"lamports":   1,
					"owner":      solana.SystemProgramID.String(),
					"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
					"executable": false,
					"rentEpoch":  0,
				},
			},
		},
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteJSON(note); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func waitSubscribed(t *testing.T, p *pubsubServer, want solana.PublicKey) {
	t.Helper()
	select {
	case got := <-p.subscribed:
		if got != want.String() {
			t.Fatalf("subscribed %s, want %s", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accountSubscribe")
	}
}

func TestWatchResubscribesDroppedChannel(t *testing.T) {
	pubsub, endpoint := newPubsubServer(t)

	stateAddress := solana.NewWallet().PublicKey()
	tradeHistory := solana.NewWallet().PublicKey()
	stateData, err := accounts.Encode(&accounts.State{TradeHistory: tradeHistory, Markets: solana.NewWallet().PublicKey()})
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	rd := reader.New(&stateLedger{address: stateAddress, data: stateData}, reader.WithRetry(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracked, err := clearinghouse.NewAccounts(ctx, rd, subscription.NewManager(), subscription.Config{Endpoint: endpoint}, stateAddress, nil)
	if err != nil {
		t.Fatalf("new accounts: %v", err)
	}

	rec := &recordingJournal{}
	svc := &Service{
		cfg: config.WatcherConfig{
			ResubscribeInterval:   10 * time.Millisecond,
			ResubscribeMaxBackoff: 40 * time.Millisecond,
		},
		journal: rec,
		logger:  logging.Discard(),
	}
	done := make(chan error, 1)
	go func() { done <- svc.watch(ctx, tracked, []string{clearinghouse.LabelTradeHistory}) }()

	waitSubscribed(t, pubsub, tradeHistory)
	pubsub.dropAll()
	waitSubscribed(t, pubsub, tradeHistory)

	deadline := time.Now().Add(5 * time.Second)
	for !tracked.IsSubscribed(clearinghouse.LabelTradeHistory) {
		if time.Now().After(deadline) {
			t.Fatal("trade history never resubscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	foreign, err := accounts.Encode(&accounts.DepositHistory{HistoryHead: accounts.HistoryHead{Head: 99}})
	if err != nil {
		t.Fatalf("encode deposit history: %v", err)
	}
	data, err := accounts.Encode(&accounts.TradeHistory{HistoryHead: accounts.HistoryHead{Head: 4}})
	if err != nil {
		t.Fatalf("encode trade history: %v", err)
	}
	pubsub.pushLatest(t, foreign)
	pubsub.pushLatest(t, data)

	for {
		rec.mu.Lock()
		n := len(rec.snaps)
		rec.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("push on the new channel was not journaled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	snaps := append([]journal.Snapshot(nil), rec.snaps...)
	rec.mu.Unlock()
	if len(snaps) != 1 || snaps[0].Metric.IntPart() != 4 {
		t.Fatalf("journaled %+v, want only the trade history push", snaps)
	}
	if !tracked.IsSubscribed(clearinghouse.LabelTradeHistory) {
		t.Fatal("foreign push closed the channel")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	if tracked.IsSubscribed(clearinghouse.LabelTradeHistory) {
		t.Fatal("trade history still subscribed after shutdown")
	}
}
