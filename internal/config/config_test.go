package config

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

func TestWebsocketURLFromRPC(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8899", want: "ws://127.0.0.1:8900"},
		{in: "https://api.devnet.solana.com", want: "wss://api.devnet.solana.com"},
		{in: "https://rpc.example.com:443/path", want: "wss://rpc.example.com:444/path"},
		{in: "wss://stream.example.com", want: "wss://stream.example.com"},
	}
	for _, tc := range cases {
		got, err := WebsocketURLFromRPC(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, err := WebsocketURLFromRPC("ftp://example.com"); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
}

func TestLoadClientConfigDefaults(t *testing.T) {
	t.Setenv("TARGET_NET", "devnet")
	t.Setenv("WALLET_JSON_PATH", "/tmp/wallet.json")

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != rpc.DevNet.RPC || cfg.WSURL != rpc.DevNet.WS {
		t.Fatalf("unexpected endpoints: %s %s", cfg.RPCURL, cfg.WSURL)
	}
	if cfg.ReadAttempts != 3 || cfg.ReadRetryDelay != 4*time.Second {
		t.Fatalf("unexpected read retry policy: %d %s", cfg.ReadAttempts, cfg.ReadRetryDelay)
	}
	if cfg.UnsubscribeRetries != 2 || cfg.UnsubscribeRetryDelay != 2*time.Second {
		t.Fatalf("unexpected unsubscribe retry policy: %d %s", cfg.UnsubscribeRetries, cfg.UnsubscribeRetryDelay)
	}
	if !cfg.ProgramID.Equals(defaultClearingHouseProgramID) {
		t.Fatalf("unexpected program id: %s", cfg.ProgramID)
	}
	if !cfg.StatePubkey.IsZero() {
		t.Fatalf("state pubkey should default to zero, got %s", cfg.StatePubkey)
	}
	if cfg.KeypairPath != "/tmp/wallet.json" {
		t.Fatalf("unexpected keypair path: %s", cfg.KeypairPath)
	}
}

func TestLoadClientConfigCustomRPCDerivesWebsocket(t *testing.T) {
	t.Setenv("TARGET_NET", "localnet")
	t.Setenv("SOLANA_RPC_URL", "http://validator:9000")
	t.Setenv("SOLANA_COMMITMENT", "finalized")

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSURL != "ws://validator:9001" {
		t.Fatalf("unexpected ws url: %s", cfg.WSURL)
	}
	if cfg.Commitment != rpc.CommitmentFinalized {
		t.Fatalf("unexpected commitment: %s", cfg.Commitment)
	}
}

func TestLoadClientConfigRejectsUnknownCluster(t *testing.T) {
	t.Setenv("TARGET_NET", "moonnet")
	if _, err := LoadClientConfig(); err == nil {
		t.Fatalf("expected error for unknown cluster")
	}
}

func TestLoadWatcherConfigAccounts(t *testing.T) {
	t.Setenv("WATCHER_ACCOUNTS", "State, Markets,,trade_history")
	t.Setenv("WATCHER_JOURNAL_ENABLED", "false")

	cfg, err := LoadWatcherConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"state", "markets", "trade_history"}
	if len(cfg.Accounts) != len(want) {
		t.Fatalf("accounts = %v, want %v", cfg.Accounts, want)
	}
	for i := range want {
		if cfg.Accounts[i] != want[i] {
			t.Fatalf("accounts = %v, want %v", cfg.Accounts, want)
		}
	}
	if cfg.JournalEnabled {
		t.Fatalf("journal should be disabled")
	}
	if cfg.Log.FilePath == "" {
		t.Fatalf("log file path should default")
	}
}

func TestNormalizeKeySegment(t *testing.T) {
	if got := normalizeKeySegment("clearing-house.read attempts"); got != "CLEARING_HOUSE_READ_ATTEMPTS" {
		t.Fatalf("normalize = %q", got)
	}
}

func TestLoadAPIServerConfigFallsBackToWatcherDSN(t *testing.T) {
	t.Setenv("WATCHER_DB_DSN", "postgres://journal")
	t.Setenv("API_SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDSN != "postgres://journal" {
		t.Fatalf("dsn = %s", cfg.DBDSN)
	}
	if cfg.ListenAddr != ":8080" || cfg.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %s %s", cfg.ListenAddr, cfg.ReadTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
}
