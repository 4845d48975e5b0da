package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Snapshot is one decoded account push as it is journaled. Metric is the
// label's headline number, such as a history head or a market count.
type Snapshot struct {
	Label   string
	Address solana.PublicKey
	Metric  decimal.Decimal
	Payload any
}

// Entry is a journaled snapshot read back from the store.
type Entry struct {
	RunID      uuid.UUID        `json:"runId"`
	Label      string           `json:"label"`
	Address    solana.PublicKey `json:"address"`
	Metric     decimal.Decimal  `json:"metric"`
	RawJSON    string           `json:"rawJson"`
	RecordedAt time.Time        `json:"recordedAt"`
}

// Store appends account snapshots to Postgres and keeps the latest one per
// address. Every row carries the id of the run that wrote it.
type Store struct {
	db    *DB
	runID uuid.UUID
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(8)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}, runID: uuid.New()}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// RunID identifies the rows written through this store.
func (s *Store) RunID() uuid.UUID { return s.runID }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS account_snapshots (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			label TEXT NOT NULL,
			address TEXT NOT NULL,
			metric NUMERIC NOT NULL,
			raw_json TEXT NOT NULL,
			recorded_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_account_snapshots_label_time ON account_snapshots(label, recorded_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_account_snapshots_run ON account_snapshots(run_id);`,
		`CREATE TABLE IF NOT EXISTS account_heads (
			address TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			run_id TEXT NOT NULL,
			metric NUMERIC NOT NULL,
			raw_json TEXT NOT NULL,
			recorded_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_account_heads_label ON account_heads(label);`,
	}

	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Record appends snap to the journal and replaces the latest snapshot of its address.
func (s *Store) Record(ctx context.Context, snap Snapshot) error {
	raw, err := encodePayload(snap)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	runID := s.runID.String()
	address := snap.Address.String()
	metric := snap.Metric.String()

	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_snapshots (run_id, label, address, metric, raw_json, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, snap.Label, address, metric, raw, now); err != nil {
			return fmt.Errorf("insert %s snapshot: %w", snap.Label, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_heads (address, label, run_id, metric, raw_json, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				label = excluded.label,
				run_id = excluded.run_id,
				metric = excluded.metric,
				raw_json = excluded.raw_json,
				recorded_at = excluded.recorded_at
		`, address, snap.Label, runID, metric, raw, now); err != nil {
			return fmt.Errorf("upsert %s head: %w", snap.Label, err)
		}
		return nil
	})
}

// Latest returns the most recent snapshot journaled for address, or nil when there is none.
func (s *Store) Latest(ctx context.Context, address solana.PublicKey) (*Entry, error) {
	var (
		runID      string
		label      string
		metric     string
		raw        string
		recordedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, label, metric::TEXT, raw_json, recorded_at
		FROM account_heads
		WHERE address = ?
	`, address.String()).Scan(&runID, &label, &metric, &raw, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query head %s: %w", address, err)
	}

	parsedRun, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	parsedMetric, err := decimal.NewFromString(metric)
	if err != nil {
		return nil, fmt.Errorf("parse metric %q: %w", metric, err)
	}
	return &Entry{
		RunID:      parsedRun,
		Label:      label,
		Address:    address,
		Metric:     parsedMetric,
		RawJSON:    raw,
		RecordedAt: time.UnixMilli(recordedAt),
	}, nil
}

func encodePayload(snap Snapshot) (string, error) {
	if strings.TrimSpace(snap.Label) == "" {
		return "", errors.New("snapshot label is required")
	}
	if snap.Payload == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(snap.Payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", snap.Label, err)
	}
	return string(raw), nil
}
