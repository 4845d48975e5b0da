package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// SnapshotFilter narrows ListSnapshots. Zero values match everything.
type SnapshotFilter struct {
	Label   string
	Address string
	RunID   string
	Since   int64
	Limit   int
	Offset  int
}

// SnapshotRecord is one row of the snapshot history as served over HTTP.
type SnapshotRecord struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"runId"`
	Label      string          `json:"label"`
	Address    string          `json:"address"`
	Metric     decimal.Decimal `json:"metric"`
	RawJSON    string          `json:"rawJson"`
	RecordedAt int64           `json:"recordedAt"`
}

// ListSnapshots returns journaled snapshots newest first with the normalized limit and offset.
func (s *Store) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 6)

	if filter.Label != "" {
		clauses = append(clauses, "label = ?")
		args = append(args, filter.Label)
	}
	if filter.Address != "" {
		clauses = append(clauses, "address = ?")
		args = append(args, filter.Address)
	}
	if filter.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Since > 0 {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, filter.Since)
	}

	query := fmt.Sprintf(`
		SELECT id, run_id, label, address, metric::TEXT, raw_json, recorded_at
		FROM account_snapshots
		WHERE %s
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]SnapshotRecord, 0, limit)
	for rows.Next() {
		var item SnapshotRecord
		var metric string
		if err := rows.Scan(
			&item.ID,
			&item.RunID,
			&item.Label,
			&item.Address,
			&metric,
			&item.RawJSON,
			&item.RecordedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.Metric, err = decimal.NewFromString(metric)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("parse metric %q: %w", metric, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}
	return items, limit, offset, nil
}

// ListHeads returns the latest snapshot of every journaled address, optionally for one label.
func (s *Store) ListHeads(ctx context.Context, label string) ([]Entry, error) {
	query := `
		SELECT address, label, run_id, metric::TEXT, raw_json, recorded_at
		FROM account_heads
	`
	args := make([]any, 0, 1)
	if label != "" {
		query += " WHERE label = ?"
		args = append(args, label)
	}
	query += " ORDER BY label ASC, address ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			address    string
			entry      Entry
			runID      string
			metric     string
			recordedAt int64
		)
		if err := rows.Scan(&address, &entry.Label, &runID, &metric, &entry.RawJSON, &recordedAt); err != nil {
			return nil, err
		}
		if entry.Address, err = solana.PublicKeyFromBase58(address); err != nil {
			return nil, fmt.Errorf("parse address %q: %w", address, err)
		}
		if entry.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", runID, err)
		}
		if entry.Metric, err = decimal.NewFromString(metric); err != nil {
			return nil, fmt.Errorf("parse metric %q: %w", metric, err)
		}
		entry.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
