package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/saaga0h/jeeves-rtls/pkg/postgres"
)

//go:embed schema.sql
var schema string

const (
	intervalColumns = `id, tag_id, zone_id, zone_name, distance, start_ts, end_ts`
	openIndexName   = "zone_history_one_open"
	checkViolation  = "23514"
)

// PostgresStore persists history in the zone_history table. Each Update is a
// single transaction holding a transaction-scoped advisory lock on the tag, so
// writers of one tag queue behind each other while other tags proceed.
type PostgresStore struct {
	pg     postgres.Client
	logger *slog.Logger
}

// NewPostgresStore creates a store on an already connected client
func NewPostgresStore(pg postgres.Client, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pg: pg, logger: logger}
}

// Migrate creates the table and indexes if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pg.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	s.logger.Info("History schema ready")
	return nil
}

// Update runs fn in one transaction scoped to tagID
func (s *PostgresStore) Update(ctx context.Context, tagID string, fn func(TagTx) error) error {
	if tagID == "" {
		return invalidf("tag id is required")
	}

	err := s.pg.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tagID); err != nil {
			return fmt.Errorf("failed to lock tag %s: %w", tagID, err)
		}
		if err := fn(&postgresTx{tx: tx, tagID: tagID}); err != nil {
			return err
		}
		return verifyOpenCount(ctx, tx, tagID)
	})
	return classifyStoreError(err)
}

// verifyOpenCount enforces exactly one open interval for a tag with history
func verifyOpenCount(ctx context.Context, tx *sql.Tx, tagID string) error {
	var open, total int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE end_ts IS NULL), COUNT(*)
		FROM zone_history WHERE tag_id = $1`, tagID).Scan(&open, &total)
	if err != nil {
		return fmt.Errorf("failed to verify history of tag %s: %w", tagID, err)
	}
	if total > 0 && open != 1 {
		return fmt.Errorf("%w: tag %s has %d open intervals", ErrInvariantViolation, tagID, open)
	}
	return nil
}

func classifyStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvariantViolation), errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrTransient):
		return err
	case postgres.IsUniqueViolation(err, openIndexName):
		return fmt.Errorf("%w: %w", ErrOpenIntervalExists, err)
	case isCheckViolation(err):
		return fmt.Errorf("%w: %w", ErrInvertedInterval, err)
	case postgres.IsTransient(err):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	default:
		return fmt.Errorf("history update failed: %w", err)
	}
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == checkViolation
}

// Query streams matching intervals ordered by start_ts
func (s *PostgresStore) Query(ctx context.Context, f Filter) iter.Seq2[Interval, error] {
	return func(yield func(Interval, error) bool) {
		query, args := buildIntervalQuery(f)

		rows, err := s.pg.Query(ctx, query, args...)
		if err != nil {
			yield(Interval{}, classifyStoreError(fmt.Errorf("failed to query history: %w", err)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			iv, err := scanInterval(rows)
			if err != nil {
				yield(Interval{}, fmt.Errorf("failed to scan interval: %w", err))
				return
			}
			if !yield(iv, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Interval{}, classifyStoreError(fmt.Errorf("failed to read history: %w", err)))
		}
	}
}

func buildIntervalQuery(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TagID != "" {
		conds = append(conds, "tag_id = "+arg(f.TagID))
	}
	if f.ExcludeTagID != "" {
		conds = append(conds, "tag_id <> "+arg(f.ExcludeTagID))
	}
	if len(f.ZoneIDs) > 0 {
		conds = append(conds, "zone_id = ANY("+arg(pq.Array(f.ZoneIDs))+")")
	}
	if f.Range != nil {
		conds = append(conds, "start_ts <= "+arg(f.Range.End))
		conds = append(conds, "(end_ts IS NULL OR end_ts >= "+arg(f.Range.Start)+")")
	}

	var b strings.Builder
	b.WriteString("SELECT " + intervalColumns + " FROM zone_history")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY start_ts, end_ts NULLS LAST, tag_id, id")
	return b.String(), args
}

// HasTag reports whether any interval exists for the tag
func (s *PostgresStore) HasTag(ctx context.Context, tagID string) (bool, error) {
	var exists bool
	err := s.pg.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM zone_history WHERE tag_id = $1)`, tagID).Scan(&exists)
	if err != nil {
		return false, classifyStoreError(fmt.Errorf("failed to check tag %s: %w", tagID, err))
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInterval(row rowScanner) (Interval, error) {
	var iv Interval
	var end sql.NullTime
	if err := row.Scan(&iv.ID, &iv.TagID, &iv.ZoneID, &iv.ZoneName, &iv.Distance, &iv.Start, &end); err != nil {
		return Interval{}, err
	}
	iv.Start = iv.Start.UTC()
	if end.Valid {
		iv.End = timePtr(end.Time.UTC())
	}
	return iv, nil
}

// postgresTx implements TagTx on an open transaction
type postgresTx struct {
	tx    *sql.Tx
	tagID string
}

func (t *postgresTx) queryOne(ctx context.Context, query string, args ...interface{}) (*Interval, error) {
	iv, err := scanInterval(t.tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

func (t *postgresTx) get(ctx context.Context, id uuid.UUID) (*Interval, error) {
	iv, err := t.queryOne(ctx, `SELECT `+intervalColumns+` FROM zone_history WHERE id = $1 AND tag_id = $2`, id, t.tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interval %s: %w", id, err)
	}
	if iv == nil {
		return nil, fmt.Errorf("%w: %s", ErrIntervalNotFound, id)
	}
	return iv, nil
}

func (t *postgresTx) CurrentOpen(ctx context.Context) (*Interval, error) {
	iv, err := t.queryOne(ctx, `SELECT `+intervalColumns+` FROM zone_history
		WHERE tag_id = $1 AND end_ts IS NULL`, t.tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open interval: %w", err)
	}
	return iv, nil
}

func (t *postgresTx) MostRecentClosed(ctx context.Context) (*Interval, error) {
	iv, err := t.queryOne(ctx, `SELECT `+intervalColumns+` FROM zone_history
		WHERE tag_id = $1 AND end_ts IS NOT NULL
		ORDER BY end_ts DESC, start_ts DESC LIMIT 1`, t.tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to load closed interval: %w", err)
	}
	return iv, nil
}

func (t *postgresTx) Open(ctx context.Context, p OpenParams) (Interval, error) {
	var open, overlapping int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE end_ts IS NULL),
		       COUNT(*) FILTER (WHERE end_ts > $2)
		FROM zone_history WHERE tag_id = $1`, t.tagID, p.Start).Scan(&open, &overlapping)
	if err != nil {
		return Interval{}, fmt.Errorf("failed to check history before open: %w", err)
	}
	if open > 0 {
		return Interval{}, fmt.Errorf("%w: tag %s", ErrOpenIntervalExists, t.tagID)
	}
	if overlapping > 0 {
		return Interval{}, fmt.Errorf("%w: tag %s at %s", ErrOverlap, t.tagID, p.Start.Format(time.RFC3339Nano))
	}

	iv := Interval{
		ID:       uuid.New(),
		TagID:    t.tagID,
		ZoneID:   p.ZoneID,
		ZoneName: p.ZoneName,
		Distance: p.Distance,
		Start:    p.Start,
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO zone_history (`+intervalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)`,
		iv.ID, iv.TagID, iv.ZoneID, iv.ZoneName, iv.Distance, iv.Start)
	if err != nil {
		return Interval{}, fmt.Errorf("failed to insert interval: %w", err)
	}
	return iv, nil
}

func (t *postgresTx) Close(ctx context.Context, id uuid.UUID, end time.Time) error {
	iv, err := t.get(ctx, id)
	if err != nil {
		return err
	}
	if iv.End != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, id)
	}
	if end.Before(iv.Start) {
		return fmt.Errorf("%w: %s", ErrInvertedInterval, id)
	}

	if _, err := t.tx.ExecContext(ctx, `UPDATE zone_history SET end_ts = $1 WHERE id = $2`, end, id); err != nil {
		return fmt.Errorf("failed to close interval %s: %w", id, err)
	}
	return nil
}

func (t *postgresTx) Reopen(ctx context.Context, id uuid.UUID) error {
	iv, err := t.get(ctx, id)
	if err != nil {
		return err
	}
	if iv.End == nil {
		return fmt.Errorf("%w: %s", ErrNotClosed, id)
	}
	open, err := t.CurrentOpen(ctx)
	if err != nil {
		return err
	}
	if open != nil {
		return fmt.Errorf("%w: tag %s, interval %s", ErrOpenIntervalExists, t.tagID, open.ID)
	}

	var later int
	err = t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM zone_history
		WHERE tag_id = $1 AND id <> $2 AND end_ts > $3`, t.tagID, id, iv.Start).Scan(&later)
	if err != nil {
		return fmt.Errorf("failed to check history before reopen: %w", err)
	}
	if later > 0 {
		return fmt.Errorf("%w: reopening %s would overlap %d later intervals", ErrOverlap, id, later)
	}

	if _, err := t.tx.ExecContext(ctx, `UPDATE zone_history SET end_ts = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to reopen interval %s: %w", id, err)
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM zone_history WHERE id = $1 AND tag_id = $2`, id, t.tagID)
	if err != nil {
		return fmt.Errorf("failed to delete interval %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete interval %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrIntervalNotFound, id)
	}
	return nil
}
