package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all tracevault instances sharing one database.
const advisoryLockKey = int64(7_421_339_016)

// PostgresLedger persists the audit chain to PostgreSQL. It implements the
// Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	signer *Signer
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, signer *Signer, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, signer: signer, logger: logger}
}

const entryColumns = "seq, ts, actor, action, target, details, prev_hash, hash, signature"

// Append implements Ledger.
// It acquires a transaction-scoped advisory lock, reads the chain tail,
// builds and seals the new entry, and inserts it — all within one
// transaction, so the (read tail, compute, append) triple is atomic and a
// fork is structurally impossible. A context timeout while waiting for the
// lock fails the append, which the fail-closed policy propagates upward.
func (l *PostgresLedger) Append(ctx context.Context, actor, action, target string, details map[string]any) (*Entry, error) {
	// Validation happens before any transaction or hashing.
	if err := validateField("actor", actor, true, maxActorLen); err != nil {
		return nil, err
	}
	if err := validateField("action", action, true, maxActionLen); err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, &WriteError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released automatically when the transaction commits or
	// rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, &WriteError{Op: "acquire advisory lock", Err: err}
	}

	seq := int64(1)
	prev := GenesisHash
	var tailSeq int64
	var tailHash string
	err = tx.QueryRow(ctx,
		"SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1",
	).Scan(&tailSeq, &tailHash)
	switch {
	case err == nil:
		seq = tailSeq + 1
		prev = tailHash
	case errors.Is(err, pgx.ErrNoRows):
		// Empty chain: genesis sentinel applies.
	default:
		return nil, &WriteError{Op: "read chain tail", Err: err}
	}

	entry, err := buildEntry(seq, prev, actor, action, target, details, l.signer)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (seq, ts, actor, action, target, details, prev_hash, hash, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.Sequence, entry.Timestamp, entry.Actor, entry.Action, entry.Target,
		entry.detailsRaw, entry.PrevHash, entry.Hash, entry.Signature,
	); err != nil {
		return nil, &WriteError{Op: "insert entry", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &WriteError{Op: "commit", Err: err}
	}

	l.logger.Debug("audit entry appended",
		zap.Int64("seq", entry.Sequence),
		zap.String("action", entry.Action),
		zap.String("actor", entry.Actor),
	)
	return entry, nil
}

// scanEntry reads one audit_log row. A details column that no longer parses
// as JSON is kept raw and flagged so verification reports the corruption
// instead of aborting the pass.
func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	if err := row.Scan(
		&e.Sequence, &e.Timestamp, &e.Actor, &e.Action, &e.Target,
		&e.detailsRaw, &e.PrevHash, &e.Hash, &e.Signature,
	); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()

	details, err := decodeDetails(e.detailsRaw)
	if err != nil {
		e.detailsInvalid = true
	} else {
		e.Details = details
	}
	return e, nil
}

// Entry implements Ledger.
func (l *PostgresLedger) Entry(ctx context.Context, seq int64) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM audit_log WHERE seq = $1", seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %d: %w", seq, err)
	}
	return e, nil
}

// List implements Ledger. Entries are returned newest first.
func (l *PostgresLedger) List(ctx context.Context, opts ListOptions) ([]*Entry, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = DefaultPageSize
	}

	where, args := buildFilter(opts)

	var total int64
	if err := l.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_log"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	args = append(args, opts.PerPage, (opts.Page-1)*opts.PerPage)
	q := fmt.Sprintf("SELECT %s FROM audit_log%s ORDER BY seq DESC LIMIT $%d OFFSET $%d",
		entryColumns, where, len(args)-1, len(args))

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// buildFilter renders the WHERE clause for List filters.
func buildFilter(opts ListOptions) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("actor", opts.Actor)
	add("action", opts.Action)
	add("target", opts.Target)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Tail implements Ledger.
func (l *PostgresLedger) Tail(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1",
	).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, GenesisHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read chain tail: %w", err)
	}
	return seq, hash, nil
}

// Verify implements Ledger. It streams rows ordered by seq and replays the
// chain in a single forward pass with O(1) auxiliary state. Read failures
// are infrastructure errors, distinct from integrity findings.
func (l *PostgresLedger) Verify(ctx context.Context, from, to int64) (*Report, error) {
	if from < 1 {
		from = 1
	}

	anchor := GenesisHash
	if from > 1 {
		pred, err := l.Entry(ctx, from-1)
		switch {
		case err == nil:
			if mat, merr := pred.material(); merr == nil {
				anchor = digestHex(mat)
			} else {
				anchor = ""
			}
		case errors.Is(err, ErrNotFound):
			anchor = ""
		default:
			return nil, err
		}
	}

	q := "SELECT " + entryColumns + " FROM audit_log WHERE seq >= $1"
	args := []any{from}
	if to > 0 {
		q += " AND seq <= $2"
		args = append(args, to)
	}
	q += " ORDER BY seq ASC"

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	walker := newChainWalker(l.signer, anchor, from-1)
	var (
		violations []Violation
		count      int64
		lastSeq    int64
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		violations = append(violations, walker.step(e)...)
		lastSeq = e.Sequence
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stream chain: %w", err)
	}

	effectiveTo := to
	if effectiveTo == 0 {
		effectiveTo = lastSeq
	}
	return newReport(from, effectiveTo, count, violations), nil
}

// Reset implements Ledger. TRUNCATE and the reset entry commit together so
// a crash cannot leave an empty chain with no record of the reset.
func (l *PostgresLedger) Reset(ctx context.Context) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return &WriteError{Op: "begin reset tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return &WriteError{Op: "acquire advisory lock", Err: err}
	}
	if _, err := tx.Exec(ctx, "TRUNCATE audit_log"); err != nil {
		return &WriteError{Op: "truncate", Err: err}
	}

	entry, err := buildEntry(1, GenesisHash, SystemActor, ActionReset, "", nil, l.signer)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (seq, ts, actor, action, target, details, prev_hash, hash, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.Sequence, entry.Timestamp, entry.Actor, entry.Action, entry.Target,
		entry.detailsRaw, entry.PrevHash, entry.Hash, entry.Signature,
	); err != nil {
		return &WriteError{Op: "insert reset entry", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &WriteError{Op: "commit reset", Err: err}
	}

	l.logger.Warn("audit ledger reset: previous chain discarded")
	return nil
}
