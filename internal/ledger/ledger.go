// Package ledger implements the tamper-evident audit chain at the heart of
// tracevault.
//
// Every recorded event becomes an immutable Entry whose hash covers its own
// fields plus the hash of its predecessor, and whose HMAC signature proves it
// was produced with the process secret key. The chain starts at a well-known
// GenesisHash sentinel (64 hex zeros); the first real entry has Sequence 1.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger

import "context"

// ListOptions control pagination and filtering for List.
// Pages are 1-based; a zero PerPage falls back to DefaultPageSize.
type ListOptions struct {
	Page    int
	PerPage int
	Actor   string
	Action  string
	Target  string
}

// DefaultPageSize is the listing page size when none is requested.
const DefaultPageSize = 50

// Ledger is the append-only, hash-chained audit log.
//
// Append is the only mutating operation in normal use; implementations must
// serialise concurrent appends so that the chain can never fork. Reset is
// administrative and destructive.
type Ledger interface {
	// Append records a new entry chained to the current tail and returns it.
	// Validation failures surface as *ValidationError before any hashing;
	// persistence failures surface as *WriteError.
	Append(ctx context.Context, actor, action, target string, details map[string]any) (*Entry, error)

	// Entry returns the entry with the given sequence number, or ErrNotFound.
	Entry(ctx context.Context, seq int64) (*Entry, error)

	// List returns a page of entries, newest first, plus the total count.
	List(ctx context.Context, opts ListOptions) ([]*Entry, int64, error)

	// Len returns the number of entries in the chain.
	Len(ctx context.Context) (int64, error)

	// Tail returns the sequence and hash of the most recent entry.
	// An empty chain reports sequence 0 and GenesisHash.
	Tail(ctx context.Context) (int64, string, error)

	// Verify replays entries from..to (inclusive) and reports every
	// inconsistency found. Zero bounds mean the whole chain. Verification
	// never stops at the first finding; only infrastructure failures
	// (e.g. an unreadable store) return a non-nil error.
	Verify(ctx context.Context, from, to int64) (*Report, error)

	// Reset discards the whole chain and records a fresh genesis-seeded
	// reset entry. Irreversible.
	Reset(ctx context.Context) error
}
