package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
type MemoryLedger struct {
	signer *Signer

	mu      sync.RWMutex
	entries []*Entry
}

// NewMemory creates an empty MemoryLedger producing entries signed with
// the given signer. The chain starts empty; the first append gets
// Sequence 1 and PrevHash GenesisHash.
func NewMemory(signer *Signer) *MemoryLedger {
	return &MemoryLedger{signer: signer}
}

// Append implements Ledger. The tail read, entry construction, and append
// happen under one exclusive lock so two concurrent callers can never
// observe the same tail and fork the chain.
func (l *MemoryLedger) Append(ctx context.Context, actor, action, target string, details map[string]any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := int64(1)
	prev := GenesisHash
	if n := len(l.entries); n > 0 {
		tail := l.entries[n-1]
		seq = tail.Sequence + 1
		prev = tail.Hash
	}

	entry, err := buildEntry(seq, prev, actor, action, target, details, l.signer)
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Entry implements Ledger.
func (l *MemoryLedger) Entry(ctx context.Context, seq int64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Sequence == seq {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Ledger. Entries are returned newest first.
func (l *MemoryLedger) List(ctx context.Context, opts ListOptions) ([]*Entry, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = DefaultPageSize
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if opts.Actor != "" && e.Actor != opts.Actor {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.Target != "" && e.Target != opts.Target {
			continue
		}
		matched = append(matched, e)
	}

	total := int64(len(matched))
	start := (opts.Page - 1) * opts.PerPage
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + opts.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.entries)), nil
}

// Tail implements Ledger.
func (l *MemoryLedger) Tail(ctx context.Context) (int64, string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0, GenesisHash, nil
	}
	tail := l.entries[len(l.entries)-1]
	return tail.Sequence, tail.Hash, nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(ctx context.Context, from, to int64) (*Report, error) {
	if from < 1 {
		from = 1
	}

	l.mu.RLock()
	var ranged []*Entry
	anchor := GenesisHash
	for _, e := range l.entries {
		if e.Sequence == from-1 {
			// Anchor the range on the freshly recomputed digest of the
			// predecessor, never its stored hash.
			if mat, err := e.material(); err == nil {
				anchor = digestHex(mat)
			} else {
				anchor = ""
			}
		}
		if e.Sequence >= from && (to == 0 || e.Sequence <= to) {
			ranged = append(ranged, e)
		}
	}
	l.mu.RUnlock()

	violations := verifyChain(ranged, l.signer, anchor, from-1)

	effectiveTo := to
	if effectiveTo == 0 && len(ranged) > 0 {
		effectiveTo = ranged[len(ranged)-1].Sequence
	}
	return newReport(from, effectiveTo, int64(len(ranged)), violations), nil
}

// Reset implements Ledger. It discards every entry and seeds a fresh chain
// whose first entry records the reset itself.
func (l *MemoryLedger) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()

	_, err := l.Append(ctx, SystemActor, ActionReset, "", nil)
	return err
}
