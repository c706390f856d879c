package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ViolationKind categorises an integrity finding.
type ViolationKind string

const (
	// ViolationHashMismatch: the stored hash differs from the digest
	// recomputed over the entry's stored fields.
	ViolationHashMismatch ViolationKind = "HASH_MISMATCH"
	// ViolationSignatureMismatch: the stored tag is not a valid HMAC over
	// the entry's stored fields under the current key.
	ViolationSignatureMismatch ViolationKind = "SIGNATURE_MISMATCH"
	// ViolationChainBreak: the stored prev_hash differs from the freshly
	// recomputed digest of the predecessor.
	ViolationChainBreak ViolationKind = "CHAIN_BREAK"
	// ViolationSequenceGap: the sequence is not exactly one greater than
	// the predecessor's, indicating physical row deletion.
	ViolationSequenceGap ViolationKind = "SEQUENCE_GAP"
)

// Violation is a single integrity finding located at a sequence number.
type Violation struct {
	Sequence int64         `json:"sequence"`
	Kind     ViolationKind `json:"kind"`
	Detail   string        `json:"detail"`
}

// Report is the outcome of a verification pass. Findings are not errors:
// a verify always completes and enumerates everything it saw, so an
// operator learns the full extent of a compromise in one pass.
type Report struct {
	RunID      uuid.UUID   `json:"run_id"`
	CheckedAt  time.Time   `json:"checked_at"`
	From       int64       `json:"from"`
	To         int64       `json:"to"`
	Entries    int64       `json:"entries"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// newReport assembles a Report from a completed chain walk.
func newReport(from, to, entries int64, violations []Violation) *Report {
	return &Report{
		RunID:      uuid.New(),
		CheckedAt:  time.Now().UTC(),
		From:       from,
		To:         to,
		Entries:    entries,
		Valid:      len(violations) == 0,
		Violations: violations,
	}
}

// chainWalker replays a chain one entry at a time with O(1) auxiliary
// state: the expected predecessor digest and the previous sequence number.
//
// The walker never trusts a stored hash as the authority for the next
// comparison: the expectation is always the freshly recomputed digest.
// Tampering with entry k therefore shows up at k (hash and signature) and
// again at k+1 (chain break), even when k+1 itself was left untouched.
type chainWalker struct {
	signer *Signer
	// anchor is the expected predecessor digest: GenesisHash at the start
	// of the chain, or the recomputed digest of the previous entry.
	anchor  string
	prevSeq int64
}

func newChainWalker(signer *Signer, anchor string, prevSeq int64) *chainWalker {
	return &chainWalker{signer: signer, anchor: anchor, prevSeq: prevSeq}
}

// step checks one entry against the walker's expectations and advances
// them. Entries must be fed in ascending sequence order.
func (w *chainWalker) step(e *Entry) []Violation {
	var violations []Violation

	mat, err := e.material()
	if err != nil {
		// The stored fields cannot even be re-encoded; flag the entry and
		// poison the anchor so the break cascades to the successor.
		violations = append(violations,
			Violation{Sequence: e.Sequence, Kind: ViolationHashMismatch,
				Detail: fmt.Sprintf("stored fields are not canonically encodable: %v", err)},
			Violation{Sequence: e.Sequence, Kind: ViolationSignatureMismatch,
				Detail: "signature unverifiable: material could not be rebuilt"},
		)
		w.anchor = ""
		w.prevSeq = e.Sequence
		return violations
	}

	recomputed := digestHex(mat)
	if recomputed != e.Hash {
		violations = append(violations, Violation{
			Sequence: e.Sequence,
			Kind:     ViolationHashMismatch,
			Detail:   "stored hash does not match digest recomputed from stored fields",
		})
	}

	if !w.signer.Verify(mat, e.Signature) {
		violations = append(violations, Violation{
			Sequence: e.Sequence,
			Kind:     ViolationSignatureMismatch,
			Detail:   "stored signature is not a valid tag under the current key",
		})
	}

	if e.PrevHash != w.anchor {
		violations = append(violations, Violation{
			Sequence: e.Sequence,
			Kind:     ViolationChainBreak,
			Detail:   fmt.Sprintf("prev_hash %.12s does not match recomputed predecessor digest %.12s", e.PrevHash, w.anchor),
		})
	}

	// Only the independently recomputed digest is trustworthy.
	w.anchor = recomputed

	if e.Sequence != w.prevSeq+1 {
		violations = append(violations, Violation{
			Sequence: e.Sequence,
			Kind:     ViolationSequenceGap,
			Detail:   fmt.Sprintf("expected sequence %d, found %d", w.prevSeq+1, e.Sequence),
		})
	}
	w.prevSeq = e.Sequence

	return violations
}

// verifyChain walks a fully materialised slice of entries.
func verifyChain(entries []*Entry, signer *Signer, anchor string, prevSeq int64) []Violation {
	w := newChainWalker(signer, anchor, prevSeq)
	var violations []Violation
	for _, e := range entries {
		violations = append(violations, w.step(e)...)
	}
	return violations
}
