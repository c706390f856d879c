package ledger

import (
	"fmt"
	"strings"
)

// Field limits enforced at record time, before any hashing.
const (
	maxActorLen    = 100
	maxActionLen   = 100
	maxTargetLen   = 200
	maxDetailBytes = 16 << 10
)

// validateField rejects empty-where-required, oversized, and structurally
// unsafe values. The pipe and control characters are forbidden because the
// hash material is pipe-joined; allowing them would let two different field
// tuples encode to the same material.
func validateField(name, v string, required bool, maxLen int) error {
	if v == "" {
		if required {
			return &ValidationError{Field: name, Reason: "must not be empty"}
		}
		return nil
	}
	if len(v) > maxLen {
		return &ValidationError{Field: name, Reason: fmt.Sprintf("exceeds %d bytes", maxLen)}
	}
	if strings.ContainsAny(v, "|\n\r") {
		return &ValidationError{Field: name, Reason: "must not contain '|' or line breaks"}
	}
	return nil
}

// buildEntry validates the event fields, canonically encodes the details,
// and returns a sealed entry linked to prev. seq and prev must already be
// held under the store's append serialisation.
func buildEntry(seq int64, prev, actor, action, target string, details map[string]any, signer *Signer) (*Entry, error) {
	if err := validateField("actor", actor, true, maxActorLen); err != nil {
		return nil, err
	}
	if err := validateField("action", action, true, maxActionLen); err != nil {
		return nil, err
	}
	if err := validateField("target", target, false, maxTargetLen); err != nil {
		return nil, err
	}

	canon, err := CanonicalDetails(details)
	if err != nil {
		return nil, err
	}
	if len(canon) > maxDetailBytes {
		return nil, &ValidationError{Field: "details", Reason: fmt.Sprintf("canonical encoding exceeds %d bytes", maxDetailBytes)}
	}

	e := &Entry{
		Sequence:   seq,
		Timestamp:  entryTime(),
		Actor:      actor,
		Action:     action,
		Target:     target,
		Details:    details,
		PrevHash:   prev,
		detailsRaw: canon,
	}
	if err := e.seal(signer); err != nil {
		return nil, err
	}
	return e, nil
}
