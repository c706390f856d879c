package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the well-known predecessor sentinel of the first entry.
// The genesis is a pure sentinel, not a stored row: a chain with N recorded
// events holds exactly N rows, and the row with Sequence 1 carries this
// value in PrevHash.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor identifies entries originated by tracevault itself rather
// than by a principal of the calling application.
const SystemActor = "system"

// Actions recorded by the ledger on its own behalf.
const (
	ActionReset  = "ledger.reset"
	ActionVerify = "ledger.verify"
)

// Entry is a single immutable record in the audit chain.
//
// Hash is the hex SHA-256 digest over the entry's canonical material;
// Signature is the hex HMAC-SHA256 tag over the same material. Both are
// pure functions of the entry's own fields plus PrevHash, so no entry can
// be re-derived without recomputing every later one.
type Entry struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature"`

	// detailsRaw holds the details text exactly as stored. When it no
	// longer parses as JSON (a tampered row), verification hashes the raw
	// bytes instead so the mismatch is reported rather than aborting.
	detailsRaw     string
	detailsInvalid bool
}

// canonicalDetails returns the canonical encoding of the entry's details,
// the exact byte string that participates in hashing and signing.
func (e *Entry) canonicalDetails() (string, error) {
	if e.detailsInvalid {
		return e.detailsRaw, nil
	}
	return CanonicalDetails(e.Details)
}

// material builds the byte string covered by Hash and Signature:
//
//	sequence|timestampRFC3339Nano|actor|action|target|canonical(details)|prev_hash
//
// Timestamps are truncated to microseconds before an entry is built so the
// material survives a round trip through TIMESTAMPTZ storage.
func (e *Entry) material() (string, error) {
	det, err := e.canonicalDetails()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		e.Sequence, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Actor, e.Action, e.Target, det, e.PrevHash,
	), nil
}

// digestHex returns the hex-encoded SHA-256 digest of data.
func digestHex(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// seal computes and stores Hash and Signature for an entry whose other
// fields, including PrevHash, are final.
func (e *Entry) seal(signer *Signer) error {
	mat, err := e.material()
	if err != nil {
		return err
	}
	e.Hash = digestHex(mat)
	e.Signature = signer.Sign(mat)
	return nil
}

// entryTime returns the current UTC time truncated to microsecond
// precision, the granularity preserved by the Postgres store.
func entryTime() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
