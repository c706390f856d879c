package ledger

// Test hooks for simulating direct store manipulation — the attacker model
// the verifier exists to catch. Production code never mutates or removes a
// stored entry.

// Tamper mutates the stored entry with the given sequence in place,
// leaving hash and signature exactly as the mutator leaves them.
func (l *MemoryLedger) Tamper(seq int64, fn func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Sequence == seq {
			fn(e)
			return
		}
	}
}

// Remove deletes the stored entry with the given sequence outright.
func (l *MemoryLedger) Remove(seq int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.Sequence == seq {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Material exposes an entry's hash material to tests.
func (e *Entry) Material() (string, error) { return e.material() }

// DigestHex exposes the chain digest to tests.
func DigestHex(material string) string { return digestHex(material) }
