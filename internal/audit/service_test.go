package audit_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/audit"
	"github.com/tracevault/tracevault/internal/ledger"
)

var ctx = context.Background()

func newTestService(t *testing.T) (*audit.Service, *ledger.MemoryLedger) {
	t.Helper()
	signer, err := ledger.NewSigner([]byte("service-test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.NewMemory(signer)
	return audit.NewService(l, zap.NewNop()), l
}

// failingLedger wraps a working ledger but always fails Append with a
// storage error.
type failingLedger struct {
	ledger.Ledger
}

func (f *failingLedger) Append(ctx context.Context, actor, action, target string, details map[string]any) (*ledger.Entry, error) {
	return nil, &ledger.WriteError{Op: "insert entry", Err: errors.New("disk full")}
}

func TestRecord_appendsEntry(t *testing.T) {
	svc, l := newTestService(t)

	entry, err := svc.Record(ctx, "alice", "login.failed", "", map[string]any{"attempts": 3})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", entry.Sequence)
	}
	if n, _ := l.Len(ctx); n != 1 {
		t.Errorf("ledger length: got %d, want 1", n)
	}
}

func TestRecord_emptyActorBecomesSystem(t *testing.T) {
	svc, _ := newTestService(t)
	entry, err := svc.Record(ctx, "", "maintenance.start", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Actor != ledger.SystemActor {
		t.Errorf("actor: got %q, want system sentinel", entry.Actor)
	}
}

func TestRecord_masksBeforeHashing(t *testing.T) {
	svc, l := newTestService(t)

	if _, err := svc.Record(ctx, "alice", "withdrawal.requested", "account:1", map[string]any{
		"account_number": "12345678",
		"amount":         "205",
	}); err != nil {
		t.Fatal(err)
	}

	stored, err := l.Entry(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Details["account_number"] != "****5678" {
		t.Errorf("stored details not masked: %v", stored.Details["account_number"])
	}

	// Because masking ran before hashing, the stored entry verifies clean.
	report, _ := l.Verify(ctx, 0, 0)
	if !report.Valid {
		t.Errorf("masked entry failed verification: %+v", report.Violations)
	}
}

func TestRecord_validationErrorSurfaced(t *testing.T) {
	svc, l := newTestService(t)

	_, err := svc.Record(ctx, "alice", "", "", nil)
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if n, _ := l.Len(ctx); n != 0 {
		t.Errorf("rejected event reached the chain")
	}
}

func TestRecord_failClosedByDefault(t *testing.T) {
	svc := audit.NewService(&failingLedger{}, zap.NewNop())

	_, err := svc.Record(ctx, "alice", "deposit.attempt", "", nil)
	var werr *ledger.WriteError
	if !errors.As(err, &werr) {
		t.Errorf("fail-closed: expected WriteError to propagate, got %v", err)
	}
}

func TestRecord_failOpenSwallowsWriteError(t *testing.T) {
	svc := audit.NewService(&failingLedger{}, zap.NewNop())
	svc.SetPolicy(audit.Policy{FailOpen: true})

	entry, err := svc.Record(ctx, "alice", "deposit.attempt", "", nil)
	if err != nil {
		t.Errorf("fail-open: expected nil error, got %v", err)
	}
	if entry != nil {
		t.Errorf("fail-open: expected nil entry, got %+v", entry)
	}
}

func TestRecord_failOpenStillRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetPolicy(audit.Policy{FailOpen: true})

	_, err := svc.Record(ctx, "alice", "bad|action", "", nil)
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("fail-open must not swallow validation errors, got %v", err)
	}
}

func TestVerifyAndRecord_excludesOwnEntry(t *testing.T) {
	svc, l := newTestService(t)
	for i := 0; i < 3; i++ {
		if _, err := svc.Record(ctx, "alice", "record.view", "", nil); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.VerifyAndRecord(ctx, "auditor")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("clean chain reported violations: %+v", report.Violations)
	}
	if report.To != 3 || report.Entries != 3 {
		t.Errorf("verified range covered its own record: to=%d entries=%d", report.To, report.Entries)
	}

	// The outcome itself landed on the chain as entry 4.
	n, _ := l.Len(ctx)
	if n != 4 {
		t.Fatalf("ledger length after meta-audit: got %d, want 4", n)
	}
	last, err := l.Entry(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if last.Action != ledger.ActionVerify {
		t.Errorf("outcome entry action: got %q", last.Action)
	}
	if last.Details["valid"] != true {
		t.Errorf("outcome entry details: %+v", last.Details)
	}

	// A second pass now covers the first outcome entry and stays clean.
	report2, err := svc.VerifyAndRecord(ctx, "auditor")
	if err != nil {
		t.Fatal(err)
	}
	if !report2.Valid || report2.To != 4 {
		t.Errorf("second pass: valid=%v to=%d", report2.Valid, report2.To)
	}
}

func TestReset_disabledByDefault(t *testing.T) {
	svc, l := newTestService(t)
	if _, err := svc.Record(ctx, "alice", "record.view", "", nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.Reset(ctx, "admin"); !errors.Is(err, audit.ErrResetDisabled) {
		t.Errorf("expected ErrResetDisabled, got %v", err)
	}
	if n, _ := l.Len(ctx); n != 1 {
		t.Errorf("disabled reset still modified the chain")
	}
}

func TestReset_enabled(t *testing.T) {
	svc, l := newTestService(t)
	svc.EnableReset()
	for i := 0; i < 3; i++ {
		if _, err := svc.Record(ctx, "alice", "record.view", "", nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.Reset(ctx, "admin"); err != nil {
		t.Fatal(err)
	}

	// Chain re-seeded: system reset entry plus the requested-by record.
	n, _ := l.Len(ctx)
	if n != 2 {
		t.Fatalf("after reset: got %d entries, want 2", n)
	}
	first, _ := l.Entry(ctx, 1)
	if first.Action != ledger.ActionReset {
		t.Errorf("first entry after reset: %q", first.Action)
	}
	report, _ := l.Verify(ctx, 0, 0)
	if !report.Valid {
		t.Errorf("reset chain invalid: %+v", report.Violations)
	}
}

func TestMetricsCallbacks(t *testing.T) {
	svc, _ := newTestService(t)

	var appends, verifies int
	svc.SetMetrics(
		func(ok bool) { appends++ },
		func(valid bool, violations int) { verifies++ },
	)

	if _, err := svc.Record(ctx, "alice", "record.view", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(ctx, 0, 0); err != nil {
		t.Fatal(err)
	}

	if appends != 1 || verifies != 1 {
		t.Errorf("metrics: appends=%d verifies=%d", appends, verifies)
	}
}
