package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/audit"
	"github.com/tracevault/tracevault/internal/ledger"
	"github.com/tracevault/tracevault/internal/operator"
	"github.com/tracevault/tracevault/internal/server/handler"
	"github.com/tracevault/tracevault/pkg/client"
)

// newTestServer spins up the real API over an in-memory ledger.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := ledger.NewSigner([]byte("client-test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	svc := audit.NewService(ledger.NewMemory(signer), zap.NewNop())
	svc.EnableReset()

	tokens, err := operator.NewTokenIssuer([]byte("client-token-secret"), "https://audit.test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := operator.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewAuditHandler(svc, zap.NewNop()).Register(v1, handler.RequireOperator(tokens))
	handler.NewAuthHandler(hash, tokens, zap.NewNop()).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRecordAndFetch(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	entry, err := c.Record(ctx, client.RecordRequest{
		Actor:   "alice",
		Action:  "funds.deposit",
		Target:  "acct-1",
		Details: map[string]any{"amount": 250},
	})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if entry.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", entry.Sequence)
	}
	if entry.PrevHash != "0000000000000000000000000000000000000000000000000000000000000000" {
		t.Errorf("prev_hash = %q, want genesis", entry.PrevHash)
	}

	got, err := c.Entry(ctx, 1)
	if err != nil {
		t.Fatalf("Entry() error: %v", err)
	}
	if got.Hash != entry.Hash {
		t.Errorf("fetched hash %q != recorded hash %q", got.Hash, entry.Hash)
	}
}

func TestEntry_notFound(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)

	_, err := c.Entry(context.Background(), 42)
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEntriesAndOverview(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Record(ctx, client.RecordRequest{Actor: "alice", Action: "funds.deposit"}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := c.Entries(ctx, client.ListParams{PerPage: 2})
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("total = %d, want 3", page.Total)
	}
	if len(page.Entries) != 2 || page.Entries[0].Sequence != 3 {
		t.Errorf("unexpected page: %+v", page.Entries)
	}

	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview() error: %v", err)
	}
	if ov.Entries != 3 {
		t.Errorf("overview entries = %d, want 3", ov.Entries)
	}
	if ov.Tail != page.Entries[0].Hash {
		t.Errorf("tail %q != newest entry hash %q", ov.Tail, page.Entries[0].Hash)
	}
}

func TestVerify(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	if _, err := c.Record(ctx, client.RecordRequest{Actor: "alice", Action: "funds.deposit"}); err != nil {
		t.Fatal(err)
	}

	report, err := c.Verify(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !report.Valid {
		t.Errorf("clean chain reported invalid: %+v", report.Violations)
	}
	if report.Entries != 1 {
		t.Errorf("entries = %d, want 1", report.Entries)
	}
}

func TestOperatorFlow(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	if _, err := c.Record(ctx, client.RecordRequest{Actor: "alice", Action: "funds.deposit"}); err != nil {
		t.Fatal(err)
	}

	// Operator-only calls fail without a token.
	if _, err := c.VerifyAndRecord(ctx); err == nil {
		t.Fatal("VerifyAndRecord without token should fail")
	}

	if err := c.Authenticate(ctx, "auditor", "s3cret"); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	report, err := c.VerifyAndRecord(ctx)
	if err != nil {
		t.Fatalf("VerifyAndRecord() error: %v", err)
	}
	if !report.Valid {
		t.Errorf("chain reported invalid: %+v", report.Violations)
	}

	// The verification outcome is now the newest entry.
	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Entries != 2 {
		t.Errorf("entries after verify-and-record = %d, want 2", ov.Entries)
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	ov, err = c.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Reset seeds the system entry plus the attribution record.
	if ov.Entries != 2 {
		t.Errorf("entries after reset = %d, want 2", ov.Entries)
	}
}

func TestAuthenticate_badPassword(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)

	if err := c.Authenticate(context.Background(), "auditor", "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
}
