// Package audit is the application-facing surface of the ledger: it
// validates and masks incoming events, applies the write-failure policy,
// and runs the meta-audited verification flow.
package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/ledger"
)

// ErrResetDisabled is returned when a reset is requested but the deployment
// has not explicitly enabled destructive resets.
var ErrResetDisabled = errors.New("audit: ledger reset is disabled; set ledger.reset_enabled to allow it")

// Policy controls how a failed audit write propagates to the caller.
//
// Fail-closed (the default) surfaces the failure so the triggering business
// action does not stand unrecorded. Fail-open trades auditability for
// availability: the failure is logged loudly and swallowed. The choice is
// deliberate deployment configuration, not code.
type Policy struct {
	FailOpen bool
}

// AppendMetricFunc records append outcomes; VerifyMetricFunc records
// verification outcomes.
type (
	AppendMetricFunc func(ok bool)
	VerifyMetricFunc func(valid bool, violations int)
)

// Service wraps a Ledger with input hygiene, masking, policy, and metrics.
type Service struct {
	ledger       ledger.Ledger
	masker       *Masker
	policy       Policy
	resetEnabled bool
	onAppend     AppendMetricFunc
	onVerify     VerifyMetricFunc
	logger       *zap.Logger
}

// NewService creates a Service over the given ledger. The default policy is
// fail-closed and resets are disabled.
func NewService(l ledger.Ledger, logger *zap.Logger) *Service {
	return &Service{
		ledger: l,
		masker: NewMasker(),
		logger: logger,
	}
}

// SetPolicy configures the write-failure policy.
func (s *Service) SetPolicy(p Policy) { s.policy = p }

// SetMasker overrides the default masker, typically to add deployment
// specific sensitive keys.
func (s *Service) SetMasker(m *Masker) { s.masker = m }

// EnableReset arms the destructive reset operation. Off by default;
// intended for development environments only.
func (s *Service) EnableReset() { s.resetEnabled = true }

// SetMetrics configures the metric callbacks.
func (s *Service) SetMetrics(onAppend AppendMetricFunc, onVerify VerifyMetricFunc) {
	s.onAppend = onAppend
	s.onVerify = onVerify
}

// Record appends one event to the chain. An empty actor is attributed to
// the system sentinel. Sensitive detail values are masked before hashing.
//
// Validation failures always surface as *ledger.ValidationError. Write
// failures follow the configured policy: fail-closed returns the error so
// the caller can abort its business action; fail-open logs it and returns
// a nil entry with no error.
func (s *Service) Record(ctx context.Context, actor, action, target string, details map[string]any) (*ledger.Entry, error) {
	if actor == "" {
		actor = ledger.SystemActor
	}

	entry, err := s.ledger.Append(ctx, actor, action, target, s.masker.Mask(details))
	if err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			// Malformed input, not a persistence problem; the policy does
			// not apply.
			return nil, err
		}

		if s.onAppend != nil {
			s.onAppend(false)
		}
		if s.policy.FailOpen {
			s.logger.Error("audit write failed; continuing under fail-open policy",
				zap.String("action", action),
				zap.String("actor", actor),
				zap.Error(err),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("record audit event: %w", err)
	}

	if s.onAppend != nil {
		s.onAppend(true)
	}
	return entry, nil
}

// Verify replays the requested range and returns the integrity report.
// Zero bounds mean the whole chain.
func (s *Service) Verify(ctx context.Context, from, to int64) (*ledger.Report, error) {
	report, err := s.ledger.Verify(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if s.onVerify != nil {
		s.onVerify(report.Valid, len(report.Violations))
	}
	return report, nil
}

// VerifyAndRecord verifies the chain as it stood at call time and then
// records the outcome as an audit event of its own. The verified range is
// snapshotted from the tail before the outcome entry is appended, so the
// entry that records a verification is never part of the range it reports
// on — a verification can never inspect its own record.
func (s *Service) VerifyAndRecord(ctx context.Context, actor string) (*ledger.Report, error) {
	tail, _, err := s.ledger.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot tail: %w", err)
	}

	report, err := s.Verify(ctx, 1, tail)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"run_id":     report.RunID.String(),
		"from":       report.From,
		"to":         report.To,
		"entries":    report.Entries,
		"valid":      report.Valid,
		"violations": int64(len(report.Violations)),
	}
	if _, err := s.Record(ctx, actor, ledger.ActionVerify, "", details); err != nil {
		return report, fmt.Errorf("record verification outcome: %w", err)
	}
	return report, nil
}

// Entries returns a page of the chain for display.
func (s *Service) Entries(ctx context.Context, opts ledger.ListOptions) ([]*ledger.Entry, int64, error) {
	return s.ledger.List(ctx, opts)
}

// Entry returns a single entry by sequence.
func (s *Service) Entry(ctx context.Context, seq int64) (*ledger.Entry, error) {
	return s.ledger.Entry(ctx, seq)
}

// Overview returns the chain length and tail hash.
func (s *Service) Overview(ctx context.Context) (int64, string, error) {
	n, err := s.ledger.Len(ctx)
	if err != nil {
		return 0, "", err
	}
	_, hash, err := s.ledger.Tail(ctx)
	if err != nil {
		return 0, "", err
	}
	return n, hash, nil
}

// Reset discards the whole chain and seeds a new one. Refused unless the
// deployment explicitly enabled resets.
func (s *Service) Reset(ctx context.Context, actor string) error {
	if !s.resetEnabled {
		return ErrResetDisabled
	}
	if err := s.ledger.Reset(ctx); err != nil {
		return err
	}
	s.logger.Warn("audit ledger reset executed", zap.String("actor", actor))

	// The re-seeded chain opens with the system reset entry; record who
	// asked for it right after.
	_, err := s.Record(ctx, actor, "ledger.reset.requested", "", nil)
	return err
}
