package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/ledger"
)

// MonitorConfig holds chain monitor configuration.
type MonitorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// AlertFunc receives reports whose Valid flag is false.
type AlertFunc func(ctx context.Context, report *ledger.Report)

// Monitor periodically verifies the chain and records each outcome through
// the meta-audit flow. A report with violations is never downgraded: it is
// logged at Error level and handed to the alert callback.
type Monitor struct {
	svc     *Service
	cfg     MonitorConfig
	onAlert AlertFunc
	logger  *zap.Logger
}

// NewMonitor creates a Monitor over the audit service.
func NewMonitor(svc *Service, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Monitor{svc: svc, cfg: cfg, logger: logger}
}

// SetAlert configures the violation alert callback.
func (m *Monitor) SetAlert(fn AlertFunc) { m.onAlert = fn }

// Start runs the verification loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			m.RunOnce(runCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single scheduled verification pass.
func (m *Monitor) RunOnce(ctx context.Context) {
	report, err := m.svc.VerifyAndRecord(ctx, ledger.SystemActor)
	if err != nil {
		m.logger.Error("scheduled verification failed", zap.Error(err))
		if report == nil {
			return
		}
	}

	if report.Valid {
		m.logger.Info("scheduled verification clean",
			zap.String("run_id", report.RunID.String()),
			zap.Int64("entries", report.Entries),
		)
		return
	}

	m.logger.Error("AUDIT CHAIN INTEGRITY VIOLATED",
		zap.String("run_id", report.RunID.String()),
		zap.Int("violations", len(report.Violations)),
		zap.Int64("first_sequence", report.Violations[0].Sequence),
	)
	if m.onAlert != nil {
		// Alert deliveries outlast the per-run verification timeout:
		// Start cancels the run context as soon as RunOnce returns, and
		// webhook retries sleep well past that point.
		m.onAlert(context.WithoutCancel(ctx), report)
	}
}
