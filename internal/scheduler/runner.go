package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/doint-ledger/internal/amount"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/pkg/audit"
)

const (
	dailyLockKey  = "doint:job:daily"
	hourlyLockKey = "doint:job:hourly"
)

// Ledger is the part of the ledger the periodic jobs drive.
type Ledger interface {
	CollectTaxes(ctx context.Context) (amount.Amount, error)
	DisperseUBI(ctx context.Context) (amount.Amount, bool, error)
	ConservationReport(ctx context.Context) (ledger.ConservationReport, error)
}

// Options tune the job loop.
type Options struct {
	DailyInterval  time.Duration
	HourlyInterval time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	LockTTL        time.Duration
}

// DailyResult summarises one run of the daily job.
type DailyResult struct {
	Collected amount.Amount `json:"collected"`
	Share     amount.Amount `json:"share"`
	Paid      bool          `json:"paid"`
	Rerun     bool          `json:"rerun"`
	Skipped   bool          `json:"skipped,omitempty"`
}

// Runner owns the periodic jobs: taxes then UBI once a day, and the
// conservation audit once an hour.
type Runner struct {
	ledger   Ledger
	locker   Locker
	recorder audit.Recorder
	logger   *slog.Logger
	opts     Options
}

// NewRunner wires a runner. A nil locker runs without cross-process
// locking; a nil recorder keeps no trail.
func NewRunner(l Ledger, locker Locker, recorder audit.Recorder, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Discard
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Runner{
		ledger:   l,
		locker:   locker,
		recorder: recorder,
		logger:   logger.With("component", "scheduler"),
		opts:     opts,
	}
}

// Run fires the jobs on their intervals until ctx is cancelled. Job
// failures are logged and never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	daily := time.NewTicker(r.opts.DailyInterval)
	defer daily.Stop()
	hourly := time.NewTicker(r.opts.HourlyInterval)
	defer hourly.Stop()

	r.logger.Info("scheduler started",
		"daily_interval", r.opts.DailyInterval.String(),
		"hourly_interval", r.opts.HourlyInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopped")
			return nil
		case <-daily.C:
			if _, err := r.RunDaily(ctx); err != nil {
				r.logger.Error("daily job failed", "error", err)
			}
		case <-hourly.C:
			if _, err := r.RunHourly(ctx); err != nil {
				r.logger.Error("hourly job failed", "error", err)
			}
		}
	}
}

// RunDaily collects taxes and then pays UBI. When the bank cannot afford
// UBI it collects once more and tries UBI a second time; a second shortfall
// is accepted.
func (r *Runner) RunDaily(ctx context.Context) (DailyResult, error) {
	var res DailyResult
	err := r.withLock(ctx, dailyLockKey, func(ctx context.Context) error {
		collected, err := r.collect(ctx)
		if err != nil {
			return err
		}
		res.Collected = collected

		share, paid, err := r.disperse(ctx)
		if err != nil {
			return err
		}
		if !paid {
			r.logger.Info("re-running taxes and ubi")
			res.Rerun = true
			again, err := r.collect(ctx)
			if err != nil {
				return err
			}
			res.Collected = res.Collected.Add(again)
			if share, paid, err = r.disperse(ctx); err != nil {
				return err
			}
		}
		res.Share, res.Paid = share, paid
		return nil
	})
	if errors.Is(err, errLockHeld) {
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		return res, err
	}

	r.record("daily_job", res)
	r.logger.Info("daily job finished",
		"collected", res.Collected.String(),
		"share", res.Share.String(),
		"paid", res.Paid,
		"rerun", res.Rerun,
	)
	return res, nil
}

// RunHourly audits conservation. A detected leak is reported, not an error.
func (r *Runner) RunHourly(ctx context.Context) (ledger.ConservationReport, error) {
	var report ledger.ConservationReport
	err := r.withLock(ctx, hourlyLockKey, func(ctx context.Context) error {
		return Retry(ctx, r.opts.RetryAttempts, r.opts.RetryBackoff, func(ctx context.Context) error {
			var err error
			report, err = r.ledger.ConservationReport(ctx)
			return err
		})
	})
	if errors.Is(err, errLockHeld) {
		return report, nil
	}
	if err != nil {
		return report, err
	}

	r.record("conservation_audit", report)
	if !report.IsValid() {
		r.logger.Warn("hourly audit found a leak", "leak", report.Leak.String(), "message", report.Message())
	}
	return report, nil
}

func (r *Runner) collect(ctx context.Context) (amount.Amount, error) {
	var collected amount.Amount
	err := Retry(ctx, r.opts.RetryAttempts, r.opts.RetryBackoff, func(ctx context.Context) error {
		var err error
		collected, err = r.ledger.CollectTaxes(ctx)
		return err
	})
	if err != nil {
		return amount.Zero, fmt.Errorf("collect taxes: %w", err)
	}
	return collected, nil
}

func (r *Runner) disperse(ctx context.Context) (amount.Amount, bool, error) {
	var (
		share amount.Amount
		paid  bool
	)
	err := Retry(ctx, r.opts.RetryAttempts, r.opts.RetryBackoff, func(ctx context.Context) error {
		var err error
		share, paid, err = r.ledger.DisperseUBI(ctx)
		return err
	})
	if err != nil {
		return amount.Zero, false, fmt.Errorf("disperse ubi: %w", err)
	}
	return share, paid, nil
}

func (r *Runner) record(kind string, data any) {
	if _, err := r.recorder.Append(audit.Event{Kind: kind, Actor: "scheduler", Data: data}); err != nil {
		r.logger.Error("failed to append audit trail", "kind", kind, "error", err)
	}
}
