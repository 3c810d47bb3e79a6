package ledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/doint-ledger/internal/amount"
)

// Leak classifies a break in the conservation invariant.
type Leak int

const (
	// LeakNone means recorded supply matches actual holdings.
	LeakNone Leak = iota
	// LeakTooMany means holdings exceed recorded supply: value was created.
	LeakTooMany
	// LeakTooFew means recorded supply exceeds holdings: value vanished.
	LeakTooFew
)

func (l Leak) String() string {
	switch l {
	case LeakTooMany:
		return "too_many"
	case LeakTooFew:
		return "too_few"
	default:
		return "none"
	}
}

func (l Leak) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ConservationReport is the outcome of one audit pass. Expected is the
// bank's recorded total; Actual is on-hand plus every user balance.
type ConservationReport struct {
	Expected     amount.Amount `json:"expected"`
	Actual       amount.Amount `json:"actual"`
	OnHand       amount.Amount `json:"doints_on_hand"`
	UserHoldings amount.Amount `json:"user_holdings"`
	Leak         Leak          `json:"leak"`
	Timestamp    time.Time     `json:"timestamp"`
}

// IsValid reports whether no leak was found.
func (r ConservationReport) IsValid() bool { return r.Leak == LeakNone }

// Drift is Actual minus Expected; positive when value was created.
func (r ConservationReport) Drift() amount.Amount { return r.Actual.Sub(r.Expected) }

// Message describes the result for logs and operators.
func (r ConservationReport) Message() string {
	switch r.Leak {
	case LeakTooMany:
		return fmt.Sprintf("supply recorded as %s but %s is held: %s created", r.Expected, r.Actual, r.Drift())
	case LeakTooFew:
		return fmt.Sprintf("supply recorded as %s but only %s is held: %s lost", r.Expected, r.Actual, r.Drift().Neg())
	default:
		return fmt.Sprintf("supply of %s fully accounted for", r.Expected)
	}
}

// AuditConservation compares recorded supply with actual holdings. It never
// writes and never corrects drift.
func (l *Ledger) AuditConservation(ctx context.Context) (Leak, error) {
	r, err := l.ConservationReport(ctx)
	if err != nil {
		return LeakNone, err
	}
	return r.Leak, nil
}

// ConservationReport is AuditConservation with the figures attached.
func (l *Ledger) ConservationReport(ctx context.Context) (report ConservationReport, err error) {
	ctx, span := startSpan(ctx, "AuditConservation")
	defer func() { endSpan(span, err) }()

	err = l.inTx(ctx, "audit conservation", func(tx Tx) error {
		bank, err := tx.Bank(ctx, false)
		if err != nil {
			return err
		}
		held, err := tx.SumBalances(ctx)
		if err != nil {
			return err
		}
		report = ConservationReport{
			Expected:     bank.Total,
			Actual:       bank.OnHand.Add(held),
			OnHand:       bank.OnHand,
			UserHoldings: held,
			Timestamp:    l.now(),
		}
		return nil
	})
	if err != nil {
		return ConservationReport{}, err
	}

	switch report.Expected.Cmp(report.Actual) {
	case -1:
		report.Leak = LeakTooMany
	case 1:
		report.Leak = LeakTooFew
	default:
		report.Leak = LeakNone
	}

	span.SetAttributes(attribute.String("audit.leak", report.Leak.String()))
	if report.IsValid() {
		l.logger.Info("conservation audit passed", "total_doints", report.Expected.String())
	} else {
		l.logger.Error("conservation audit found a leak",
			"leak", report.Leak.String(),
			"expected", report.Expected.String(),
			"actual", report.Actual.String(),
			"drift", report.Drift().String(),
		)
	}
	return report, nil
}
