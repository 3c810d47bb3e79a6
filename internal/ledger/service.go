package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/doint-ledger/internal/amount"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
	maxJournalPage         = 500
)

var tracer = otel.Tracer("github.com/example/doint-ledger/internal/ledger")

// Ledger is the closed-economy engine. Every public method runs in exactly
// one storage transaction and never retries; retry policy belongs to the
// caller.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger over the given store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// inTx runs fn in one transaction. Rule violations pass through unchanged;
// anything else is a storage failure.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(Tx) error) error {
	err := l.store.InTx(ctx, fn)
	if err == nil || isRuleError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// BankBalance returns the bank's liquid holdings.
func (l *Ledger) BankBalance(ctx context.Context) (_ amount.Amount, err error) {
	ctx, span := startSpan(ctx, "BankBalance")
	defer func() { endSpan(span, err) }()

	b, err := l.BankInfo(ctx)
	if err != nil {
		return amount.Zero, err
	}
	return b.OnHand, nil
}

// BankInfo returns the whole bank row.
func (l *Ledger) BankInfo(ctx context.Context) (bank Bank, err error) {
	ctx, span := startSpan(ctx, "BankInfo")
	defer func() { endSpan(span, err) }()

	err = l.inTx(ctx, "read bank", func(tx Tx) error {
		var err error
		bank, err = tx.Bank(ctx, false)
		return err
	})
	return bank, err
}

// SetTaxRate stores a new tax rate in tenths of a percent. It returns false
// when the rate is outside 0..1000 or the write fails.
func (l *Ledger) SetTaxRate(ctx context.Context, rate int) bool {
	return l.setRate(ctx, TaxRate, rate)
}

// SetUBIRate stores a new UBI rate in tenths of a percent. It returns false
// when the rate is outside 0..1000 or the write fails.
func (l *Ledger) SetUBIRate(ctx context.Context, rate int) bool {
	return l.setRate(ctx, UBIRate, rate)
}

func (l *Ledger) setRate(ctx context.Context, kind RateKind, rate int) bool {
	ctx, span := startSpan(ctx, "SetRate", attribute.String("rate.kind", kind.String()), attribute.Int("rate.value", rate))
	var err error
	defer func() { endSpan(span, err) }()

	if rate < 0 || rate > amount.MaxRate {
		l.logger.Warn("rejected rate change", "kind", kind, "rate", rate)
		return false
	}
	err = l.inTx(ctx, "set "+kind.String(), func(tx Tx) error {
		return tx.SetRate(ctx, kind, rate)
	})
	if err != nil {
		l.logger.Error("failed to set rate", "kind", kind, "rate", rate, "error", err)
		return false
	}
	l.logger.Info("rate changed", "kind", kind, "rate", rate)
	return true
}

// CalculateFee prices a transfer of amt against the current fee schedule.
func (l *Ledger) CalculateFee(ctx context.Context, amt amount.Amount) (fee amount.Amount, err error) {
	ctx, span := startSpan(ctx, "CalculateFee")
	defer func() { endSpan(span, err) }()

	err = l.inTx(ctx, "read fee schedule", func(tx Tx) error {
		s, err := tx.FeeSchedule(ctx)
		if err != nil {
			return err
		}
		fee = CalculateFee(s, amt)
		return nil
	})
	return fee, err
}

// FeeSchedule returns the current fee configuration.
func (l *Ledger) FeeSchedule(ctx context.Context) (s FeeSchedule, err error) {
	err = l.inTx(ctx, "read fee schedule", func(tx Tx) error {
		var err error
		s, err = tx.FeeSchedule(ctx)
		return err
	})
	return s, err
}

// SetFeeSchedule replaces the fee configuration. The flat fee must not be
// negative and the percentage must be a rate in 0..1000.
func (l *Ledger) SetFeeSchedule(ctx context.Context, s FeeSchedule) (err error) {
	ctx, span := startSpan(ctx, "SetFeeSchedule",
		attribute.String("fees.flat", s.FlatFee.String()), attribute.Int("fees.percentage", s.PercentageFee))
	defer func() { endSpan(span, err) }()

	if s.FlatFee.IsNegative() || s.PercentageFee < 0 || s.PercentageFee > amount.MaxRate {
		return fmt.Errorf("%w: flat %s, percentage %d", ErrInvalidFeeSchedule, s.FlatFee, s.PercentageFee)
	}
	err = l.inTx(ctx, "set fee schedule", func(tx Tx) error {
		return tx.SaveFeeSchedule(ctx, s)
	})
	if err == nil {
		l.logger.Info("fee schedule changed", "flat_fee", s.FlatFee.String(), "percentage_fee", s.PercentageFee)
	}
	return err
}

// Enroll opts a user into the economy with a zero balance. created is false
// when the user already existed.
func (l *Ledger) Enroll(ctx context.Context, id uint64) (created bool, err error) {
	ctx, span := startSpan(ctx, "Enroll", attribute.Int64("user.id", int64(id)))
	defer func() { endSpan(span, err) }()

	if id > math.MaxInt64 {
		return false, &InvalidPartyError{Party: UserParty(id)}
	}
	err = l.inTx(ctx, "enroll user", func(tx Tx) error {
		var err error
		created, err = tx.CreateUser(ctx, id)
		return err
	})
	if err == nil && created {
		l.logger.Info("user enrolled", "user_id", id)
	}
	return created, err
}

// Unenroll opts a user out. Their remaining balance goes back to the bank
// and the row is deleted in the same transaction, so supply is conserved.
func (l *Ledger) Unenroll(ctx context.Context, id uint64) (refunded amount.Amount, err error) {
	ctx, span := startSpan(ctx, "Unenroll", attribute.Int64("user.id", int64(id)))
	defer func() { endSpan(span, err) }()

	err = l.inTx(ctx, "unenroll user", func(tx Tx) error {
		p := newPosting(tx, l.now())
		if err := p.lock(ctx, true, UserParty(id)); err != nil {
			return err
		}
		bal, found, err := p.balance(ctx, UserParty(id))
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}
		if err := p.move(ctx, UserParty(id), BankParty(), bal); err != nil {
			return err
		}
		p.record(JournalOptOut, OptOut.String(), UserParty(id), BankParty(), bal, amount.Zero)
		p.remove(id)
		refunded = bal
		return p.commit(ctx)
	})
	if err != nil {
		return amount.Zero, err
	}
	l.logger.Info("user unenrolled", "user_id", id, "refunded", refunded.String())
	return refunded, nil
}

// User returns one account.
func (l *Ledger) User(ctx context.Context, id uint64) (u User, err error) {
	err = l.inTx(ctx, "read user", func(tx Tx) error {
		var (
			found bool
			err   error
		)
		u, found, err = tx.User(ctx, id, false)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}
		return nil
	})
	return u, err
}

// Leaderboard returns the richest users, or the poorest when ascending.
// limit is clamped to 1..100 and defaults to 10.
func (l *Ledger) Leaderboard(ctx context.Context, limit int, ascending bool) (users []User, err error) {
	switch {
	case limit <= 0:
		limit = defaultLeaderboardSize
	case limit > maxLeaderboardSize:
		limit = maxLeaderboardSize
	}
	err = l.inTx(ctx, "read leaderboard", func(tx Tx) error {
		var err error
		users, err = tx.TopUsers(ctx, limit, ascending)
		return err
	})
	return users, err
}

// Mint adds new doints to the bank, growing the recorded supply by the same
// amount.
func (l *Ledger) Mint(ctx context.Context, amt amount.Amount) (bank Bank, err error) {
	ctx, span := startSpan(ctx, "Mint", attribute.String("amount", amt.String()))
	defer func() { endSpan(span, err) }()

	if !amt.IsPositive() {
		return Bank{}, ErrNonPositiveAmount
	}
	err = l.inTx(ctx, "mint", func(tx Tx) error {
		p := newPosting(tx, l.now())
		if err := p.mint(ctx, amt); err != nil {
			return err
		}
		p.record(JournalMint, "mint", BankParty(), BankParty(), amt, amount.Zero)
		if err := p.commit(ctx); err != nil {
			return err
		}
		bank = *p.bank
		return nil
	})
	if err != nil {
		return Bank{}, err
	}
	l.logger.Info("doints minted", "amount", amt.String(), "total_doints", bank.Total.String())
	return bank, nil
}

// Journal returns up to limit of the most recent journal rows.
func (l *Ledger) Journal(ctx context.Context, limit int) (entries []JournalEntry, err error) {
	if limit <= 0 || limit > maxJournalPage {
		limit = maxJournalPage
	}
	err = l.inTx(ctx, "read journal", func(tx Tx) error {
		var err error
		entries, err = tx.Journal(ctx, limit)
		return err
	})
	return entries, err
}

// Ping checks that the store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.store.Ping(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// IsNotFound reports whether err means a party does not exist.
func IsNotFound(err error) bool {
	var pe *InvalidPartyError
	return errors.Is(err, ErrUserNotFound) || errors.As(err, &pe)
}
