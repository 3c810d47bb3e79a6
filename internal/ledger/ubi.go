package ledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/doint-ledger/internal/amount"
)

// UBIShare splits pool evenly across n people: floored to the dent, then
// raised to at least one doint each.
func UBIShare(pool amount.Amount, n int) amount.Amount {
	return pool.DivInt(int64(n)).FloorToCent().ClampMinUnit()
}

// DisperseUBI pays every user an equal share of ubi_rate times the bank's
// liquid holdings.
//
// It returns (0, true) when UBI is disabled or there are no users, and
// (0, false) without moving anything when the bank cannot afford the
// minimum payout. Each successful call is a new payout; it is not
// idempotent.
func (l *Ledger) DisperseUBI(ctx context.Context) (share amount.Amount, paid bool, err error) {
	ctx, span := startSpan(ctx, "DisperseUBI")
	defer func() { endSpan(span, err) }()

	var (
		rate     int
		count    int
		shortBy  amount.Amount
		disabled bool
	)
	err = l.inTx(ctx, "disperse ubi", func(tx Tx) error {
		share, paid, disabled, count, shortBy = amount.Zero, false, false, 0, amount.Zero

		bank, err := tx.Bank(ctx, true)
		if err != nil {
			return err
		}
		rate = bank.UBIRate
		if rate < 1 {
			paid, disabled = true, true
			return nil
		}
		pool := bank.OnHand.Scale(amount.RateToRatio(rate))

		users, err := tx.Users(ctx, false)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			paid, disabled = true, true
			return nil
		}
		count = len(users)

		perHead := UBIShare(pool, count)
		cost := perHead.MulInt(int64(count))
		if cost.GreaterThan(bank.OnHand) {
			shortBy = cost.Sub(bank.OnHand)
			return nil
		}

		p := newPosting(tx, l.now())
		p.useBank(bank)
		p.useUsers(users)
		for _, u := range users {
			if err := p.move(ctx, BankParty(), UserParty(u.ID), perHead); err != nil {
				return err
			}
			p.record(JournalUBI, UniversalBasicIncome.String(), BankParty(), UserParty(u.ID), perHead, amount.Zero)
		}
		// commit re-checks the bank balance after the debit and aborts the
		// whole payout if it went negative.
		if err := p.commit(ctx); err != nil {
			return err
		}
		share, paid = perHead, true
		return nil
	})
	if err != nil {
		return amount.Zero, false, err
	}

	span.SetAttributes(attribute.Int("ubi.rate", rate), attribute.Int("ubi.users", count), attribute.Bool("ubi.paid", paid))
	switch {
	case disabled:
		l.logger.Info("ubi skipped", "ubi_rate", rate, "users", count)
	case !paid:
		l.logger.Warn("ubi unaffordable", "ubi_rate", rate, "users", count, "short_by", shortBy.String())
	default:
		l.logger.Info("ubi dispersed", "ubi_rate", rate, "users", count, "share", share.String())
	}
	return share, paid, nil
}
