package ledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/doint-ledger/internal/amount"
)

// TaxCharge is the levy on a single positive balance: the balance times the
// rate, rounded up to the dent, raised to at least one doint, and never more
// than the balance itself.
func TaxCharge(balance amount.Amount, rate amount.Ratio) amount.Amount {
	charge := balance.Scale(rate).CeilToCent().ClampMinUnit()
	return amount.Min(charge, balance)
}

// CollectTaxes levies the bank's tax rate on every user with a positive
// balance and credits the proceeds to the bank, all in one transaction.
// A tax rate below 1 (0.1%) collects nothing and writes nothing.
func (l *Ledger) CollectTaxes(ctx context.Context) (collected amount.Amount, err error) {
	ctx, span := startSpan(ctx, "CollectTaxes")
	defer func() { endSpan(span, err) }()

	var (
		taxed int
		rate  int
	)
	err = l.inTx(ctx, "collect taxes", func(tx Tx) error {
		collected, taxed = amount.Zero, 0

		bank, err := tx.Bank(ctx, true)
		if err != nil {
			return err
		}
		rate = bank.TaxRate
		if rate < 1 {
			return nil
		}
		ratio := amount.RateToRatio(rate)

		users, err := tx.Users(ctx, true)
		if err != nil {
			return err
		}

		p := newPosting(tx, l.now())
		p.useBank(bank)
		p.useUsers(users)

		total := amount.Zero
		for _, u := range users {
			if !u.Balance.IsPositive() {
				continue
			}
			charge := TaxCharge(u.Balance, ratio)
			if err := p.move(ctx, UserParty(u.ID), BankParty(), charge); err != nil {
				return err
			}
			p.record(JournalTax, TaxCollection.String(), UserParty(u.ID), BankParty(), charge, amount.Zero)
			total = total.Add(charge)
			taxed++
		}

		if err := p.commit(ctx); err != nil {
			return err
		}
		collected = total
		return nil
	})
	if err != nil {
		return amount.Zero, err
	}

	span.SetAttributes(attribute.Int("tax.rate", rate), attribute.Int("tax.users", taxed))
	if rate < 1 {
		l.logger.Info("tax collection skipped", "tax_rate", rate)
		return amount.Zero, nil
	}
	l.logger.Info("taxes collected", "tax_rate", rate, "users", taxed, "collected", collected.String())
	return collected, nil
}
