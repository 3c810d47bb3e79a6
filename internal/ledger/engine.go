package ledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/doint-ledger/internal/amount"
)

// ExecuteTransfer moves t.Amount from sender to recipient, plus a fee from
// sender to the bank when fees apply.
//
// When the recipient user does not exist the principal never moves, but the
// fee is still charged to the sender in its own committed step and the call
// fails with *InvalidPartyError carrying the fee that was taken.
func (l *Ledger) ExecuteTransfer(ctx context.Context, t Transfer) (receipt Receipt, err error) {
	ctx, span := startSpan(ctx, "ExecuteTransfer",
		attribute.String("transfer.sender", t.sender.String()),
		attribute.String("transfer.recipient", t.recipient.String()),
		attribute.String("transfer.amount", t.amount.String()),
		attribute.String("transfer.reason", t.reason.kind.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := t.validate(); err != nil {
		return Receipt{}, err
	}

	var (
		recipientMissing bool
		feeTaken         amount.Amount
	)
	err = l.inTx(ctx, "execute transfer", func(tx Tx) error {
		recipientMissing = false
		p := newPosting(tx, l.now())

		fee := amount.Zero
		if t.applyFees {
			schedule, err := tx.FeeSchedule(ctx)
			if err != nil {
				return err
			}
			fee = CalculateFee(schedule, t.amount)
		}
		debit := t.amount.Add(fee)

		withBank := fee.IsPositive() || t.sender.IsBank() || t.recipient.IsBank()
		if err := p.lock(ctx, withBank, t.sender, t.recipient); err != nil {
			return err
		}

		available, found, err := p.balance(ctx, t.sender)
		if err != nil {
			return err
		}
		if !found {
			return &InvalidPartyError{Party: t.sender}
		}
		if t.sender.IsBank() && !available.IsPositive() {
			return &InsufficientFundsError{Party: t.sender, Amount: t.amount, Fee: fee, Available: available}
		}
		if debit.GreaterThan(available) {
			return &InsufficientFundsError{Party: t.sender, Amount: t.amount, Fee: fee, Available: available}
		}

		_, found, err = p.balance(ctx, t.recipient)
		if err != nil {
			return err
		}
		if !found {
			recipientMissing = true
			feeTaken = fee
			if err := p.move(ctx, t.sender, BankParty(), fee); err != nil {
				return err
			}
			if fee.IsPositive() {
				p.record(JournalFeeOnly, t.reason.String(), t.sender, BankParty(), amount.Zero, fee)
			}
			return p.commit(ctx)
		}

		if err := p.move(ctx, t.sender, t.recipient, t.amount); err != nil {
			return err
		}
		if err := p.move(ctx, t.sender, BankParty(), fee); err != nil {
			return err
		}
		journalID := p.record(JournalTransfer, t.reason.String(), t.sender, t.recipient, t.amount, fee)
		if err := p.commit(ctx); err != nil {
			return err
		}

		receipt = Receipt{
			JournalID:  journalID,
			Sender:     t.sender,
			Recipient:  t.recipient,
			AmountSent: t.amount,
			Reason:     t.reason,
		}
		if t.applyFees {
			paid := fee
			receipt.FeePaid = &paid
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	if recipientMissing {
		l.logger.Warn("transfer to missing party refused",
			"sender", t.sender.String(),
			"recipient", t.recipient.String(),
			"fee_charged", feeTaken.String(),
		)
		return Receipt{}, &InvalidPartyError{Party: t.recipient, FeeCharged: feeTaken}
	}

	l.logger.Debug("transfer executed",
		"journal_id", receipt.JournalID,
		"sender", t.sender.String(),
		"recipient", t.recipient.String(),
		"amount", t.amount.String(),
		"reason", t.reason.String(),
	)
	return receipt, nil
}
