package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/example/doint-ledger/internal/amount"
)

// Transfer is a validated request to move value between two parties.
// Build it with NewTransfer; the zero value is rejected by the engine.
type Transfer struct {
	sender    Party
	recipient Party
	amount    amount.Amount
	applyFees bool
	reason    Reason
}

// NewTransfer checks every structural rule before any storage is touched.
func NewTransfer(sender, recipient Party, amt amount.Amount, applyFees bool, reason Reason) (Transfer, error) {
	t := Transfer{
		sender:    sender,
		recipient: recipient,
		amount:    amt,
		applyFees: applyFees,
		reason:    reason,
	}
	if err := t.validate(); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (t Transfer) Sender() Party         { return t.sender }
func (t Transfer) Recipient() Party      { return t.recipient }
func (t Transfer) Amount() amount.Amount { return t.amount }
func (t Transfer) ApplyFees() bool       { return t.applyFees }
func (t Transfer) Reason() Reason        { return t.reason }

func (t Transfer) validate() error {
	if !t.sender.Valid() {
		return &InvalidPartyError{Party: t.sender}
	}
	if !t.recipient.Valid() {
		return &InvalidPartyError{Party: t.recipient}
	}
	if t.sender == t.recipient {
		return fmt.Errorf("%w: %s pays itself", ErrPointlessTransfer, t.sender)
	}
	if !t.amount.IsPositive() {
		return fmt.Errorf("%w: amount %s is not positive", ErrPointlessTransfer, t.amount)
	}
	if t.applyFees && t.sender.IsBank() {
		return ErrFeesOnBankSender
	}
	if !t.reason.allows(t.sender, t.recipient) {
		return &InvalidReasonError{Reason: t.reason, Sender: t.sender, Recipient: t.recipient}
	}
	return nil
}

// Receipt describes a committed transfer. FeePaid is nil when fees were not
// applied. It is for display and must not drive further mutations.
type Receipt struct {
	JournalID  uuid.UUID      `json:"journal_id"`
	Sender     Party          `json:"sender"`
	Recipient  Party          `json:"recipient"`
	AmountSent amount.Amount  `json:"amount_sent"`
	FeePaid    *amount.Amount `json:"fee_paid,omitempty"`
	Reason     Reason         `json:"-"`
}
