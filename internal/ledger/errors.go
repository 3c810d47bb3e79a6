package ledger

import (
	"errors"
	"fmt"

	"github.com/example/doint-ledger/internal/amount"
)

var (
	// ErrPointlessTransfer rejects self transfers and non-positive amounts.
	ErrPointlessTransfer = errors.New("ledger: pointless transfer")
	// ErrFeesOnBankSender rejects fees on transfers paid by the bank.
	ErrFeesOnBankSender = errors.New("ledger: fees cannot be charged to the bank")
	// ErrUserNotFound is returned by user lookups for unknown ids.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrNonPositiveAmount rejects mints of zero or less.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	// ErrBankMissing means the singleton bank row was never seeded.
	ErrBankMissing = errors.New("ledger: bank row missing")
	// ErrInvalidFeeSchedule rejects negative or out of range fee settings.
	ErrInvalidFeeSchedule = errors.New("ledger: invalid fee schedule")
	// ErrUserExists is returned by stores when creating a duplicate user.
	ErrUserExists = errors.New("ledger: user already exists")
)

// InsufficientFundsError reports that the sender cannot cover the principal
// plus fee. Available is the sender's balance at the time of the check.
type InsufficientFundsError struct {
	Party     Party
	Amount    amount.Amount
	Fee       amount.Amount
	Available amount.Amount
}

// Required is the total debit the transfer needed.
func (e *InsufficientFundsError) Required() amount.Amount {
	return e.Amount.Add(e.Fee)
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: %s has insufficient funds: needs %s (amount %s, fee %s), has %s",
		e.Party, e.Required(), e.Amount, e.Fee, e.Available)
}

// InvalidPartyError reports a party that does not exist in the store.
// FeeCharged is the fee moved to the bank before the transfer was refused.
type InvalidPartyError struct {
	Party      Party
	FeeCharged amount.Amount
}

func (e *InvalidPartyError) Error() string {
	if e.FeeCharged.IsPositive() {
		return fmt.Sprintf("ledger: invalid party %s (fee %s charged)", e.Party, e.FeeCharged)
	}
	return fmt.Sprintf("ledger: invalid party %s", e.Party)
}

// InvalidReasonError reports a reason that may not move value between the
// given party kinds.
type InvalidReasonError struct {
	Reason    Reason
	Sender    Party
	Recipient Party
}

func (e *InvalidReasonError) Error() string {
	return fmt.Sprintf("ledger: reason %s not allowed from %s to %s",
		e.Reason, e.Sender.Kind(), e.Recipient.Kind())
}

// NegativeBalanceError aborts a posting that would leave a balance below
// zero.
type NegativeBalanceError struct {
	Party   Party
	Balance amount.Amount
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("ledger: posting would leave %s at %s", e.Party, e.Balance)
}

// StorageError wraps a persistence failure. The enclosing transaction has
// been rolled back when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger: storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether retrying the whole operation may succeed.
// Only storage failures qualify; rule violations and an unseeded bank will
// fail again.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && !errors.Is(err, ErrBankMissing)
}

// isRuleError separates ledger rule violations, which pass through
// unchanged, from failures of the underlying store.
func isRuleError(err error) bool {
	var (
		funds    *InsufficientFundsError
		party    *InvalidPartyError
		reason   *InvalidReasonError
		negative *NegativeBalanceError
		storage  *StorageError
	)
	switch {
	case errors.As(err, &funds), errors.As(err, &party), errors.As(err, &reason),
		errors.As(err, &negative), errors.As(err, &storage):
		return true
	case errors.Is(err, ErrPointlessTransfer), errors.Is(err, ErrFeesOnBankSender),
		errors.Is(err, ErrUserNotFound), errors.Is(err, ErrNonPositiveAmount),
		errors.Is(err, ErrInvalidFeeSchedule), errors.Is(err, ErrBankMissing):
		return true
	default:
		return false
	}
}

// ErrorKind groups ledger errors the way callers must react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindInvalid is a malformed or disallowed request.
	KindInvalid
	// KindInsufficientFunds is a well-formed request the balances cannot cover.
	KindInsufficientFunds
	// KindNotFound is a party that does not exist.
	KindNotFound
	// KindUnavailable is a storage failure; retrying may succeed.
	KindUnavailable
)

// KindOf classifies err for transports.
func KindOf(err error) ErrorKind {
	var (
		funds    *InsufficientFundsError
		negative *NegativeBalanceError
		party    *InvalidPartyError
		reason   *InvalidReasonError
		storage  *StorageError
	)
	switch {
	case errors.As(err, &funds), errors.As(err, &negative):
		return KindInsufficientFunds
	case errors.As(err, &party), errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.As(err, &reason), errors.Is(err, ErrPointlessTransfer),
		errors.Is(err, ErrFeesOnBankSender), errors.Is(err, ErrNonPositiveAmount),
		errors.Is(err, ErrInvalidFeeSchedule):
		return KindInvalid
	case errors.As(err, &storage):
		return KindUnavailable
	default:
		return KindInternal
	}
}
