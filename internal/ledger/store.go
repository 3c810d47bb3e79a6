package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/doint-ledger/internal/amount"
)

// Bank is the singleton bank row. OnHand is liquid and spendable; Total is
// the recorded supply that the auditor checks against actual holdings.
type Bank struct {
	OnHand  amount.Amount `json:"doints_on_hand"`
	Total   amount.Amount `json:"total_doints"`
	TaxRate int           `json:"tax_rate"`
	UBIRate int           `json:"ubi_rate"`
}

// User is a single account holder.
type User struct {
	ID      uint64        `json:"id"`
	Balance amount.Amount `json:"bal"`
}

// RateKind selects which bank rate SetRate writes.
type RateKind int

const (
	TaxRate RateKind = iota
	UBIRate
)

func (k RateKind) String() string {
	if k == UBIRate {
		return "ubi_rate"
	}
	return "tax_rate"
}

// JournalKind classifies a journal row.
type JournalKind string

const (
	JournalTransfer JournalKind = "transfer"
	JournalFeeOnly  JournalKind = "fee_only"
	JournalTax      JournalKind = "tax"
	JournalUBI      JournalKind = "ubi"
	JournalOptOut   JournalKind = "opt_out"
	JournalMint     JournalKind = "mint"
)

// JournalEntry records one committed value movement. Batch jobs share a
// BatchID across the rows they write.
type JournalEntry struct {
	ID        uuid.UUID     `json:"id"`
	BatchID   uuid.UUID     `json:"batch_id"`
	Kind      JournalKind   `json:"kind"`
	Reason    string        `json:"reason"`
	Sender    Party         `json:"sender"`
	Recipient Party         `json:"recipient"`
	Amount    amount.Amount `json:"amount"`
	Fee       amount.Amount `json:"fee"`
	CreatedAt time.Time     `json:"created_at"`
}

// Tx is the set of reads and writes available inside one storage
// transaction. Reads with forUpdate lock the row until commit where the
// backend supports row locks.
type Tx interface {
	Bank(ctx context.Context, forUpdate bool) (Bank, error)
	SaveBank(ctx context.Context, b Bank) error
	SetRate(ctx context.Context, kind RateKind, rate int) error
	FeeSchedule(ctx context.Context) (FeeSchedule, error)
	SaveFeeSchedule(ctx context.Context, s FeeSchedule) error

	User(ctx context.Context, id uint64, forUpdate bool) (User, bool, error)
	SaveUser(ctx context.Context, u User) error
	CreateUser(ctx context.Context, id uint64) (bool, error)
	DeleteUser(ctx context.Context, id uint64) error
	Users(ctx context.Context, positiveOnly bool) ([]User, error)
	TopUsers(ctx context.Context, limit int, ascending bool) ([]User, error)
	SumBalances(ctx context.Context) (amount.Amount, error)

	InsertJournal(ctx context.Context, e JournalEntry) error
	Journal(ctx context.Context, limit int) ([]JournalEntry, error)
}

// Store persists the bank, the fee schedule and the users. InTx commits when
// fn returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
