package ledger

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/doint-ledger/internal/amount"
)

// testEnv bundles a migrated in-memory store with the raw handle used to
// arrange fixtures outside the ledger's own rules.
type testEnv struct {
	db     *sql.DB
	store  *SQLiteStore
	ledger *Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLiteStore(db)
	require.NoError(t, store.Migrate(context.Background()))

	return &testEnv{
		db:     db,
		store:  store,
		ledger: New(store, discardLogger()),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setBank overwrites the bank row. total is the recorded supply.
func (e *testEnv) setBank(t *testing.T, onHand, total string) {
	t.Helper()
	_, err := e.db.Exec("UPDATE bank SET doints_on_hand = ?, total_doints = ? WHERE id = 'B'", onHand, total)
	require.NoError(t, err)
}

func (e *testEnv) setRates(t *testing.T, tax, ubi int) {
	t.Helper()
	_, err := e.db.Exec("UPDATE bank SET tax_rate = ?, ubi_rate = ? WHERE id = 'B'", tax, ubi)
	require.NoError(t, err)
}

func (e *testEnv) setFees(t *testing.T, flat string, pct int) {
	t.Helper()
	_, err := e.db.Exec("UPDATE fees SET flat_fee = ?, percentage_fee = ? WHERE id = 'F'", flat, pct)
	require.NoError(t, err)
}

// addUser inserts or resets a user row directly.
func (e *testEnv) addUser(t *testing.T, id uint64, bal string) {
	t.Helper()
	_, err := e.db.Exec("INSERT OR REPLACE INTO users (id, bal) VALUES (?, ?)", int64(id), bal)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, id uint64) amount.Amount {
	t.Helper()
	u, err := e.ledger.User(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

func (e *testEnv) bank(t *testing.T) Bank {
	t.Helper()
	b, err := e.ledger.BankInfo(context.Background())
	require.NoError(t, err)
	return b
}

func requireAmount(t *testing.T, want string, got amount.Amount, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, amount.MustParse(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func mustTransfer(t *testing.T, sender, recipient Party, amt string, applyFees bool, reason Reason) Transfer {
	t.Helper()
	tr, err := NewTransfer(sender, recipient, amount.MustParse(amt), applyFees, reason)
	require.NoError(t, err)
	return tr
}

// faultStore wraps a Store and hands out transactions whose SaveUser fails
// for one user id, after the earlier writes of the same posting have run.
type faultStore struct {
	Store
	failUser uint64
	err      error
}

func (s *faultStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		return fn(&faultTx{Tx: tx, failUser: s.failUser, err: s.err})
	})
}

type faultTx struct {
	Tx
	failUser uint64
	err      error
}

func (t *faultTx) SaveUser(ctx context.Context, u User) error {
	if u.ID == t.failUser {
		return t.err
	}
	return t.Tx.SaveUser(ctx, u)
}
