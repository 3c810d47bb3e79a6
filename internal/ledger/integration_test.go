package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/doint-ledger/internal/amount"
)

// newPostgresLedger connects to TEST_DATABASE_URL and resets the ledger
// tables. The test is skipped when no database is configured.
func newPostgresLedger(t *testing.T) (*Ledger, *pgxpool.Pool) {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("skipping postgres integration test (TEST_DATABASE_URL not set)")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping postgres integration test (database not available): %v", err)
	}
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))

	for _, stmt := range []string{
		"DELETE FROM journal",
		"DELETE FROM users",
		"UPDATE bank SET doints_on_hand = 0, total_doints = 0, tax_rate = 0, ubi_rate = 0",
		"UPDATE fees SET flat_fee = 1, percentage_fee = 10",
	} {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	return New(store, discardLogger()), pool
}

// TestPostgresLedgerWorkflow tests the full cycle against a real database
func TestPostgresLedgerWorkflow(t *testing.T) {
	l, _ := newPostgresLedger(t)
	ctx := context.Background()

	t.Run("Setup", func(t *testing.T) {
		_, err := l.Mint(ctx, amount.New(3000))
		require.NoError(t, err)
		for _, id := range []uint64{1, 2} {
			created, err := l.Enroll(ctx, id)
			require.NoError(t, err)
			assert.True(t, created)
			_, err = l.ExecuteTransfer(ctx, mustTransfer(t, BankParty(), UserParty(id), "1000", false, CasinoWin))
			require.NoError(t, err)
		}
	})

	t.Run("Transfer", func(t *testing.T) {
		receipt, err := l.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), "10", true, UserPayment))
		require.NoError(t, err)
		requireAmount(t, "1.1", *receipt.FeePaid)

		_, err = l.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), "990", true, UserPayment))
		var funds *InsufficientFundsError
		require.ErrorAs(t, err, &funds)
	})

	t.Run("MissingRecipient", func(t *testing.T) {
		_, err := l.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(404), "10", true, UserPayment))
		var pe *InvalidPartyError
		require.ErrorAs(t, err, &pe)
		requireAmount(t, "1.1", pe.FeeCharged)
	})

	t.Run("BatchJobs", func(t *testing.T) {
		require.True(t, l.SetTaxRate(ctx, 25))
		require.True(t, l.SetUBIRate(ctx, 100))

		collected, err := l.CollectTaxes(ctx)
		require.NoError(t, err)
		assert.True(t, collected.IsPositive())

		_, paid, err := l.DisperseUBI(ctx)
		require.NoError(t, err)
		assert.True(t, paid)
		assertBatchOrder(t, l, 2)
	})

	t.Run("ConcurrentTransfers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				from, to := UserParty(1), UserParty(2)
				if i%2 == 1 {
					from, to = to, from
				}
				tr, err := NewTransfer(from, to, amount.New(1), true, UserPayment)
				if err != nil {
					return
				}
				_, _ = l.ExecuteTransfer(ctx, tr)
			}(i)
		}
		wg.Wait()
	})

	t.Run("Conservation", func(t *testing.T) {
		report, err := l.ConservationReport(ctx)
		require.NoError(t, err)
		assert.True(t, report.IsValid(), report.Message())
		requireAmount(t, "3000", report.Expected)
	})

	t.Run("Unenroll", func(t *testing.T) {
		_, err := l.Unenroll(ctx, 2)
		require.NoError(t, err)
		_, err = l.User(ctx, 2)
		assert.ErrorIs(t, err, ErrUserNotFound)

		top, err := l.Leaderboard(ctx, 5, false)
		require.NoError(t, err)
		require.Len(t, top, 1)

		leak, err := l.AuditConservation(ctx)
		require.NoError(t, err)
		assert.Equal(t, LeakNone, leak)
	})
}
