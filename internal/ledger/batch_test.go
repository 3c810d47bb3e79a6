package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/doint-ledger/internal/amount"
)

// TestTaxCharge tests the per-balance levy rounding
func TestTaxCharge(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		rate    int
		want    string
	}{
		{"minimum charge", "50", 1, "1"},
		{"rounds up to the dent", "333.33", 25, "8.34"},
		{"exact", "1000", 25, "25"},
		{"never exceeds balance", "0.5", 1, "0.5"},
		{"full rate takes everything", "12.34", 1000, "12.34"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TaxCharge(amount.MustParse(tt.balance), amount.RateToRatio(tt.rate))
			requireAmount(t, tt.want, got)
		})
	}
}

// TestUBIShare tests the per-head split rounding
func TestUBIShare(t *testing.T) {
	requireAmount(t, "3.33", UBIShare(amount.New(10), 3))
	requireAmount(t, "1", UBIShare(amount.MustParse("0.5"), 1))
	requireAmount(t, "1", UBIShare(amount.New(10), 20))
	requireAmount(t, "2.5", UBIShare(amount.New(10), 4))
}

// TestCollectTaxes tests the batch levy
func TestCollectTaxes(t *testing.T) {
	ctx := context.Background()

	t.Run("MinimumCharge", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "0", "50")
		env.setRates(t, 1, 0)
		env.addUser(t, 1, "50")

		collected, err := env.ledger.CollectTaxes(ctx)
		require.NoError(t, err)
		requireAmount(t, "1", collected)
		requireAmount(t, "49", env.balance(t, 1))
		requireAmount(t, "1", env.bank(t).OnHand)
	})

	t.Run("SkipsEmptyAccounts", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "0", "1000.5")
		env.setRates(t, 25, 0)
		env.addUser(t, 1, "1000")
		env.addUser(t, 2, "0")
		env.addUser(t, 3, "0.5")

		collected, err := env.ledger.CollectTaxes(ctx)
		require.NoError(t, err)
		requireAmount(t, "25.5", collected)
		requireAmount(t, "975", env.balance(t, 1))
		requireAmount(t, "0", env.balance(t, 2))
		requireAmount(t, "0", env.balance(t, 3))
		requireAmount(t, "25.5", env.bank(t).OnHand)

		entries, err := env.ledger.Journal(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, entries[0].BatchID, entries[1].BatchID)
		for _, e := range entries {
			assert.Equal(t, JournalTax, e.Kind)
			assert.True(t, e.Recipient.IsBank())
		}

		leak, err := env.ledger.AuditConservation(ctx)
		require.NoError(t, err)
		assert.Equal(t, LeakNone, leak)
	})

	t.Run("RateZeroDoesNothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.setRates(t, 0, 500)
		env.addUser(t, 1, "1000")

		collected, err := env.ledger.CollectTaxes(ctx)
		require.NoError(t, err)
		assert.True(t, collected.IsZero())
		requireAmount(t, "1000", env.balance(t, 1))

		entries, err := env.ledger.Journal(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("StorageFailureRollsBack", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "0", "2000")
		env.setRates(t, 100, 0)
		env.addUser(t, 1, "1000")
		env.addUser(t, 2, "1000")

		faulty := New(&faultStore{Store: env.store, failUser: 2, err: errors.New("io timeout")}, discardLogger())
		_, err := faulty.CollectTaxes(ctx)
		require.Error(t, err)
		assert.True(t, IsRetryable(err))

		requireAmount(t, "1000", env.balance(t, 1))
		requireAmount(t, "0", env.bank(t).OnHand)
	})
}

// TestDisperseUBI tests the batch payout and its gates
func TestDisperseUBI(t *testing.T) {
	ctx := context.Background()

	t.Run("EvenSplit", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "100", "100")
		env.setRates(t, 0, 100)
		env.addUser(t, 1, "0")
		env.addUser(t, 2, "0")
		env.addUser(t, 3, "0")

		share, paid, err := env.ledger.DisperseUBI(ctx)
		require.NoError(t, err)
		assert.True(t, paid)
		requireAmount(t, "3.33", share)
		for id := uint64(1); id <= 3; id++ {
			requireAmount(t, "3.33", env.balance(t, id))
		}
		requireAmount(t, "90.01", env.bank(t).OnHand)

		leak, err := env.ledger.AuditConservation(ctx)
		require.NoError(t, err)
		assert.Equal(t, LeakNone, leak)
	})

	t.Run("Unaffordable", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "10", "10")
		env.setRates(t, 0, 1000)
		for id := uint64(1); id <= 20; id++ {
			env.addUser(t, id, "0")
		}

		share, paid, err := env.ledger.DisperseUBI(ctx)
		require.NoError(t, err)
		assert.False(t, paid)
		assert.True(t, share.IsZero())
		requireAmount(t, "10", env.bank(t).OnHand)
		requireAmount(t, "0", env.balance(t, 7))
	})

	t.Run("Disabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "100", "100")
		env.setRates(t, 500, 0)
		env.addUser(t, 1, "0")

		share, paid, err := env.ledger.DisperseUBI(ctx)
		require.NoError(t, err)
		assert.True(t, paid)
		assert.True(t, share.IsZero())
		requireAmount(t, "100", env.bank(t).OnHand)
	})

	t.Run("NoUsers", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "100", "100")
		env.setRates(t, 0, 100)

		share, paid, err := env.ledger.DisperseUBI(ctx)
		require.NoError(t, err)
		assert.True(t, paid)
		assert.True(t, share.IsZero())
	})

	t.Run("NotIdempotent", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "100", "100")
		env.setRates(t, 0, 100)
		env.addUser(t, 1, "0")

		_, _, err := env.ledger.DisperseUBI(ctx)
		require.NoError(t, err)
		_, _, err = env.ledger.DisperseUBI(ctx)
		require.NoError(t, err)

		requireAmount(t, "19", env.balance(t, 1))
		requireAmount(t, "81", env.bank(t).OnHand)
	})
}

// TestSetRates tests the admin rate knobs
func TestSetRates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	assert.True(t, env.ledger.SetTaxRate(ctx, 25))
	assert.True(t, env.ledger.SetUBIRate(ctx, 1000))
	assert.False(t, env.ledger.SetTaxRate(ctx, 1001))
	assert.False(t, env.ledger.SetUBIRate(ctx, -1))

	b := env.bank(t)
	assert.Equal(t, 25, b.TaxRate)
	assert.Equal(t, 1000, b.UBIRate)
}
