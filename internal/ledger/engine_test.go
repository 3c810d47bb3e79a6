package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/doint-ledger/internal/amount"
)

// TestExecuteTransfer_UserToUser tests a fee-bearing payment between users
func TestExecuteTransfer_UserToUser(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.setBank(t, "0", "2000")
	env.setFees(t, "1", 100)
	env.addUser(t, 1, "1000")
	env.addUser(t, 2, "1000")

	receipt, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), "50", true, UserPayment))
	require.NoError(t, err)

	assert.Equal(t, UserParty(1), receipt.Sender)
	assert.Equal(t, UserParty(2), receipt.Recipient)
	requireAmount(t, "50", receipt.AmountSent)
	require.NotNil(t, receipt.FeePaid)
	requireAmount(t, "6", *receipt.FeePaid)
	assert.Equal(t, ReasonUserPayment, receipt.Reason.Kind())

	requireAmount(t, "944", env.balance(t, 1))
	requireAmount(t, "1050", env.balance(t, 2))
	requireAmount(t, "6", env.bank(t).OnHand)

	leak, err := env.ledger.AuditConservation(ctx)
	require.NoError(t, err)
	assert.Equal(t, LeakNone, leak)
}

// TestExecuteTransfer_WithoutFees tests that FeePaid is absent when fees are
// not applied
func TestExecuteTransfer_WithoutFees(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.setFees(t, "1", 100)
	env.addUser(t, 1, "10")
	env.addUser(t, 2, "0")

	receipt, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), "10", false, CrimeRobbery))
	require.NoError(t, err)
	assert.Nil(t, receipt.FeePaid)

	requireAmount(t, "0", env.balance(t, 1))
	requireAmount(t, "10", env.balance(t, 2))
}

// TestExecuteTransfer_Bank tests both directions between the bank and a user
func TestExecuteTransfer_Bank(t *testing.T) {
	ctx := context.Background()

	t.Run("BankToUser", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "50", "1050")
		env.addUser(t, 1, "1000")

		receipt, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, BankParty(), UserParty(1), "50", false, UniversalBasicIncome))
		require.NoError(t, err)
		assert.Nil(t, receipt.FeePaid)

		requireAmount(t, "0", env.bank(t).OnHand)
		requireAmount(t, "1050", env.balance(t, 1))
	})

	t.Run("BankWithNothingOnHand", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "0", "1000")
		env.addUser(t, 1, "1000")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, BankParty(), UserParty(1), "1", false, CasinoWin))
		var funds *InsufficientFundsError
		require.ErrorAs(t, err, &funds)
		assert.True(t, funds.Party.IsBank())
		requireAmount(t, "1000", env.balance(t, 1))
	})

	t.Run("BankShort", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "10", "1010")
		env.addUser(t, 1, "1000")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, BankParty(), UserParty(1), "10.01", false, CasinoWin))
		var funds *InsufficientFundsError
		require.ErrorAs(t, err, &funds)
		requireAmount(t, "10", env.bank(t).OnHand)
	})

	t.Run("UserToBank", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "0", "100")
		env.setFees(t, "1", 0)
		env.addUser(t, 1, "100")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), BankParty(), "25", true, CasinoLoss))
		require.NoError(t, err)

		requireAmount(t, "74", env.balance(t, 1))
		requireAmount(t, "26", env.bank(t).OnHand)
	})
}

// TestExecuteTransfer_InsufficientFunds tests that the fee counts against the
// sender's balance
func TestExecuteTransfer_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.setFees(t, "1", 10)
	env.addUser(t, 1, "1000")
	env.addUser(t, 2, "1000")

	_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), "990", true, UserPayment))
	var funds *InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, UserParty(1), funds.Party)
	requireAmount(t, "990", funds.Amount)
	requireAmount(t, "10.9", funds.Fee)
	requireAmount(t, "1000", funds.Available)
	assert.False(t, IsRetryable(err))

	requireAmount(t, "1000", env.balance(t, 1))
	requireAmount(t, "1000", env.balance(t, 2))
	requireAmount(t, "0", env.bank(t).OnHand)
}

// TestExecuteTransfer_MissingParties tests transfers that name users who do
// not exist
func TestExecuteTransfer_MissingParties(t *testing.T) {
	ctx := context.Background()

	t.Run("RecipientMissingChargesFee", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "0", "1000")
		env.setFees(t, "1", 100)
		env.addUser(t, 1, "1000")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(404), "50", true, UserPayment))
		var pe *InvalidPartyError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, UserParty(404), pe.Party)
		requireAmount(t, "6", pe.FeeCharged)

		requireAmount(t, "994", env.balance(t, 1))
		requireAmount(t, "6", env.bank(t).OnHand)

		leak, err := env.ledger.AuditConservation(ctx)
		require.NoError(t, err)
		assert.Equal(t, LeakNone, leak)

		entries, err := env.ledger.Journal(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, JournalFeeOnly, entries[0].Kind)
		requireAmount(t, "6", entries[0].Fee)
	})

	t.Run("RecipientMissingWithoutFees", func(t *testing.T) {
		env := newTestEnv(t)
		env.setFees(t, "1", 100)
		env.addUser(t, 1, "1000")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(404), "50", false, UserPayment))
		var pe *InvalidPartyError
		require.ErrorAs(t, err, &pe)
		assert.True(t, pe.FeeCharged.IsZero())
		requireAmount(t, "1000", env.balance(t, 1))
		requireAmount(t, "0", env.bank(t).OnHand)
	})

	t.Run("RecipientMissingAndUnaffordable", func(t *testing.T) {
		env := newTestEnv(t)
		env.setFees(t, "1", 0)
		env.addUser(t, 1, "10")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(404), "50", true, UserPayment))
		var funds *InsufficientFundsError
		require.ErrorAs(t, err, &funds)
		requireAmount(t, "10", env.balance(t, 1))
	})

	t.Run("SenderMissing", func(t *testing.T) {
		env := newTestEnv(t)
		env.addUser(t, 2, "1000")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(404), UserParty(2), "50", false, UserPayment))
		var pe *InvalidPartyError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, UserParty(404), pe.Party)
		assert.True(t, IsNotFound(err))
	})

	t.Run("BankToMissingUser", func(t *testing.T) {
		env := newTestEnv(t)
		env.setBank(t, "50", "50")

		_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, BankParty(), UserParty(404), "50", false, CasinoWin))
		var pe *InvalidPartyError
		require.ErrorAs(t, err, &pe)
		requireAmount(t, "50", env.bank(t).OnHand)
	})
}

// TestExecuteTransfer_Atomicity tests that a storage failure part way
// through the writes leaves every balance untouched
func TestExecuteTransfer_Atomicity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.setBank(t, "0", "2000")
	env.setFees(t, "1", 10)
	env.addUser(t, 1, "1000")
	env.addUser(t, 2, "1000")

	// Users are written in ascending id order, so the sender and the bank
	// are already saved when the recipient's write fails.
	faulty := New(&faultStore{Store: env.store, failUser: 2, err: errors.New("disk unplugged")}, discardLogger())

	_, err := faulty.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), "100", true, UserPayment))
	require.Error(t, err)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "execute transfer", se.Op)
	assert.True(t, IsRetryable(err))

	requireAmount(t, "1000", env.balance(t, 1))
	requireAmount(t, "1000", env.balance(t, 2))
	requireAmount(t, "0", env.bank(t).OnHand)

	entries, err := env.ledger.Journal(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestExecuteTransfer_BackAndForth replays the flat 1 plus 1% scenario: every
// amount up to 989 fits under a 1000 balance with its fee, nothing from 990
// does.
func TestExecuteTransfer_BackAndForth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long transfer sweep in short mode")
	}
	ctx := context.Background()
	env := newTestEnv(t)
	env.setBank(t, "0", "2000")
	env.setFees(t, "1", 10)

	for n := 1; n <= 989; n++ {
		env.addUser(t, 1, "1000")
		env.addUser(t, 2, "1000")
		amt := fmt.Sprint(n)

		there, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(1), UserParty(2), amt, true, UserPayment))
		require.NoError(t, err, "amount %d", n)
		back, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, UserParty(2), UserParty(1), amt, true, UserPayment))
		require.NoError(t, err, "amount %d", n)

		requireAmount(t, amt, there.AmountSent)
		assert.True(t, there.AmountSent.Equal(back.AmountSent))
	}

	env.addUser(t, 1, "1000")
	env.addUser(t, 2, "1000")
	for n := 990; n < 1100; n++ {
		for _, dir := range [][2]Party{{UserParty(1), UserParty(2)}, {UserParty(2), UserParty(1)}} {
			_, err := env.ledger.ExecuteTransfer(ctx, mustTransfer(t, dir[0], dir[1], fmt.Sprint(n), true, UserPayment))
			var funds *InsufficientFundsError
			require.ErrorAs(t, err, &funds, "amount %d", n)
		}
	}

	assert.True(t, env.bank(t).OnHand.IsPositive())
}

// TestExecuteTransfer_Conservation tests that mixed traffic keeps supply
// equal to holdings
func TestExecuteTransfer_Conservation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.setBank(t, "500", "3500")
	env.setFees(t, "0.25", 15)
	env.setRates(t, 25, 100)
	env.addUser(t, 1, "1000")
	env.addUser(t, 2, "1000")
	env.addUser(t, 3, "1000")

	steps := []Transfer{
		mustTransfer(t, UserParty(1), UserParty(2), "123.45", true, UserPayment),
		mustTransfer(t, UserParty(2), UserParty(3), "0.01", true, AnnotatedPayment("gum")),
		mustTransfer(t, UserParty(3), BankParty(), "77.7", false, CasinoLoss),
		mustTransfer(t, BankParty(), UserParty(1), "33.33", false, CasinoWin),
		mustTransfer(t, UserParty(2), UserParty(1), "999", true, CrimeRobbery),
	}
	for _, step := range steps {
		_, err := env.ledger.ExecuteTransfer(ctx, step)
		require.NoError(t, err)
	}
	_, err := env.ledger.CollectTaxes(ctx)
	require.NoError(t, err)
	_, paid, err := env.ledger.DisperseUBI(ctx)
	require.NoError(t, err)
	assert.True(t, paid)

	report, err := env.ledger.ConservationReport(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid(), report.Message())
	requireAmount(t, "3500", report.Actual)
}

// TestCalculateFee_Ledger tests fee quotes against the stored schedule
func TestCalculateFee_Ledger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.setFees(t, "1", 10)

	fee, err := env.ledger.CalculateFee(ctx, amount.New(10))
	require.NoError(t, err)
	requireAmount(t, "1.1", fee)

	schedule, err := env.ledger.FeeSchedule(ctx)
	require.NoError(t, err)
	requireAmount(t, "1", schedule.FlatFee)
	assert.Equal(t, 10, schedule.PercentageFee)
}
