package ledger

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/doint-ledger/internal/amount"
)

// TestCalculateFee tests flat plus percentage pricing and its rounding
func TestCalculateFee(t *testing.T) {
	tests := []struct {
		name     string
		schedule FeeSchedule
		amount   string
		want     string
	}{
		{"flat and ten percent", FeeSchedule{FlatFee: amount.New(1), PercentageFee: 100}, "10", "2"},
		{"one percent of ten", FeeSchedule{FlatFee: amount.New(1), PercentageFee: 10}, "10", "1.1"},
		{"no fees", FeeSchedule{}, "500", "0"},
		{"half a dent rounds up", FeeSchedule{PercentageFee: 5}, "1", "0.01"},
		{"below half a dent rounds down", FeeSchedule{PercentageFee: 4}, "1", "0"},
		{"largest passing transfer", FeeSchedule{FlatFee: amount.New(1), PercentageFee: 10}, "989", "10.89"},
		{"negative schedule floors at zero", FeeSchedule{FlatFee: amount.New(-5), PercentageFee: 10}, "10", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateFee(tt.schedule, amount.MustParse(tt.amount))
			requireAmount(t, tt.want, got)
		})
	}
}

// TestNewTransfer_Validation tests every structural rejection
func TestNewTransfer_Validation(t *testing.T) {
	alice, bob := UserParty(1), UserParty(2)

	tests := []struct {
		name      string
		sender    Party
		recipient Party
		amount    string
		applyFees bool
		reason    Reason
		check     func(t *testing.T, err error)
	}{
		{
			name: "pays itself", sender: alice, recipient: alice, amount: "5", reason: UserPayment,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrPointlessTransfer) },
		},
		{
			name: "bank pays itself", sender: BankParty(), recipient: BankParty(), amount: "5", reason: CasinoWin,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrPointlessTransfer) },
		},
		{
			name: "zero amount", sender: alice, recipient: bob, amount: "0", reason: UserPayment,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrPointlessTransfer) },
		},
		{
			name: "negative amount", sender: alice, recipient: bob, amount: "-3", reason: UserPayment,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrPointlessTransfer) },
		},
		{
			name: "fees on bank", sender: BankParty(), recipient: alice, amount: "5", applyFees: true, reason: UniversalBasicIncome,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrFeesOnBankSender) },
		},
		{
			name: "ubi from a user", sender: alice, recipient: bob, amount: "5", reason: UniversalBasicIncome,
			check: func(t *testing.T, err error) {
				var re *InvalidReasonError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, ReasonUniversalBasicIncome, re.Reason.Kind())
			},
		},
		{
			name: "payment to bank", sender: alice, recipient: BankParty(), amount: "5", reason: UserPayment,
			check: func(t *testing.T, err error) {
				var re *InvalidReasonError
				assert.ErrorAs(t, err, &re)
			},
		},
		{
			name: "zero value party", sender: Party{}, recipient: bob, amount: "5", reason: UserPayment,
			check: func(t *testing.T, err error) {
				var pe *InvalidPartyError
				assert.ErrorAs(t, err, &pe)
			},
		},
		{
			name: "zero value reason", sender: alice, recipient: bob, amount: "5", reason: Reason{},
			check: func(t *testing.T, err error) {
				var re *InvalidReasonError
				assert.ErrorAs(t, err, &re)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransfer(tt.sender, tt.recipient, amount.MustParse(tt.amount), tt.applyFees, tt.reason)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	t.Run("valid transfers", func(t *testing.T) {
		valid := []struct {
			sender, recipient Party
			fees              bool
			reason            Reason
		}{
			{alice, bob, true, UserPayment},
			{alice, bob, false, AnnotatedPayment("rent")},
			{alice, bob, false, CrimeRobbery},
			{alice, BankParty(), true, TaxCollection},
			{alice, BankParty(), false, CasinoLoss},
			{alice, BankParty(), false, BalanceSnoop},
			{alice, BankParty(), false, OptOut},
			{BankParty(), alice, false, UniversalBasicIncome},
			{BankParty(), alice, false, CasinoWin},
		}
		for _, v := range valid {
			tr, err := NewTransfer(v.sender, v.recipient, amount.New(5), v.fees, v.reason)
			require.NoError(t, err, v.reason.String())
			assert.Equal(t, v.sender, tr.Sender())
			assert.Equal(t, v.recipient, tr.Recipient())
			assert.Equal(t, v.fees, tr.ApplyFees())
		}
	})
}

// TestReasonKinds_Classified tests that every reason permits exactly one
// direction of flow
func TestReasonKinds_Classified(t *testing.T) {
	directions := [][2]Party{
		{UserParty(1), UserParty(2)},
		{UserParty(1), BankParty()},
		{BankParty(), UserParty(1)},
	}

	for _, kind := range AllReasonKinds() {
		t.Run(kind.String(), func(t *testing.T) {
			r := Reason{kind: kind}
			allowed := 0
			for _, d := range directions {
				if r.allows(d[0], d[1]) {
					allowed++
				}
			}
			assert.Equal(t, 1, allowed)
			assert.NotEqual(t, "invalid", kind.String())
		})
	}

	assert.False(t, Reason{}.allows(UserParty(1), UserParty(2)))
	assert.Len(t, AllReasonKinds(), len(reasonNames))
}

// TestParseReason tests round trips and notes
func TestParseReason(t *testing.T) {
	for _, kind := range AllReasonKinds() {
		r, err := ParseReason(kind.String(), "")
		require.NoError(t, err)
		assert.Equal(t, kind, r.Kind())
	}

	r, err := ParseReason(" Annotated_Payment ", "pizza")
	require.NoError(t, err)
	assert.Equal(t, "pizza", r.Note())
	assert.Equal(t, "annotated_payment(pizza)", r.String())

	r, err = ParseReason("casino_win", "ignored")
	require.NoError(t, err)
	assert.Empty(t, r.Note())

	_, err = ParseReason("bribe", "")
	assert.Error(t, err)
}

// TestParseParty tests accepted and rejected party strings
func TestParseParty(t *testing.T) {
	tests := []struct {
		in      string
		want    Party
		wantErr bool
	}{
		{in: "bank", want: BankParty()},
		{in: "BANK", want: BankParty()},
		{in: "user:42", want: UserParty(42)},
		{in: "42", want: UserParty(42)},
		{in: "user:", wantErr: true},
		{in: "user:-1", wantErr: true},
		{in: "casino", wantErr: true},
		{in: "18446744073709551615", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseParty(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.String(), tt.want.String())
		})
	}

	var p Party
	require.NoError(t, p.UnmarshalText([]byte("user:7")))
	id, ok := p.UserID()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), id)

	_, ok = BankParty().UserID()
	assert.False(t, ok)
	assert.Equal(t, "user:9223372036854775807", UserParty(math.MaxInt64).String())
}

// TestErrorClassification tests which failures are worth retrying
func TestErrorClassification(t *testing.T) {
	storage := &StorageError{Op: "collect taxes", Err: errors.New("connection reset")}
	assert.True(t, IsRetryable(storage))
	assert.True(t, IsRetryable(errors.Join(errors.New("job"), storage)))

	assert.False(t, IsRetryable(ErrPointlessTransfer))
	assert.False(t, IsRetryable(&InsufficientFundsError{}))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrBankMissing))
	assert.False(t, IsRetryable(&StorageError{Op: "collect taxes", Err: ErrBankMissing}))
	assert.True(t, isRuleError(ErrBankMissing))

	assert.True(t, isRuleError(&NegativeBalanceError{Party: BankParty()}))
	assert.False(t, isRuleError(errors.New("disk full")))

	funds := &InsufficientFundsError{Party: UserParty(1), Amount: amount.New(990), Fee: amount.MustParse("10.9"), Available: amount.New(1000)}
	requireAmount(t, "1000.9", funds.Required())
	assert.Contains(t, funds.Error(), "user:1")

	assert.True(t, IsNotFound(ErrUserNotFound))
	assert.True(t, IsNotFound(&InvalidPartyError{Party: UserParty(3)}))
	assert.False(t, IsNotFound(storage))

	kinds := map[error]ErrorKind{
		funds:                   KindInsufficientFunds,
		&NegativeBalanceError{}: KindInsufficientFunds,
		ErrUserNotFound:         KindNotFound,
		&InvalidPartyError{}:    KindNotFound,
		&InvalidReasonError{}:   KindInvalid,
		ErrFeesOnBankSender:     KindInvalid,
		ErrNonPositiveAmount:    KindInvalid,
		storage:                 KindUnavailable,
		errors.New("unexpected"): KindInternal,
		fmt.Errorf("wrapped: %w", ErrPointlessTransfer): KindInvalid,
	}
	for err, want := range kinds {
		assert.Equal(t, want, KindOf(err), err.Error())
	}
}
