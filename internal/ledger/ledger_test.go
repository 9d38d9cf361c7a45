package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetfin/signet/internal/ledger"
	"github.com/signetfin/signet/internal/store"
	"github.com/signetfin/signet/internal/wire"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newLedger(t *testing.T) (*ledger.Ledger, *ledger.Account, *ledger.Account) {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(store.NewMemoryLedger())

	a, err := l.CreateAccount(ctx, alice, "main", "alice main account")
	require.NoError(t, err)
	b, err := l.CreateAccount(ctx, bob, "main", "bob main account")
	require.NoError(t, err)

	// fund alice from a float account with a deep overdraft
	float, err := l.CreateAccount(ctx, bob, "float", "")
	require.NoError(t, err)
	st := l.Store().(*store.MemoryLedger)
	_, err = st.Mutate(ctx, float.UID, a.UID,
		func(debit, credit *ledger.Account) ([]*ledger.Transaction, error) {
			debit.OverdraftLimit = dec("1000000")
			return nil, nil
		})
	require.NoError(t, err)

	_, err = l.Perform(ctx, bob, &ledger.Transaction{
		DebitAccountUID:  float.UID,
		CreditAccountUID: a.UID,
		Amount:           dec("100"),
	}, false)
	require.NoError(t, err)
	return l, a, b
}

func getAccount(t *testing.T, l *ledger.Ledger, uid string) *ledger.Account {
	t.Helper()
	acct, err := l.Store().GetAccount(context.Background(), uid)
	require.NoError(t, err)
	return acct
}

func TestProvisionalPerformReservesLiability(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.StatusProvisional, records[0].Status)

	debit := getAccount(t, l, a.UID)
	assert.True(t, debit.Balance.Equal(dec("100")), "balance untouched, got %s", debit.Balance)
	assert.True(t, debit.Liability.Equal(dec("30")))

	credit := getAccount(t, l, b.UID)
	assert.True(t, credit.Balance.IsZero())
	assert.True(t, credit.Receivable.Equal(dec("30")))
}

func TestReceiptSettlesProvisional(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)

	note := ledger.CreditNote{
		AccountUID:     b.UID,
		TransactionUID: records[0].UID,
		Value:          dec("30"),
	}
	rec, err := l.Receipt(ctx, bob, note, nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReceipted, rec.Status)

	debit := getAccount(t, l, a.UID)
	assert.True(t, debit.Liability.IsZero())
	assert.True(t, debit.Balance.Equal(dec("70")))
	assert.True(t, debit.SpentToday.Equal(dec("30")))

	credit := getAccount(t, l, b.UID)
	assert.True(t, credit.Balance.Equal(dec("30")))
	assert.True(t, credit.Receivable.IsZero())
}

func TestPartialReceiptReleasesRemainder(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)

	partial := dec("12.50")
	note := ledger.CreditNote{AccountUID: b.UID, TransactionUID: records[0].UID, Value: dec("30")}
	rec, err := l.Receipt(ctx, bob, note, &partial)
	require.NoError(t, err)
	assert.True(t, rec.ReceiptedValue.Equal(partial))

	// remainder is auto-refunded: no liability or receivable survives
	debit := getAccount(t, l, a.UID)
	assert.True(t, debit.Liability.IsZero())
	assert.True(t, debit.Balance.Equal(dec("87.5")))

	credit := getAccount(t, l, b.UID)
	assert.True(t, credit.Balance.Equal(partial))
	assert.True(t, credit.Receivable.IsZero())
}

func TestReceiptRejectsInflatedNoteValue(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)

	// a note claiming more than the transaction reserved settles nothing
	forged := ledger.CreditNote{AccountUID: b.UID, TransactionUID: records[0].UID, Value: dec("1000")}
	_, err = l.Receipt(ctx, bob, forged, nil)
	assert.ErrorIs(t, err, wire.ErrValue)
	_, err = l.Refund(ctx, bob, forged)
	assert.ErrorIs(t, err, wire.ErrValue)

	debit := getAccount(t, l, a.UID)
	assert.True(t, debit.Balance.Equal(dec("100")))
	assert.True(t, debit.Liability.Equal(dec("30")))

	credit := getAccount(t, l, b.UID)
	assert.True(t, credit.Balance.IsZero())
	assert.True(t, credit.Receivable.Equal(dec("30")))

	// the genuine note still settles
	note := ledger.CreditNote{AccountUID: b.UID, TransactionUID: records[0].UID, Value: dec("30")}
	_, err = l.Receipt(ctx, bob, note, nil)
	require.NoError(t, err)
}

func TestRefundReleasesWithoutCrediting(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)

	note := ledger.CreditNote{AccountUID: b.UID, TransactionUID: records[0].UID, Value: dec("30")}
	rec, err := l.Refund(ctx, bob, note)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRefunded, rec.Status)

	debit := getAccount(t, l, a.UID)
	assert.True(t, debit.Liability.IsZero())
	assert.True(t, debit.Balance.Equal(dec("100")))

	credit := getAccount(t, l, b.UID)
	assert.True(t, credit.Balance.IsZero())
	assert.True(t, credit.Receivable.IsZero())
}

func TestReceiptedTransactionIsImmutable(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)

	note := ledger.CreditNote{AccountUID: b.UID, TransactionUID: records[0].UID, Value: dec("30")}
	_, err = l.Receipt(ctx, bob, note, nil)
	require.NoError(t, err)

	_, err = l.Receipt(ctx, bob, note, nil)
	assert.ErrorIs(t, err, ledger.ErrTransaction)
	_, err = l.Refund(ctx, bob, note)
	assert.ErrorIs(t, err, ledger.ErrTransaction)
}

func TestCreditNoteAccountMismatch(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("30"),
	}, true)
	require.NoError(t, err)

	note := ledger.CreditNote{AccountUID: a.UID, TransactionUID: records[0].UID, Value: dec("30")}
	_, err = l.Receipt(ctx, bob, note, nil)
	assert.ErrorIs(t, err, wire.ErrValue)
	_, err = l.Refund(ctx, bob, note)
	assert.ErrorIs(t, err, wire.ErrValue)
}

func TestPerformPermissionAndValidation(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	// bob does not own alice's account
	_, err := l.Perform(ctx, bob, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("10"),
	}, false)
	assert.ErrorIs(t, err, wire.ErrPermission)

	// null transaction is a no-op
	records, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           decimal.Zero,
	}, false)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: a.UID,
		Amount:           dec("10"),
	}, false)
	assert.ErrorIs(t, err, wire.ErrValue)

	_, err = l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("-5"),
	}, false)
	assert.ErrorIs(t, err, wire.ErrValue)
}

func TestOverdraftBoundary(t *testing.T) {
	l, a, b := newLedger(t)
	ctx := context.Background()

	// spending the exact balance lands on the limit and is allowed
	_, err := l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("100"),
	}, false)
	require.NoError(t, err)

	debit := getAccount(t, l, a.UID)
	assert.False(t, debit.IsBeyondOverdraftLimit(),
		"balance - liability == -overdraft_limit is not beyond")

	// one more cent is beyond
	_, err = l.Perform(ctx, alice, &ledger.Transaction{
		DebitAccountUID:  a.UID,
		CreditAccountUID: b.UID,
		Amount:           dec("0.01"),
	}, false)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestIsBeyondOverdraftLimit(t *testing.T) {
	acct := &ledger.Account{
		Balance:        dec("10"),
		Liability:      dec("20"),
		OverdraftLimit: dec("10"),
	}
	// balance - liability == -overdraft_limit exactly
	assert.False(t, acct.IsBeyondOverdraftLimit())

	acct.Liability = dec("20.01")
	assert.True(t, acct.IsBeyondOverdraftLimit())
}

func TestDuplicateAccountName(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.CreateAccount(context.Background(), alice, "main", "")
	assert.ErrorIs(t, err, ledger.ErrDuplicateAccountName)
}

func TestAccountUIDsFilter(t *testing.T) {
	l, a, _ := newLedger(t)
	ctx := context.Background()

	all, err := l.AccountUIDs(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{a.UID: "main"}, all)

	filtered, err := l.AccountUIDs(ctx, alice, "savings")
	require.NoError(t, err)
	assert.Empty(t, filtered)
}
