package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetfin/signet/internal/ledger"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Get(ctx, "users/alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "users/alice", []byte("one")))
	got, err := m.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	// stored bytes are isolated from caller mutation
	got[0] = 'X'
	again, err := m.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), again)

	require.NoError(t, m.Delete(ctx, "users/alice"))
	assert.ErrorIs(t, m.Delete(ctx, "users/alice"), ErrNotFound)
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Set(ctx, "sessions/alice/1", []byte("a")))
	require.NoError(t, m.Set(ctx, "sessions/alice/2", []byte("b")))
	require.NoError(t, m.Set(ctx, "sessions/bob/1", []byte("c")))

	out, err := m.List(ctx, "sessions/alice/")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, "sessions/alice/1")
	assert.Contains(t, out, "sessions/alice/2")
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	type record struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, SetJSON(ctx, m, "k", record{Name: "x", N: 7}))

	var got record
	require.NoError(t, GetJSON(ctx, m, "k", &got))
	assert.Equal(t, record{Name: "x", N: 7}, got)

	assert.ErrorIs(t, GetJSON(ctx, m, "missing", &got), ErrNotFound)
}

func TestMemoryLedgerMutateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()
	require.NoError(t, m.CreateAccount(ctx, &ledger.Account{UID: "a", Name: "main", OwnerUserUID: "u1"}))
	require.NoError(t, m.CreateAccount(ctx, &ledger.Account{UID: "b", Name: "main", OwnerUserUID: "u2"}))

	boom := errors.New("boom")
	_, err := m.Mutate(ctx, "a", "b", func(debit, credit *ledger.Account) ([]*ledger.Transaction, error) {
		debit.Balance = decimal.RequireFromString("999")
		return []*ledger.Transaction{{UID: "t1"}}, boom
	})
	assert.ErrorIs(t, err, boom)

	acct, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
	_, err = m.GetTransaction(ctx, "t1")
	assert.ErrorIs(t, err, ledger.ErrTransaction)
}

func TestMemoryLedgerSettleUnknownTransaction(t *testing.T) {
	m := NewMemoryLedger()
	_, err := m.Settle(context.Background(), "nope",
		func(tx *ledger.Transaction, debit, credit *ledger.Account) error { return nil })
	assert.ErrorIs(t, err, ledger.ErrTransaction)
}

func TestMemoryLedgerDuplicateName(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()
	require.NoError(t, m.CreateAccount(ctx, &ledger.Account{UID: "a", Name: "main", OwnerUserUID: "u1"}))
	err := m.CreateAccount(ctx, &ledger.Account{UID: "b", Name: "main", OwnerUserUID: "u1"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateAccountName)

	// same name under a different owner is fine
	require.NoError(t, m.CreateAccount(ctx, &ledger.Account{UID: "c", Name: "main", OwnerUserUID: "u2"}))
}
