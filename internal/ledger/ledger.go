package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/signetfin/signet/internal/wire"
)

// Store is the persistence contract for the ledger. Implementations
// must serialize concurrent mutation per account: Mutate runs its
// callback with both accounts locked, in deterministic order, and
// persists accounts and transaction records atomically.
type Store interface {
	CreateAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, uid string) (*Account, error)
	FindAccountByName(ctx context.Context, ownerUID, name string) (*Account, error)
	ListAccounts(ctx context.Context, ownerUID string) (map[string]string, error)
	GetTransaction(ctx context.Context, uid string) (*Transaction, error)

	// Mutate locks the debit and credit accounts, runs fn, and
	// persists the mutated accounts plus the returned transaction
	// records in one atomic step. The records are created exactly
	// once.
	Mutate(ctx context.Context, debitUID, creditUID string,
		fn func(debit, credit *Account) ([]*Transaction, error)) ([]*Transaction, error)

	// Settle locks the transaction's two accounts, runs fn over the
	// transaction and both accounts, and persists all three
	// atomically.
	Settle(ctx context.Context, transactionUID string,
		fn func(tx *Transaction, debit, credit *Account) error) (*Transaction, error)
}

// Ledger performs the account operations. The acting user has already
// been authenticated by the caller; the ledger enforces ownership.
type Ledger struct {
	store Store
}

// New returns a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the backing store.
func (l *Ledger) Store() Store {
	return l.store
}

// CreateAccount creates a named account for the owner. Names are
// unique within the owner's namespace.
func (l *Ledger) CreateAccount(ctx context.Context, ownerUID, name, description string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: account name is required", wire.ErrValue)
	}
	if description == "" {
		description = fmt.Sprintf("Account '%s'", name)
	}
	acct := &Account{
		UID:          uuid.NewString(),
		Name:         name,
		OwnerUserUID: ownerUID,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// AccountUIDs maps account uid to name for the owner. With a non-empty
// filterName only matching accounts are returned; this variant is
// usable without authentication since it exposes nothing beyond the
// existence of a name the caller already knew.
func (l *Ledger) AccountUIDs(ctx context.Context, ownerUID, filterName string) (map[string]string, error) {
	all, err := l.store.ListAccounts(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	if filterName == "" {
		return all, nil
	}
	filtered := make(map[string]string)
	for uid, name := range all {
		if name == filterName {
			filtered[uid] = name
		}
	}
	return filtered, nil
}

// AccountInfo returns the owner's named account, including the balance
// fields.
func (l *Ledger) AccountInfo(ctx context.Context, ownerUID, name string) (*Account, error) {
	acct, err := l.store.FindAccountByName(ctx, ownerUID, name)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Perform applies a transfer from the acting user's debit account. A
// null transaction is a no-op. Provisional transfers reserve value as
// liability on the debit side and receivable on the credit side
// without moving settled balance; direct transfers move balance
// immediately. Returns the transaction records created (a transfer may
// fan out into several ledger lines).
func (l *Ledger) Perform(ctx context.Context, actingUserUID string, tx *Transaction, isProvisional bool) ([]*Transaction, error) {
	if tx.IsNull() {
		return nil, nil
	}
	if tx.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: transaction amount cannot be negative", wire.ErrValue)
	}
	if tx.DebitAccountUID == "" || tx.CreditAccountUID == "" {
		return nil, fmt.Errorf("%w: both accounts are required", wire.ErrValue)
	}
	if tx.DebitAccountUID == tx.CreditAccountUID {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", wire.ErrValue)
	}

	return l.store.Mutate(ctx, tx.DebitAccountUID, tx.CreditAccountUID,
		func(debit, credit *Account) ([]*Transaction, error) {
			if debit.OwnerUserUID != actingUserUID {
				return nil, fmt.Errorf("%w: you do not own the debit account", wire.ErrPermission)
			}

			// the debit must not push the account beyond its overdraft
			// limit, counting both settled balance and open liability
			projected := debit.Balance.Sub(debit.Liability).Sub(tx.Amount)
			if projected.LessThan(debit.OverdraftLimit.Neg()) {
				return nil, ErrInsufficientFunds
			}

			record := &Transaction{
				UID:              uuid.NewString(),
				DebitAccountUID:  debit.UID,
				CreditAccountUID: credit.UID,
				Amount:           tx.Amount,
				LineItems:        tx.LineItems,
				IsProvisional:    isProvisional,
				CreatedAt:        time.Now().UTC(),
			}

			if isProvisional {
				debit.Liability = debit.Liability.Add(tx.Amount)
				credit.Receivable = credit.Receivable.Add(tx.Amount)
				record.Status = StatusProvisional
			} else {
				debit.Balance = debit.Balance.Sub(tx.Amount)
				debit.SpentToday = debit.SpentToday.Add(tx.Amount)
				credit.Balance = credit.Balance.Add(tx.Amount)
				record.Status = StatusSettled
			}
			return []*Transaction{record}, nil
		})
}

// Receipt finalizes a provisional transaction for the credited
// account. receiptedValue may be less than the note's value; the
// unreceipted remainder is released back to the debit account (the
// remainder is auto-refunded, it does not stay claimable).
func (l *Ledger) Receipt(ctx context.Context, actingUserUID string, note CreditNote, receiptedValue *decimal.Decimal) (*Transaction, error) {
	value := note.Value
	if receiptedValue != nil {
		value = *receiptedValue
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: receipted value cannot be negative", wire.ErrValue)
	}
	if value.GreaterThan(note.Value) {
		return nil, fmt.Errorf("%w: receipted value exceeds the credit note", wire.ErrValue)
	}

	return l.store.Settle(ctx, note.TransactionUID,
		func(tx *Transaction, debit, credit *Account) error {
			if err := checkNote(tx, credit, note, actingUserUID); err != nil {
				return err
			}

			// release the full reservation, settle the receipted value
			debit.Liability = debit.Liability.Sub(tx.Amount)
			credit.Receivable = credit.Receivable.Sub(tx.Amount)

			debit.Balance = debit.Balance.Sub(value)
			debit.SpentToday = debit.SpentToday.Add(value)
			credit.Balance = credit.Balance.Add(value)

			tx.Status = StatusReceipted
			tx.ReceiptedValue = value
			return nil
		})
}

// Refund fully reverses a provisional transaction for the credited
// account. The debit side's liability is released without ever
// crediting the balance side.
func (l *Ledger) Refund(ctx context.Context, actingUserUID string, note CreditNote) (*Transaction, error) {
	return l.store.Settle(ctx, note.TransactionUID,
		func(tx *Transaction, debit, credit *Account) error {
			if err := checkNote(tx, credit, note, actingUserUID); err != nil {
				return err
			}

			debit.Liability = debit.Liability.Sub(tx.Amount)
			credit.Receivable = credit.Receivable.Sub(tx.Amount)
			tx.Status = StatusRefunded
			return nil
		})
}

func checkNote(tx *Transaction, credit *Account, note CreditNote, actingUserUID string) error {
	if credit.OwnerUserUID != actingUserUID {
		return fmt.Errorf("%w: you do not own the credited account", wire.ErrPermission)
	}
	if note.AccountUID != tx.CreditAccountUID {
		return fmt.Errorf("%w: credit note is for account %s, not %s",
			wire.ErrValue, note.AccountUID, tx.CreditAccountUID)
	}
	// the note must claim exactly what the transaction reserved; a
	// fabricated value would otherwise settle more than the liability
	if !note.Value.Equal(tx.Amount) {
		return fmt.Errorf("%w: credit note value %s does not match the transaction value %s",
			wire.ErrValue, note.Value, tx.Amount)
	}
	if tx.Status != StatusProvisional {
		return fmt.Errorf("%w: transaction %s is %s", ErrTransaction, tx.UID, tx.Status)
	}
	return nil
}
