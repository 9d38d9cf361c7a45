// Package ledger implements per-user named accounts and the transfer,
// receipt and refund operations against them. All mutation is
// authorisation-gated by the caller and serialized per account by the
// backing store.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccount is returned when a named account cannot be found.
	ErrAccount = errors.New("account not found")
	// ErrInsufficientFunds is returned when a debit would push the
	// account beyond its overdraft limit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateAccountName is returned when creating an account
	// whose name is already taken in the owner's namespace.
	ErrDuplicateAccountName = errors.New("account name already exists")
	// ErrTransaction is returned when a referenced transaction is
	// missing or in the wrong state.
	ErrTransaction = errors.New("transaction not found or not settleable")
)

// Account is one user's named financial account. Balance and liability
// are settled and reserved value respectively; the target invariant is
// balance - liability >= -overdraft_limit, transiently violable and
// reported, never silently corrected.
type Account struct {
	UID            string          `json:"uid"`
	Name           string          `json:"name"`
	OwnerUserUID   string          `json:"owner_user_uid"`
	Description    string          `json:"description"`
	Balance        decimal.Decimal `json:"balance"`
	OverdraftLimit decimal.Decimal `json:"overdraft_limit"`
	Liability      decimal.Decimal `json:"liability"`
	Receivable     decimal.Decimal `json:"receivable"`
	SpentToday     decimal.Decimal `json:"spent_today"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsBeyondOverdraftLimit reports whether balance - liability has gone
// below -overdraft_limit. Sitting exactly on the limit is not beyond.
func (a *Account) IsBeyondOverdraftLimit() bool {
	return a.Balance.Sub(a.Liability).LessThan(a.OverdraftLimit.Neg())
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending     TransactionStatus = "pending"
	StatusProvisional TransactionStatus = "provisional"
	StatusSettled     TransactionStatus = "settled"
	StatusReceipted   TransactionStatus = "receipted"
	StatusRefunded    TransactionStatus = "refunded"
)

// LineItem is one labelled component of a transaction's value, e.g.
// the transferred value and a fee.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Transaction is the immutable record of one transfer between two
// accounts. Once settled or receipted it never changes again.
type Transaction struct {
	UID              string            `json:"uid"`
	DebitAccountUID  string            `json:"debit_account_uid"`
	CreditAccountUID string            `json:"credit_account_uid"`
	Amount           decimal.Decimal   `json:"amount"`
	LineItems        []LineItem        `json:"line_items,omitempty"`
	IsProvisional    bool              `json:"is_provisional"`
	Status           TransactionStatus `json:"status"`
	ReceiptedValue   decimal.Decimal   `json:"receipted_value"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IsNull reports whether the transaction carries no value.
func (t *Transaction) IsNull() bool {
	return t == nil || t.Amount.IsZero()
}

// CreditNote is a claim against a provisional transaction, presented
// to the credited account's owner for receipt or refund.
type CreditNote struct {
	AccountUID     string          `json:"account_uid"`
	TransactionUID string          `json:"transaction_uid"`
	Value          decimal.Decimal `json:"value"`
}
