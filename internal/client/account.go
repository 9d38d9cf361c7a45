package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signetfin/signet/internal/api"
	"github.com/signetfin/signet/internal/directory"
	"github.com/signetfin/signet/internal/ledger"
	"github.com/signetfin/signet/internal/wire"
)

// infoCacheWindow bounds how stale a cached account read may be.
const infoCacheWindow = 5 * time.Second

// Account is a handle on one remote account. Reads are cached briefly;
// a handle with no uid is the null account, which reports zero values
// and never touches the network. Handles are equal when they name the
// same account, regardless of cache state.
type Account struct {
	UID  string
	Name string

	user          *User
	accountingURL string

	mu        sync.Mutex
	info      *ledger.Account
	fetchedAt time.Time
	now       func() time.Time
}

// NullAccount returns the null account handle.
func NullAccount() *Account {
	return &Account{now: time.Now}
}

// IsNull reports whether this is the null account.
func (a *Account) IsNull() bool {
	return a == nil || a.UID == ""
}

// Equal compares handles by the account they name.
func (a *Account) Equal(other *Account) bool {
	if a.IsNull() || other.IsNull() {
		return a.IsNull() && other.IsNull()
	}
	return a.UID == other.UID
}

// GetAccounts lists the user's accounts by uid and name, optionally
// filtered to one name.
func GetAccounts(ctx context.Context, user *User, accountingURL, name string) (map[string]string, error) {
	args := api.AccountUIDsArgs{AccountName: name}
	auth, err := user.SignAuthorisation(args)
	if err != nil {
		return nil, err
	}
	args.Authorisation = auth

	var result struct {
		AccountUIDs map[string]string `json:"account_uids"`
	}
	_, err = user.c.call(ctx, accountingURL, directory.AccountingService, "/get-account-uids", args, &result)
	if err != nil {
		return nil, err
	}
	return result.AccountUIDs, nil
}

// FindAccount resolves a named account belonging to userUID without an
// authorisation. The caller must already know both the user and the
// name.
func FindAccount(ctx context.Context, c *Client, accountingURL, userUID, name string) (map[string]string, error) {
	var result struct {
		AccountUIDs map[string]string `json:"account_uids"`
	}
	_, err := c.call(ctx, accountingURL, directory.AccountingService, "/get-account-uids",
		api.AccountUIDsArgs{UserUID: userUID, AccountName: name}, &result)
	if err != nil {
		return nil, err
	}
	return result.AccountUIDs, nil
}

// CreateAccount creates a named account for the user and returns a
// handle on it.
func CreateAccount(ctx context.Context, user *User, accountingURL, name, description string) (*Account, error) {
	args := api.CreateAccountArgs{AccountName: name, Description: description}
	auth, err := user.SignAuthorisation(args)
	if err != nil {
		return nil, err
	}
	args.Authorisation = auth

	var result struct {
		Account *ledger.Account `json:"account"`
	}
	_, err = user.c.call(ctx, accountingURL, directory.AccountingService, "/create-account", args, &result)
	if err != nil {
		return nil, err
	}
	return &Account{
		UID:           result.Account.UID,
		Name:          result.Account.Name,
		user:          user,
		accountingURL: accountingURL,
		now:           time.Now,
	}, nil
}

// OpenAccount returns a handle on an existing named account.
func OpenAccount(user *User, accountingURL, uid, name string) *Account {
	return &Account{UID: uid, Name: name, user: user, accountingURL: accountingURL, now: time.Now}
}

// Info returns the account's current state, served from cache when the
// last read is recent enough. The null account reports zero values.
func (a *Account) Info(ctx context.Context) (*ledger.Account, error) {
	if a.IsNull() {
		return &ledger.Account{}, nil
	}
	a.mu.Lock()
	if a.info != nil && a.now().Sub(a.fetchedAt) < infoCacheWindow {
		info := a.info
		a.mu.Unlock()
		return info, nil
	}
	a.mu.Unlock()
	return a.ForceUpdate(ctx)
}

// ForceUpdate bypasses the cache and refetches the account.
func (a *Account) ForceUpdate(ctx context.Context) (*ledger.Account, error) {
	if a.IsNull() {
		return &ledger.Account{}, nil
	}
	args := api.AccountInfoArgs{AccountName: a.Name}
	auth, err := a.user.SignAuthorisation(args)
	if err != nil {
		return nil, err
	}
	args.Authorisation = auth

	var result struct {
		Account *ledger.Account `json:"account"`
	}
	_, err = a.user.c.call(ctx, a.accountingURL, directory.AccountingService, "/get-info", args, &result)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.info = result.Account
	a.fetchedAt = a.now()
	a.mu.Unlock()
	return result.Account, nil
}

// Balance returns the account's settled balance, possibly cached.
func (a *Account) Balance(ctx context.Context) (decimal.Decimal, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return info.Balance, nil
}

// Liability returns the value reserved by open provisional debits.
func (a *Account) Liability(ctx context.Context) (decimal.Decimal, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return info.Liability, nil
}

// Receivable returns the value promised by open provisional credits.
func (a *Account) Receivable(ctx context.Context) (decimal.Decimal, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return info.Receivable, nil
}

// SpentToday returns the value settled out of the account today.
func (a *Account) SpentToday(ctx context.Context) (decimal.Decimal, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return info.SpentToday, nil
}

// OverdraftLimit returns how far balance minus liability may go
// negative.
func (a *Account) OverdraftLimit(ctx context.Context) (decimal.Decimal, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return info.OverdraftLimit, nil
}

// Description returns the account's description.
func (a *Account) Description(ctx context.Context) (string, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.Description, nil
}

// Perform transfers amount from this account to the credited one. A
// zero amount is a no-op with no network call. Provisional transfers
// return records from which credit notes can be cut for the credited
// side.
func (a *Account) Perform(ctx context.Context, credit *Account, amount decimal.Decimal, lineItems []ledger.LineItem, provisional bool) ([]*ledger.Transaction, error) {
	if amount.IsZero() {
		return nil, nil
	}
	if a.IsNull() || credit.IsNull() {
		return nil, fmt.Errorf("%w: cannot transfer with the null account", wire.ErrValue)
	}

	args := api.PerformArgs{
		Transaction: &ledger.Transaction{
			DebitAccountUID:  a.UID,
			CreditAccountUID: credit.UID,
			Amount:           amount,
			LineItems:        lineItems,
		},
		IsProvisional: provisional,
	}
	auth, err := a.user.SignAuthorisation(args)
	if err != nil {
		return nil, err
	}
	args.Authorisation = auth

	var result struct {
		Transactions []*ledger.Transaction `json:"transactions"`
	}
	_, err = a.user.c.call(ctx, a.accountingURL, directory.AccountingService, "/perform", args, &result)
	if err != nil {
		return nil, err
	}
	a.invalidate()
	return result.Transactions, nil
}

// CreditNotesFor cuts credit notes from the provisional records of a
// transfer, one per record, for handing to the credited side.
func CreditNotesFor(records []*ledger.Transaction) []ledger.CreditNote {
	var notes []ledger.CreditNote
	for _, rec := range records {
		if rec.Status != ledger.StatusProvisional {
			continue
		}
		notes = append(notes, ledger.CreditNote{
			AccountUID:     rec.CreditAccountUID,
			TransactionUID: rec.UID,
			Value:          rec.Amount,
		})
	}
	return notes
}

// Receipt settles a provisional transfer into this account.
// receiptedValue may be less than the note's value; nil receipts the
// full value. A note cut for a different account is rejected before
// any network traffic.
func (a *Account) Receipt(ctx context.Context, note ledger.CreditNote, receiptedValue *decimal.Decimal) (*ledger.Transaction, error) {
	if err := a.checkNote(note); err != nil {
		return nil, err
	}
	args := api.SettleArgs{CreditNote: &note, ReceiptedValue: receiptedValue}
	auth, err := a.user.SignAuthorisation(args)
	if err != nil {
		return nil, err
	}
	args.Authorisation = auth

	var result struct {
		Transaction *ledger.Transaction `json:"transaction"`
	}
	_, err = a.user.c.call(ctx, a.accountingURL, directory.AccountingService, "/receipt", args, &result)
	if err != nil {
		return nil, err
	}
	a.invalidate()
	return result.Transaction, nil
}

// Refund releases a provisional transfer without crediting this
// account.
func (a *Account) Refund(ctx context.Context, note ledger.CreditNote) (*ledger.Transaction, error) {
	if err := a.checkNote(note); err != nil {
		return nil, err
	}
	args := api.SettleArgs{CreditNote: &note}
	auth, err := a.user.SignAuthorisation(args)
	if err != nil {
		return nil, err
	}
	args.Authorisation = auth

	var result struct {
		Transaction *ledger.Transaction `json:"transaction"`
	}
	_, err = a.user.c.call(ctx, a.accountingURL, directory.AccountingService, "/refund", args, &result)
	if err != nil {
		return nil, err
	}
	a.invalidate()
	return result.Transaction, nil
}

func (a *Account) checkNote(note ledger.CreditNote) error {
	if a.IsNull() {
		return fmt.Errorf("%w: null account holds no credit", wire.ErrValue)
	}
	if note.AccountUID != a.UID {
		return fmt.Errorf("%w: credit note is for account %s, not %s",
			wire.ErrValue, note.AccountUID, a.UID)
	}
	return nil
}

func (a *Account) invalidate() {
	a.mu.Lock()
	a.info = nil
	a.mu.Unlock()
}
