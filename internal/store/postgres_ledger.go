package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/signetfin/signet/internal/ledger"
)

// PostgresLedger implements ledger.Store over accounts and
// transactions tables. Concurrent mutation is serialized by locking
// the two account rows FOR UPDATE in deterministic uid order, which
// also prevents deadlock between crossing transfers.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger returns a ledger store over the pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: pool}
}

const accountColumns = `uid, name, owner_user_uid, description,
	balance::text, overdraft_limit::text, liability::text, receivable::text,
	spent_today::text, created_at`

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var acct ledger.Account
	var balance, overdraft, liability, receivable, spent string
	err := row.Scan(&acct.UID, &acct.Name, &acct.OwnerUserUID, &acct.Description,
		&balance, &overdraft, &liability, &receivable, &spent, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrAccount
	}
	if err != nil {
		return nil, err
	}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&acct.Balance, balance},
		{&acct.OverdraftLimit, overdraft},
		{&acct.Liability, liability},
		{&acct.Receivable, receivable},
		{&acct.SpentToday, spent},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt numeric column: %w", err)
		}
		*f.dst = d
	}
	return &acct, nil
}

func (p *PostgresLedger) CreateAccount(ctx context.Context, acct *ledger.Account) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO accounts (uid, name, owner_user_uid, description, balance,
			overdraft_limit, liability, receivable, spent_today, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		acct.UID, acct.Name, acct.OwnerUserUID, acct.Description,
		acct.Balance.String(), acct.OverdraftLimit.String(), acct.Liability.String(),
		acct.Receivable.String(), acct.SpentToday.String(), acct.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ledger.ErrDuplicateAccountName
	}
	return err
}

func (p *PostgresLedger) GetAccount(ctx context.Context, uid string) (*ledger.Account, error) {
	row := p.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE uid = $1", uid)
	return scanAccount(row)
}

func (p *PostgresLedger) FindAccountByName(ctx context.Context, ownerUID, name string) (*ledger.Account, error) {
	row := p.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE owner_user_uid = $1 AND name = $2",
		ownerUID, name)
	return scanAccount(row)
}

func (p *PostgresLedger) ListAccounts(ctx context.Context, ownerUID string) (map[string]string, error) {
	rows, err := p.db.Query(ctx,
		"SELECT uid, name FROM accounts WHERE owner_user_uid = $1", ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var uid, name string
		if err := rows.Scan(&uid, &name); err != nil {
			return nil, err
		}
		out[uid] = name
	}
	return out, rows.Err()
}

func (p *PostgresLedger) GetTransaction(ctx context.Context, uid string) (*ledger.Transaction, error) {
	return p.scanTransaction(ctx, p.db, uid, "")
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *PostgresLedger) scanTransaction(ctx context.Context, q queryer, uid, locking string) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var amount, receipted string
	var lineItems []byte
	err := q.QueryRow(ctx,
		`SELECT uid, debit_account_uid, credit_account_uid, amount::text,
			line_items, is_provisional, status, receipted_value::text, created_at
		 FROM transactions WHERE uid = $1`+locking, uid).
		Scan(&tx.UID, &tx.DebitAccountUID, &tx.CreditAccountUID, &amount,
			&lineItems, &tx.IsProvisional, &tx.Status, &receipted, &tx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrTransaction
	}
	if err != nil {
		return nil, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if tx.ReceiptedValue, err = decimal.NewFromString(receipted); err != nil {
		return nil, err
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &tx.LineItems); err != nil {
			return nil, err
		}
	}
	return &tx, nil
}

func (p *PostgresLedger) Mutate(ctx context.Context, debitUID, creditUID string,
	fn func(debit, credit *ledger.Account) ([]*ledger.Transaction, error)) ([]*ledger.Transaction, error) {

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	debit, credit, err := lockAccounts(ctx, tx, debitUID, creditUID)
	if err != nil {
		return nil, err
	}

	records, err := fn(debit, credit)
	if err != nil {
		return nil, err
	}

	if err := updateAccount(ctx, tx, debit); err != nil {
		return nil, err
	}
	if err := updateAccount(ctx, tx, credit); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := insertTransaction(ctx, tx, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return records, nil
}

func (p *PostgresLedger) Settle(ctx context.Context, transactionUID string,
	fn func(rec *ledger.Transaction, debit, credit *ledger.Account) error) (*ledger.Transaction, error) {

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := p.scanTransaction(ctx, tx, transactionUID, " FOR UPDATE")
	if err != nil {
		return nil, err
	}

	debit, credit, err := lockAccounts(ctx, tx, rec.DebitAccountUID, rec.CreditAccountUID)
	if err != nil {
		return nil, err
	}

	if err := fn(rec, debit, credit); err != nil {
		return nil, err
	}

	if err := updateAccount(ctx, tx, debit); err != nil {
		return nil, err
	}
	if err := updateAccount(ctx, tx, credit); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		"UPDATE transactions SET status = $1, receipted_value = $2 WHERE uid = $3",
		rec.Status, rec.ReceiptedValue.String(), rec.UID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return rec, nil
}

// lockAccounts acquires FOR UPDATE locks on both rows in uid order.
func lockAccounts(ctx context.Context, tx pgx.Tx, debitUID, creditUID string) (*ledger.Account, *ledger.Account, error) {
	first, second := debitUID, creditUID
	if first > second {
		first, second = second, first
	}

	byUID := make(map[string]*ledger.Account, 2)
	for _, uid := range []string{first, second} {
		row := tx.QueryRow(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE uid = $1 FOR UPDATE", uid)
		acct, err := scanAccount(row)
		if err != nil {
			return nil, nil, err
		}
		byUID[uid] = acct
	}
	return byUID[debitUID], byUID[creditUID], nil
}

func updateAccount(ctx context.Context, tx pgx.Tx, acct *ledger.Account) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, overdraft_limit = $2, liability = $3,
			receivable = $4, spent_today = $5 WHERE uid = $6`,
		acct.Balance.String(), acct.OverdraftLimit.String(), acct.Liability.String(),
		acct.Receivable.String(), acct.SpentToday.String(), acct.UID)
	return err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, rec *ledger.Transaction) error {
	lineItems, err := json.Marshal(rec.LineItems)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (uid, debit_account_uid, credit_account_uid,
			amount, line_items, is_provisional, status, receipted_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.UID, rec.DebitAccountUID, rec.CreditAccountUID, rec.Amount.String(),
		lineItems, rec.IsProvisional, rec.Status, rec.ReceiptedValue.String(), rec.CreatedAt)
	return err
}
