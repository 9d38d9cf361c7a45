package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/signetfin/signet/internal/ledger"
)

// MemoryStore is an in-process ObjectStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.objects[key] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

// MemoryLedger is an in-process ledger.Store. A single mutex stands in
// for the per-account row locks of the Postgres implementation; with
// one process that gives the same serialization guarantee.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[string]*ledger.Account
	transactions map[string]*ledger.Transaction
}

// NewMemoryLedger returns an empty ledger store.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[string]*ledger.Account),
		transactions: make(map[string]*ledger.Transaction),
	}
}

func (m *MemoryLedger) CreateAccount(_ context.Context, acct *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.OwnerUserUID == acct.OwnerUserUID && existing.Name == acct.Name {
			return ledger.ErrDuplicateAccountName
		}
	}
	cp := *acct
	m.accounts[acct.UID] = &cp
	return nil
}

func (m *MemoryLedger) GetAccount(_ context.Context, uid string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[uid]
	if !ok {
		return nil, ledger.ErrAccount
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryLedger) FindAccountByName(_ context.Context, ownerUID, name string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.OwnerUserUID == ownerUID && acct.Name == name {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, ledger.ErrAccount
}

func (m *MemoryLedger) ListAccounts(_ context.Context, ownerUID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for uid, acct := range m.accounts {
		if acct.OwnerUserUID == ownerUID {
			out[uid] = acct.Name
		}
	}
	return out, nil
}

func (m *MemoryLedger) GetTransaction(_ context.Context, uid string) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[uid]
	if !ok {
		return nil, ledger.ErrTransaction
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryLedger) Mutate(_ context.Context, debitUID, creditUID string,
	fn func(debit, credit *ledger.Account) ([]*ledger.Transaction, error)) ([]*ledger.Transaction, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	debit, ok := m.accounts[debitUID]
	if !ok {
		return nil, ledger.ErrAccount
	}
	credit, ok := m.accounts[creditUID]
	if !ok {
		return nil, ledger.ErrAccount
	}

	// mutate copies; commit only on success
	debitCp, creditCp := *debit, *credit
	records, err := fn(&debitCp, &creditCp)
	if err != nil {
		return nil, err
	}

	*debit, *credit = debitCp, creditCp
	for _, rec := range records {
		cp := *rec
		m.transactions[rec.UID] = &cp
	}
	return records, nil
}

func (m *MemoryLedger) Settle(_ context.Context, transactionUID string,
	fn func(tx *ledger.Transaction, debit, credit *ledger.Account) error) (*ledger.Transaction, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[transactionUID]
	if !ok {
		return nil, ledger.ErrTransaction
	}
	debit, ok := m.accounts[tx.DebitAccountUID]
	if !ok {
		return nil, ledger.ErrAccount
	}
	credit, ok := m.accounts[tx.CreditAccountUID]
	if !ok {
		return nil, ledger.ErrAccount
	}

	txCp, debitCp, creditCp := *tx, *debit, *credit
	if err := fn(&txCp, &debitCp, &creditCp); err != nil {
		return nil, err
	}

	*tx, *debit, *credit = txCp, debitCp, creditCp
	out := txCp
	return &out, nil
}

// Keys returns all stored object keys in order. Test helper.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
