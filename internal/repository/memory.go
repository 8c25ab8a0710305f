package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payments-api/internal/models"
)

// MemoryStore is an in-memory implementation of every repository interface,
// exposed through per-repository views (Accounts, Transactions, ...). It backs
// the test suites and local development without a MongoDB instance. All
// accesses copy values in and out so callers never share mutable state.
type MemoryStore struct {
	mu sync.RWMutex

	accounts     map[string]*models.Account
	accountUsers map[int64]string

	transactions map[string]*models.Transaction
	idempotency  map[string]string

	rules  []models.FraudRule
	limits map[string][]models.AccountLimit

	cases     map[string]*models.SuspiciousActivity
	reversals map[string]*models.TransactionReversal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*models.Account),
		accountUsers: make(map[int64]string),
		transactions: make(map[string]*models.Transaction),
		idempotency:  make(map[string]string),
		limits:       make(map[string][]models.AccountLimit),
		cases:        make(map[string]*models.SuspiciousActivity),
		reversals:    make(map[string]*models.TransactionReversal),
	}
}

func (s *MemoryStore) Accounts() AccountRepository         { return memoryAccounts{s} }
func (s *MemoryStore) Transactions() TransactionRepository { return memoryTransactions{s} }
func (s *MemoryStore) Rules() RuleRepository               { return memoryRules{s} }
func (s *MemoryStore) Limits() LimitRepository             { return memoryLimits{s} }
func (s *MemoryStore) CaseStore() CaseRepository           { return memoryCases{s} }
func (s *MemoryStore) Reversals() ReversalRepository       { return memoryReversals{s} }

// SeedRules replaces the configured fraud rules.
func (s *MemoryStore) SeedRules(rules ...models.FraudRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]models.FraudRule(nil), rules...)
}

// SeedLimits replaces the configured limits for a role.
func (s *MemoryStore) SeedLimits(role string, limits ...models.AccountLimit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[role] = append([]models.AccountLimit(nil), limits...)
}

// Cases returns a snapshot of all recorded suspicious activity cases.
func (s *MemoryStore) Cases() []*models.SuspiciousActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SuspiciousActivity, 0, len(s.cases))
	for _, c := range s.cases {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// --- AccountRepository view ---

type memoryAccounts struct{ s *MemoryStore }

func (r memoryAccounts) Create(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.accounts[account.AccountNumber]; exists {
		return fmt.Errorf("account %s already exists", account.AccountNumber)
	}
	cp := *account
	r.s.accounts[account.AccountNumber] = &cp
	r.s.accountUsers[account.UserID] = account.AccountNumber
	return nil
}

func (r memoryAccounts) GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	account, ok := r.s.accounts[accountNumber]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, accountNumber)
	}
	cp := *account
	return &cp, nil
}

func (r memoryAccounts) GetByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	number, ok := r.s.accountUsers[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account for user %d", models.ErrNotFound, userID)
	}
	cp := *r.s.accounts[number]
	return &cp, nil
}

func (r memoryAccounts) UpdateBalance(ctx context.Context, accountNumber string, balance decimal.Decimal, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	account, ok := r.s.accounts[accountNumber]
	if !ok {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, accountNumber)
	}
	if account.Version != expectedVersion {
		return fmt.Errorf("%w: account %s version %d", models.ErrConcurrencyConflict, accountNumber, expectedVersion)
	}
	account.Balance = balance
	account.Version++
	account.UpdatedAt = time.Now()
	account.LastActivity = time.Now()
	return nil
}

func (r memoryAccounts) SetStatus(ctx context.Context, accountNumber string, status models.AccountStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	account, ok := r.s.accounts[accountNumber]
	if !ok {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, accountNumber)
	}
	account.Status = status
	account.UpdatedAt = time.Now()
	return nil
}

// --- TransactionRepository view ---

type memoryTransactions struct{ s *MemoryStore }

func (r memoryTransactions) Create(ctx context.Context, transaction *models.Transaction) error {
	if err := transaction.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.transactions[transaction.TransactionNumber]; exists {
		return fmt.Errorf("duplicate transaction number %s", transaction.TransactionNumber)
	}
	if transaction.IdempotencyKey != "" {
		if _, taken := r.s.idempotency[transaction.IdempotencyKey]; taken {
			return fmt.Errorf("%w: %s", models.ErrDuplicateIdempotencyKey, transaction.IdempotencyKey)
		}
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now()
	}
	transaction.UpdatedAt = time.Now()
	cp := *transaction
	r.s.transactions[transaction.TransactionNumber] = &cp
	if transaction.IdempotencyKey != "" {
		r.s.idempotency[transaction.IdempotencyKey] = transaction.TransactionNumber
	}
	return nil
}

func (r memoryTransactions) GetByNumber(ctx context.Context, transactionNumber string) (*models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	transaction, ok := r.s.transactions[transactionNumber]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, transactionNumber)
	}
	cp := *transaction
	return &cp, nil
}

func (r memoryTransactions) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	number, ok := r.s.idempotency[idempotencyKey]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key", models.ErrNotFound)
	}
	cp := *r.s.transactions[number]
	return &cp, nil
}

func (r memoryTransactions) Update(ctx context.Context, transaction *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.transactions[transaction.TransactionNumber]; !ok {
		return fmt.Errorf("%w: transaction %s", models.ErrNotFound, transaction.TransactionNumber)
	}
	transaction.UpdatedAt = time.Now()
	cp := *transaction
	r.s.transactions[transaction.TransactionNumber] = &cp
	return nil
}

func (r memoryTransactions) ExistsByNumber(ctx context.Context, transactionNumber string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, ok := r.s.transactions[transactionNumber]
	return ok, nil
}

func (r memoryTransactions) ListOutgoingSince(ctx context.Context, userID int64, since time.Time) ([]*models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Transaction
	for _, t := range r.s.transactions {
		if t.SenderUserID == userID && t.Status == models.TransactionCompleted &&
			t.Type != models.TransactionDeposit && !t.CreatedAt.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryTransactions) CountOutgoingSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	transactions, err := r.ListOutgoingSince(ctx, userID, since)
	if err != nil {
		return 0, err
	}
	return int64(len(transactions)), nil
}

func (r memoryTransactions) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Transaction
	for _, t := range r.s.transactions {
		if t.SenderUserID == userID || t.ReceiverUserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// --- RuleRepository / LimitRepository views ---

type memoryRules struct{ s *MemoryStore }

func (r memoryRules) ListActive(ctx context.Context) ([]models.FraudRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var active []models.FraudRule
	for _, rule := range r.s.rules {
		if rule.IsActive() {
			active = append(active, rule)
		}
	}
	return active, nil
}

type memoryLimits struct{ s *MemoryStore }

func (r memoryLimits) ListActiveByRole(ctx context.Context, role string) ([]models.AccountLimit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var active []models.AccountLimit
	for _, limit := range r.s.limits[role] {
		if limit.Active {
			active = append(active, limit)
		}
	}
	return active, nil
}

// --- CaseRepository view ---

type memoryCases struct{ s *MemoryStore }

func (r memoryCases) Create(ctx context.Context, activity *models.SuspiciousActivity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	activity.CreatedAt = time.Now()
	activity.UpdatedAt = time.Now()
	cp := *activity
	r.s.cases[activity.CaseNumber] = &cp
	return nil
}

func (r memoryCases) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*models.SuspiciousActivity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.SuspiciousActivity
	for _, c := range r.s.cases {
		if c.Status == models.CasePending && c.CreatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memoryCases) UpdateStatus(ctx context.Context, caseNumber string, status models.CaseStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.cases[caseNumber]
	if !ok {
		return fmt.Errorf("%w: case %s", models.ErrNotFound, caseNumber)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// --- ReversalRepository view ---

type memoryReversals struct{ s *MemoryStore }

func (r memoryReversals) Create(ctx context.Context, reversal *models.TransactionReversal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	reversal.CreatedAt = time.Now()
	reversal.UpdatedAt = time.Now()
	cp := *reversal
	r.s.reversals[reversal.ReversalNumber] = &cp
	return nil
}

func (r memoryReversals) GetByNumber(ctx context.Context, reversalNumber string) (*models.TransactionReversal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	reversal, ok := r.s.reversals[reversalNumber]
	if !ok {
		return nil, fmt.Errorf("%w: reversal %s", models.ErrNotFound, reversalNumber)
	}
	cp := *reversal
	return &cp, nil
}

func (r memoryReversals) Update(ctx context.Context, reversal *models.TransactionReversal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.reversals[reversal.ReversalNumber]; !ok {
		return fmt.Errorf("%w: reversal %s", models.ErrNotFound, reversal.ReversalNumber)
	}
	reversal.UpdatedAt = time.Now()
	cp := *reversal
	r.s.reversals[reversal.ReversalNumber] = &cp
	return nil
}

func (r memoryReversals) ExistsForOriginal(ctx context.Context, originalNumber string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, rev := range r.s.reversals {
		if rev.OriginalNumber == originalNumber && rev.Status != models.ReversalRejected {
			return true, nil
		}
	}
	return false, nil
}

func (r memoryReversals) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.TransactionReversal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.TransactionReversal
	for _, rev := range r.s.reversals {
		if rev.Status == models.ReversalPending && rev.CreatedAt.Before(cutoff) {
			cp := *rev
			out = append(out, &cp)
		}
	}
	return out, nil
}

var (
	_ AccountRepository     = memoryAccounts{}
	_ TransactionRepository = memoryTransactions{}
	_ RuleRepository        = memoryRules{}
	_ LimitRepository       = memoryLimits{}
	_ CaseRepository        = memoryCases{}
	_ ReversalRepository    = memoryReversals{}
)
