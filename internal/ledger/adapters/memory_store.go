package adapters

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
)

// MemoryStore keeps users, transactions and payment events in maps guarded
// by one mutex. WithinTx holds that mutex for the whole unit and undoes its
// writes when fn fails, so memory-backed deployments get the same
// all-or-nothing settlement as Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	emailIdx map[string]string
	txs      map[string]domain.Transaction
	orderIdx map[string]string
	events   []domain.PaymentEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    map[string]domain.User{},
		emailIdx: map[string]string{},
		txs:      map[string]domain.Transaction{},
		orderIdx: map[string]string{},
	}
}

// Users returns the auto-committing user repository.
func (s *MemoryStore) Users() ports.UserRepository { return &memoryUserRepo{store: s} }

// Transactions returns the auto-committing transaction repository.
func (s *MemoryStore) Transactions() ports.TransactionRepository { return &memoryTxRepo{store: s} }

// Events returns the auto-committing payment event repository.
func (s *MemoryStore) Events() ports.PaymentEventRepository { return &memoryEventRepo{store: s} }

// Repositories groups the auto-committing repositories.
func (s *MemoryStore) Repositories() ports.Repositories {
	return ports.Repositories{Users: s.Users(), Transactions: s.Transactions(), Events: s.Events()}
}

// WithinTx runs fn against repositories bound to a journal. The repositories
// passed to fn must not be used after it returns, and fn must not call the
// auto-committing repositories of the same store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
	}()
	repos := ports.Repositories{
		Users:        &memoryUserRepo{store: s, journal: j},
		Transactions: &memoryTxRepo{store: s, journal: j},
		Events:       &memoryEventRepo{store: s, journal: j},
	}
	return fn(ctx, repos)
}

// journal records undo steps for writes made inside a unit of work.
type journal struct {
	undo []func()
}

func (j *journal) record(step func()) {
	if j != nil {
		j.undo = append(j.undo, step)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// lock takes the store mutex unless the caller already holds it through WithinTx.
func (s *MemoryStore) lock(j *journal) func() {
	if j != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) putUser(j *journal, user domain.User) {
	prev, existed := s.users[user.ID]
	s.users[user.ID] = user
	s.emailIdx[user.Email] = user.ID
	j.record(func() {
		if existed {
			s.users[user.ID] = prev
			return
		}
		delete(s.users, user.ID)
		delete(s.emailIdx, user.Email)
	})
}

func (s *MemoryStore) putTx(j *journal, tx domain.Transaction) {
	prev, existed := s.txs[tx.ID]
	s.txs[tx.ID] = cloneTx(tx)
	s.orderIdx[tx.OrderID] = tx.ID
	j.record(func() {
		if existed {
			s.txs[tx.ID] = prev
			return
		}
		delete(s.txs, tx.ID)
		delete(s.orderIdx, tx.OrderID)
	})
}

type memoryUserRepo struct {
	store   *MemoryStore
	journal *journal
}

func (r *memoryUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	defer r.store.lock(r.journal)()
	if _, exists := r.store.users[user.ID]; exists {
		return domain.User{}, domain.ErrUserExists
	}
	if _, exists := r.store.emailIdx[user.Email]; exists {
		return domain.User{}, domain.ErrUserExists
	}
	if user.Tokens < 0 {
		return domain.User{}, domain.ErrInvalidAmount
	}
	r.store.putUser(r.journal, user)
	return user, nil
}

func (r *memoryUserRepo) FindByID(_ context.Context, id string) (domain.User, error) {
	defer r.store.lock(r.journal)()
	if user, ok := r.store.users[id]; ok {
		return user, nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	defer r.store.lock(r.journal)()
	if id, ok := r.store.emailIdx[domain.NormalizeEmail(email)]; ok {
		return r.store.users[id], nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *memoryUserRepo) DebitIfSufficient(_ context.Context, id string, amount int64, now time.Time) (domain.User, bool, error) {
	defer r.store.lock(r.journal)()
	user, ok := r.store.users[id]
	if !ok {
		return domain.User{}, false, domain.ErrUserNotFound
	}
	if user.Tokens < amount {
		return user, false, nil
	}
	user.Tokens -= amount
	user.UpdatedAt = now
	r.store.putUser(r.journal, user)
	return user, true, nil
}

func (r *memoryUserRepo) Credit(_ context.Context, id string, amount, maxBalance int64, now time.Time) (domain.User, error) {
	defer r.store.lock(r.journal)()
	user, ok := r.store.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	if user.Tokens > maxBalance-amount {
		return domain.User{}, domain.ErrBalanceLimit
	}
	user.Tokens += amount
	user.UpdatedAt = now
	r.store.putUser(r.journal, user)
	return user, nil
}

func (r *memoryUserRepo) RaiseToFloor(_ context.Context, id string, floor int64, today string, now time.Time) (domain.User, bool, error) {
	defer r.store.lock(r.journal)()
	user, ok := r.store.users[id]
	if !ok {
		return domain.User{}, false, domain.ErrUserNotFound
	}
	if user.Tokens >= floor || user.LastFreeReset == today {
		return user, false, nil
	}
	user.Tokens = floor
	user.LastFreeReset = today
	user.UpdatedAt = now
	r.store.putUser(r.journal, user)
	return user, true, nil
}

type memoryTxRepo struct {
	store   *MemoryStore
	journal *journal
}

func (r *memoryTxRepo) Create(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	defer r.store.lock(r.journal)()
	if _, exists := r.store.orderIdx[tx.OrderID]; exists {
		return domain.Transaction{}, domain.ErrDuplicateOrder
	}
	if _, ok := r.store.users[tx.UserID]; !ok {
		return domain.Transaction{}, domain.ErrUserNotFound
	}
	r.store.putTx(r.journal, tx)
	return cloneTx(tx), nil
}

func (r *memoryTxRepo) FindByID(_ context.Context, id string) (domain.Transaction, error) {
	defer r.store.lock(r.journal)()
	if tx, ok := r.store.txs[id]; ok {
		return cloneTx(tx), nil
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

func (r *memoryTxRepo) FindByOrderID(_ context.Context, orderID string) (domain.Transaction, error) {
	defer r.store.lock(r.journal)()
	if id, ok := r.store.orderIdx[orderID]; ok {
		return cloneTx(r.store.txs[id]), nil
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

func (r *memoryTxRepo) CompareAndSetStatus(_ context.Context, id string, from, to domain.TransactionStatus, fields domain.StatusFields, now time.Time) (domain.Transaction, bool, error) {
	defer r.store.lock(r.journal)()
	tx, ok := r.store.txs[id]
	if !ok {
		return domain.Transaction{}, false, domain.ErrTransactionNotFound
	}
	if tx.Status != from {
		return cloneTx(tx), false, nil
	}
	tx = cloneTx(tx)
	tx.Status = to
	fields.Apply(&tx)
	tx.UpdatedAt = now
	r.store.putTx(r.journal, tx)
	return cloneTx(tx), true, nil
}

func (r *memoryTxRepo) UpdateBonus(_ context.Context, id string, bonus int64, now time.Time) (domain.Transaction, error) {
	defer r.store.lock(r.journal)()
	tx, ok := r.store.txs[id]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return domain.Transaction{}, domain.ErrInvalidTransition
	}
	tx = cloneTx(tx)
	tx.BonusTokens = bonus
	tx.RecomputeTotal()
	tx.UpdatedAt = now
	r.store.putTx(r.journal, tx)
	return cloneTx(tx), nil
}

func (r *memoryTxRepo) ListByUser(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	defer r.store.lock(r.journal)()
	var out []domain.Transaction
	for _, tx := range r.store.txs {
		if tx.UserID == userID {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID > out[j].OrderID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (r *memoryTxRepo) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	defer r.store.lock(r.journal)()
	var out []domain.Transaction
	for _, tx := range r.store.txs {
		if tx.Status == domain.StatusPending && tx.CreatedAt.Before(before) {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

type memoryEventRepo struct {
	store   *MemoryStore
	journal *journal
}

func (r *memoryEventRepo) Append(_ context.Context, event domain.PaymentEvent) (domain.PaymentEvent, error) {
	defer r.store.lock(r.journal)()
	event.Payload = append(json.RawMessage(nil), event.Payload...)
	n := len(r.store.events)
	r.store.events = append(r.store.events, event)
	r.journal.record(func() { r.store.events = r.store.events[:n] })
	return event, nil
}

func (r *memoryEventRepo) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentEvent, error) {
	defer r.store.lock(r.journal)()
	var out []domain.PaymentEvent
	for _, event := range r.store.events {
		if event.OrderID == orderID {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneTx(tx domain.Transaction) domain.Transaction {
	cloned := tx
	if tx.GatewayResponse != nil {
		cloned.GatewayResponse = append(json.RawMessage(nil), tx.GatewayResponse...)
	}
	return cloned
}

func truncate(txs []domain.Transaction, limit int) []domain.Transaction {
	if limit > 0 && len(txs) > limit {
		return txs[:limit]
	}
	return txs
}

var (
	_ ports.UnitOfWork             = (*MemoryStore)(nil)
	_ ports.UserRepository         = (*memoryUserRepo)(nil)
	_ ports.TransactionRepository  = (*memoryTxRepo)(nil)
	_ ports.PaymentEventRepository = (*memoryEventRepo)(nil)
)
