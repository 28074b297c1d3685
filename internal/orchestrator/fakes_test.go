package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/domain/bounty"
	domainidem "github.com/bounty-escrow-ledger/internal/domain/idempotency"
	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
)

// memState is the committed content of the fake database.
type memState struct {
	bounties map[uuid.UUID]bounty.Bounty
	txs      []*wallet.Transaction
	balances map[uuid.UUID]int64
	events   []*outbox.Event
}

func (s *memState) clone() *memState {
	c := &memState{
		bounties: make(map[uuid.UUID]bounty.Bounty, len(s.bounties)),
		txs:      append([]*wallet.Transaction(nil), s.txs...),
		balances: make(map[uuid.UUID]int64, len(s.balances)),
		events:   append([]*outbox.Event(nil), s.events...),
	}
	for k, v := range s.bounties {
		c.bounties[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

// memStore is an in-memory stand-in for Postgres. Transactions run one at a
// time, which is what the bounty row lock gives the real thing for a single
// bounty; a failed transaction leaves no trace.
type memStore struct {
	txMu    sync.Mutex
	mu      sync.RWMutex
	state   *memState
	records map[string]*domainidem.Record

	failEnqueue error
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			bounties: map[uuid.UUID]bounty.Bounty{},
			balances: map[uuid.UUID]int64{},
		},
		records: map[string]*domainidem.Record{},
	}
}

type fakeTx struct {
	pgx.Tx
	state    *memState
	onCommit []func()
}

func (m *memStore) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	tx := &fakeTx{state: work}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = work
	for _, apply := range tx.onCommit {
		apply()
	}
	return nil
}

func (m *memStore) seedBounty(b bounty.Bounty) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.bounties[b.ID] = b
}

func (m *memStore) seedDeposit(userID uuid.UUID, amount int64) {
	tx, err := wallet.NewTransaction(userID, shared.TransactionTypeDeposit, amount, "USD")
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.txs = append(m.state.txs, tx)
	m.state.balances[userID] += amount
}

func (m *memStore) snapshot() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

func (m *memStore) bounty(id uuid.UUID) bounty.Bounty {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.bounties[id]
}

func (m *memStore) record(key string) *domainidem.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[key]
}

// read runs fn against the transaction's working copy, or the committed state.
func (m *memStore) read(tx *fakeTx, fn func(*memState)) {
	if tx != nil {
		fn(tx.state)
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

func (m *memStore) write(tx *fakeTx, fn func(*memState) error) error {
	if tx != nil {
		return fn(tx.state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func asFakeTx(tx pgx.Tx) *fakeTx {
	ft, _ := tx.(*fakeTx)
	return ft
}

type fakeBounties struct {
	store *memStore
	tx    *fakeTx
}

func (r *fakeBounties) GetByID(_ context.Context, id uuid.UUID) (*bounty.Bounty, error) {
	var (
		b  bounty.Bounty
		ok bool
	)
	r.store.read(r.tx, func(s *memState) { b, ok = s.bounties[id] })
	if !ok {
		return nil, bounty.ErrBountyNotFound{BountyID: id}
	}
	return &b, nil
}

func (r *fakeBounties) LockForUpdate(ctx context.Context, id uuid.UUID) (*bounty.Bounty, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeBounties) UpdateStatus(_ context.Context, id uuid.UUID, status bounty.Status, version int) error {
	return r.store.write(r.tx, func(s *memState) error {
		b, ok := s.bounties[id]
		if !ok || b.Version != version {
			return bounty.ErrConcurrentModification{BountyID: id}
		}
		b.Status = status
		b.Version++
		s.bounties[id] = b
		return nil
	})
}

func (r *fakeBounties) SetHunter(_ context.Context, id uuid.UUID, hunterID uuid.UUID) error {
	return r.store.write(r.tx, func(s *memState) error {
		b, ok := s.bounties[id]
		if !ok || (b.HunterID != nil && *b.HunterID != hunterID) {
			return bounty.ErrConcurrentModification{BountyID: id}
		}
		b.HunterID = &hunterID
		s.bounties[id] = b
		return nil
	})
}

func (r *fakeBounties) WithTx(tx pgx.Tx) bounty.Repository {
	return &fakeBounties{store: r.store, tx: asFakeTx(tx)}
}

type fakeLedger struct {
	store *memStore
	tx    *fakeTx
}

// Append enforces the same rules as the unique partial indexes and the
// non-negative balance check.
func (r *fakeLedger) Append(_ context.Context, tx *wallet.Transaction) error {
	return r.store.write(r.tx, func(s *memState) error {
		if tx.Counts() && tx.BountyID != nil {
			for _, existing := range s.txs {
				if !existing.Counts() || existing.BountyID == nil || *existing.BountyID != *tx.BountyID || existing.Type != tx.Type {
					continue
				}
				switch tx.Type {
				case shared.TransactionTypeEscrow:
					return wallet.ErrDuplicateEntry{Constraint: "ux_wallet_tx_active_escrow"}
				case shared.TransactionTypeRefund:
					return wallet.ErrDuplicateEntry{Constraint: "ux_wallet_tx_refund"}
				case shared.TransactionTypeRelease:
					if existing.UserID == tx.UserID {
						return wallet.ErrDuplicateEntry{Constraint: "ux_wallet_tx_release"}
					}
				}
			}
		}
		if tx.Counts() {
			if s.balances[tx.UserID]+tx.Amount < 0 {
				return wallet.ErrOverdraft{UserID: tx.UserID}
			}
			s.balances[tx.UserID] += tx.Amount
		}
		s.txs = append(s.txs, tx)
		return nil
	})
}

func (r *fakeLedger) filter(keep func(*wallet.Transaction) bool) []*wallet.Transaction {
	var out []*wallet.Transaction
	r.store.read(r.tx, func(s *memState) {
		for _, tx := range s.txs {
			if keep(tx) {
				out = append(out, tx)
			}
		}
	})
	return out
}

func (r *fakeLedger) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*wallet.Transaction, error) {
	rows := r.filter(func(tx *wallet.Transaction) bool { return tx.UserID == userID })
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeLedger) CountByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	return int64(len(r.filter(func(tx *wallet.Transaction) bool { return tx.UserID == userID }))), nil
}

func (r *fakeLedger) ListByBounty(_ context.Context, bountyID uuid.UUID) ([]*wallet.Transaction, error) {
	return r.filter(func(tx *wallet.Transaction) bool { return tx.BountyID != nil && *tx.BountyID == bountyID }), nil
}

func (r *fakeLedger) SumCompleted(_ context.Context, userID uuid.UUID) (int64, error) {
	return wallet.Sum(r.filter(func(tx *wallet.Transaction) bool { return tx.UserID == userID })), nil
}

func (r *fakeLedger) CachedBalance(_ context.Context, userID uuid.UUID) (int64, bool, error) {
	var (
		balance int64
		ok      bool
	)
	r.store.read(r.tx, func(s *memState) { balance, ok = s.balances[userID] })
	return balance, ok, nil
}

func (r *fakeLedger) RebuildBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	sum, _ := r.SumCompleted(ctx, userID)
	err := r.store.write(r.tx, func(s *memState) error {
		s.balances[userID] = sum
		return nil
	})
	return sum, err
}

func (r *fakeLedger) WithTx(tx pgx.Tx) wallet.Repository {
	return &fakeLedger{store: r.store, tx: asFakeTx(tx)}
}

type fakeOutbox struct {
	store *memStore
	tx    *fakeTx
}

func (r *fakeOutbox) Enqueue(_ context.Context, event *outbox.Event) error {
	if r.store.failEnqueue != nil {
		return r.store.failEnqueue
	}
	return r.store.write(r.tx, func(s *memState) error {
		event.ID = int64(len(s.events) + 1)
		s.events = append(s.events, event)
		return nil
	})
}

func (r *fakeOutbox) ClaimPending(context.Context, int, int) ([]*outbox.Event, error) {
	return nil, nil
}

func (r *fakeOutbox) MarkDispatched(context.Context, int64, time.Time) error { return nil }

func (r *fakeOutbox) RecordFailure(context.Context, int64, string, time.Time) error { return nil }

func (r *fakeOutbox) CountExhausted(context.Context, int) (int64, error) { return 0, nil }

func (r *fakeOutbox) WithTx(tx pgx.Tx) outbox.Repository {
	return &fakeOutbox{store: r.store, tx: asFakeTx(tx)}
}

// fakeRecords backs the real idempotency guard. Completion inside a
// transaction only becomes visible when that transaction commits.
type fakeRecords struct {
	store *memStore
	tx    *fakeTx
}

func (r *fakeRecords) Reserve(_ context.Context, rec *domainidem.Record) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if existing, ok := r.store.records[rec.Key]; ok && !existing.Expired(time.Now().UTC()) {
		return false, nil
	}
	cp := *rec
	r.store.records[rec.Key] = &cp
	return true, nil
}

func (r *fakeRecords) Get(_ context.Context, key string) (*domainidem.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[key]
	if !ok {
		return nil, domainidem.ErrRecordNotFound{Key: key}
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRecords) Retry(_ context.Context, key, previousHash, requestHash string, expiresAt time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[key]
	if !ok || rec.RequestHash != previousHash || rec.Status != domainidem.StatusFailed {
		return false, nil
	}
	rec.Status = domainidem.StatusInFlight
	rec.RequestHash = requestHash
	rec.ExpiresAt = expiresAt
	return true, nil
}

func (r *fakeRecords) Complete(_ context.Context, key string, payload json.RawMessage) error {
	apply := func() {
		if rec, ok := r.store.records[key]; ok && rec.Status == domainidem.StatusInFlight {
			rec.Status = domainidem.StatusCompleted
			rec.ResultPayload = payload
		}
	}
	if r.tx != nil {
		r.tx.onCommit = append(r.tx.onCommit, apply)
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	apply()
	return nil
}

func (r *fakeRecords) Fail(_ context.Context, key string, reason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rec, ok := r.store.records[key]; ok && rec.Status == domainidem.StatusInFlight {
		rec.Status = domainidem.StatusFailed
		rec.ErrorMessage = reason
	}
	return nil
}

func (r *fakeRecords) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, rec := range r.store.records {
		if rec.Expired(now) {
			delete(r.store.records, key)
			n++
		}
	}
	return n, nil
}

func (r *fakeRecords) WithTx(tx pgx.Tx) domainidem.Repository {
	return &fakeRecords{store: r.store, tx: asFakeTx(tx)}
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (c *countingRecorder) EscrowOperation(operation, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = map[string]int{}
	}
	c.results[operation+":"+result]++
}

func (c *countingRecorder) count(operation, result string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[operation+":"+result]
}
