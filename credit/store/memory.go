// Package store provides the in-memory credit.Store implementation.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements credit.Store with maps guarded by one mutex.
//
// Atomic sections hold the mutex for their whole duration, which gives
// per-account serializability trivially: nothing interleaves at all.
// Rollback is simulated with a snapshot taken before the closure runs.
type Memory struct {
	mu       sync.RWMutex
	accounts map[credit.AccountID]credit.Account
	entries  map[credit.AccountID][]credit.LedgerEntry
	payments []credit.PaymentRecord
	byCharge map[string]int // charge id -> index into payments
	seq      int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[credit.AccountID]credit.Account),
		entries:  make(map[credit.AccountID][]credit.LedgerEntry),
		byCharge: make(map[string]int),
	}
}

// --- Accounts ---

func (m *Memory) GetAccount(_ context.Context, id credit.AccountID) (*credit.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id credit.AccountID) (*credit.Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return nil, credit.ErrAccountNotFound
	}
	out := acct
	return &out, nil
}

func (m *Memory) PutAccount(_ context.Context, acct *credit.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAccountLocked(acct)
}

func (m *Memory) putAccountLocked(acct *credit.Account) error {
	m.accounts[acct.ID] = *acct
	return nil
}

// --- Ledger ---

func (m *Memory) AppendEntry(_ context.Context, entry *credit.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(entry)
}

func (m *Memory) appendEntryLocked(entry *credit.LedgerEntry) error {
	m.seq++
	entry.Seq = m.seq
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], *entry)
	return nil
}

func (m *Memory) Entries(_ context.Context, id credit.AccountID) ([]credit.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(id)
}

func (m *Memory) entriesLocked(id credit.AccountID) ([]credit.LedgerEntry, error) {
	src := m.entries[id]
	out := make([]credit.LedgerEntry, len(src))
	copy(out, src)
	return out, nil
}

// --- Payments ---

func (m *Memory) InsertPayment(_ context.Context, rec *credit.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPaymentLocked(rec)
}

func (m *Memory) insertPaymentLocked(rec *credit.PaymentRecord) error {
	if _, exists := m.byCharge[rec.ChargeID]; exists {
		return &credit.DuplicateChargeError{ChargeID: rec.ChargeID}
	}
	m.payments = append(m.payments, *rec)
	m.byCharge[rec.ChargeID] = len(m.payments) - 1
	return nil
}

func (m *Memory) PaymentByCharge(_ context.Context, chargeID string) (*credit.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentByChargeLocked(chargeID)
}

func (m *Memory) paymentByChargeLocked(chargeID string) (*credit.PaymentRecord, error) {
	idx, ok := m.byCharge[chargeID]
	if !ok {
		return nil, credit.ErrPaymentNotFound
	}
	rec := m.payments[idx]
	return &rec, nil
}

func (m *Memory) SetPaymentStatus(_ context.Context, chargeID string, status credit.PaymentStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setPaymentStatusLocked(chargeID, status, at)
}

func (m *Memory) setPaymentStatusLocked(chargeID string, status credit.PaymentStatus, at time.Time) error {
	idx, ok := m.byCharge[chargeID]
	if !ok {
		return credit.ErrPaymentNotFound
	}
	m.payments[idx].Status = status
	if status == credit.PaymentRefunded {
		m.payments[idx].RefundedAt = at
	}
	return nil
}

func (m *Memory) Payments(_ context.Context, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsLocked(id, limit, offset)
}

func (m *Memory) paymentsLocked(id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	var out []credit.PaymentRecord
	skipped := 0
	// Insertion order is creation order; walk backwards for newest-first.
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].AccountID != id {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.payments[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// ATOMIC - Snapshot + rollback
// =============================================================================

// Atomic executes fn while holding the store mutex. On error the
// pre-closure snapshot is restored, so partial writes never survive.
func (m *Memory) Atomic(_ context.Context, fn func(credit.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[credit.AccountID]credit.Account
	entries  map[credit.AccountID][]credit.LedgerEntry
	payments []credit.PaymentRecord
	byCharge map[string]int
	seq      int64
}

func (m *Memory) snapshot() memorySnapshot {
	accounts := make(map[credit.AccountID]credit.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	entries := make(map[credit.AccountID][]credit.LedgerEntry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]credit.LedgerEntry{}, v...)
	}
	payments := append([]credit.PaymentRecord{}, m.payments...)
	byCharge := make(map[string]int, len(m.byCharge))
	for k, v := range m.byCharge {
		byCharge[k] = v
	}
	return memorySnapshot{accounts: accounts, entries: entries, payments: payments, byCharge: byCharge, seq: m.seq}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.entries = s.entries
	m.payments = s.payments
	m.byCharge = s.byCharge
	m.seq = s.seq
}

// txView exposes the parent's unlocked internals to the Atomic closure.
// The parent mutex is already held for the closure's whole lifetime.
type txView struct {
	parent *Memory
}

func (tv *txView) GetAccount(_ context.Context, id credit.AccountID) (*credit.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txView) PutAccount(_ context.Context, acct *credit.Account) error {
	return tv.parent.putAccountLocked(acct)
}

func (tv *txView) AppendEntry(_ context.Context, entry *credit.LedgerEntry) error {
	return tv.parent.appendEntryLocked(entry)
}

func (tv *txView) Entries(_ context.Context, id credit.AccountID) ([]credit.LedgerEntry, error) {
	return tv.parent.entriesLocked(id)
}

func (tv *txView) InsertPayment(_ context.Context, rec *credit.PaymentRecord) error {
	return tv.parent.insertPaymentLocked(rec)
}

func (tv *txView) PaymentByCharge(_ context.Context, chargeID string) (*credit.PaymentRecord, error) {
	return tv.parent.paymentByChargeLocked(chargeID)
}

func (tv *txView) SetPaymentStatus(_ context.Context, chargeID string, status credit.PaymentStatus, at time.Time) error {
	return tv.parent.setPaymentStatusLocked(chargeID, status, at)
}

func (tv *txView) Payments(_ context.Context, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	return tv.parent.paymentsLocked(id, limit, offset)
}

func (tv *txView) Atomic(_ context.Context, fn func(credit.Store) error) error {
	// Already inside an atomic section; run directly.
	return fn(tv)
}
