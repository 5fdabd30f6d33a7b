package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxMempoolSize      = 10_000
	maxPendingPerSender = 64                     // max queued txs per sender
	maxTxAge            = int64(time.Hour)       // reject txs older than 1 hour
	maxTxFuture         = int64(5 * time.Minute) // reject txs more than 5 min in the future
)

// Mempool errors.
var (
	ErrMempoolFull   = errors.New("mempool full")
	ErrDuplicateTx   = errors.New("tx already in pool")
	ErrSenderBacklog = errors.New("too many pending txs for sender")
	ErrWrongChain    = errors.New("chain id mismatch")
)

// Mempool is a thread-safe pending-transaction pool. Game transactions from
// one account must execute in nonce order, so Pending preserves arrival
// order and never reorders a sender's transactions.
type Mempool struct {
	mu       sync.RWMutex
	chainID  string
	txs      map[string]*Transaction
	ord      []string // insertion-ordered IDs for deterministic pending iteration
	bySender map[string]int
	now      func() time.Time
}

// NewMempool creates an empty mempool accepting transactions for chainID.
func NewMempool(chainID string) *Mempool {
	return &Mempool{
		chainID:  chainID,
		txs:      make(map[string]*Transaction),
		bySender: make(map[string]int),
		now:      time.Now,
	}
}

// Add validates and inserts a transaction. Returns an error if the pool is
// full, the tx is already present, the signature is invalid, the chain ID
// differs, or the timestamp is out of the acceptable window (-1 h / +5 min).
func (m *Mempool) Add(tx *Transaction) error {
	if tx.ChainID != m.chainID {
		return fmt.Errorf("%w: got %q want %q", ErrWrongChain, tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := m.now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return errors.New("transaction expired")
	}
	if tx.Timestamp-now > maxTxFuture {
		return errors.New("transaction timestamp too far in the future")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrDuplicateTx
	}
	if m.bySender[tx.From] >= maxPendingPerSender {
		return ErrSenderBacklog
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	m.bySender[tx.From]++
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, n)
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
			if len(result) >= n {
				break
			}
		}
	}
	return result
}

// Remove deletes transactions by ID (called after block commit or when a
// transaction is dropped from a block).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if tx, ok := m.txs[id]; ok {
			if m.bySender[tx.From]--; m.bySender[tx.From] <= 0 {
				delete(m.bySender, tx.From)
			}
			delete(m.txs, id)
		}
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
