// Package transaction tracks live transactions and ends them through the
// buffer pool.
package transaction

import (
	"context"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/logging"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/buffer"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

type Status int32

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type Transaction struct {
	ID        util.TransactionID
	StartedAt time.Time
	status    atomic.Int32
}

func (tx *Transaction) Status() Status { return Status(tx.status.Load()) }

// finish moves an active transaction to s; false if it already ended
func (tx *Transaction) finish(s Status) bool {
	return tx.status.CompareAndSwap(int32(StatusActive), int32(s))
}

type Stats struct {
	Committed uint64
	Aborted   uint64
	Retries   uint64
}

type Manager struct {
	pool       *buffer.BufferPool
	maxRetries int

	mu     sync.RWMutex
	active map[util.TransactionID]*Transaction

	committed atomic.Uint64
	aborted   atomic.Uint64
	retries   atomic.Uint64

	logger *slog.Logger
}

func NewManager(pool *buffer.BufferPool, maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		pool:       pool,
		maxRetries: maxRetries,
		active:     make(map[util.TransactionID]*Transaction),
		logger:     logging.WithComponent("txn"),
	}
}

func (m *Manager) Begin() *Transaction {
	tx := &Transaction{ID: util.NextTransactionID(), StartedAt: time.Now()}

	m.mu.Lock()
	m.active[tx.ID] = tx
	m.mu.Unlock()

	m.logger.Debug("transaction started", logging.TxAttr(tx.ID))
	return tx
}

// Commit writes tx's dirty pages and releases its locks
func (m *Manager) Commit(tx *Transaction) error {
	return m.complete(tx, true)
}

// Abort discards tx's changes and releases its locks
func (m *Manager) Abort(tx *Transaction) error {
	return m.complete(tx, false)
}

func (m *Manager) complete(tx *Transaction, commit bool) error {
	status := StatusAborted
	if commit {
		status = StatusCommitted
	}
	if !tx.finish(status) {
		return util.InvalidArgument("complete transaction", errors.Wrapf(util.ErrTransactionEnded, "%s is %s", tx.ID, tx.Status()))
	}

	m.mu.Lock()
	delete(m.active, tx.ID)
	m.mu.Unlock()

	err := m.pool.TransactionComplete(tx.ID, commit)
	if commit {
		m.committed.Add(1)
	} else {
		m.aborted.Add(1)
	}
	m.logger.Debug("transaction finished", logging.TxAttr(tx.ID), "status", status.String(), "elapsed", time.Since(tx.StartedAt))
	return err
}

// Run executes fn in a fresh transaction and commits it. If fn fails the
// transaction is aborted; deadlock aborts are retried up to maxRetries times
// with a short randomized backoff.
func (m *Manager) Run(ctx context.Context, fn func(tx *Transaction) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := m.Begin()
		err := fn(tx)
		if err == nil {
			return m.Commit(tx)
		}

		if abortErr := m.Abort(tx); abortErr != nil {
			return errors.Wrapf(err, "abort after failure: %v", abortErr)
		}
		if !util.IsTransactionAborted(err) || attempt >= m.maxRetries {
			return err
		}

		m.retries.Add(1)
		m.logger.Debug("retrying aborted transaction", logging.TxAttr(tx.ID), "attempt", attempt+1)
		backoff := time.Duration(rand.Intn(5)+1) * time.Millisecond * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Active lists live transactions ordered by id
func (m *Manager) Active() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Transaction, 0, len(m.active))
	for _, tx := range m.active {
		out = append(out, tx)
	}
	slices.SortFunc(out, func(a, b *Transaction) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

func (m *Manager) Stats() Stats {
	return Stats{
		Committed: m.committed.Load(),
		Aborted:   m.aborted.Load(),
		Retries:   m.retries.Load(),
	}
}
