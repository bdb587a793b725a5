// Package lock implements strict two-phase page locking with deadlock
// detection. Locks are shared or exclusive per page. A request that cannot be
// admitted parks on the page's condition variable; a request that would close
// a cycle in the wait-for graph fails with a TransactionAborted error instead.
package lock

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/logging"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// ModeFor maps page access permissions onto a lock mode
func ModeFor(perm util.Permissions) Mode {
	if perm == util.ReadWrite {
		return Exclusive
	}
	return Shared
}

// pageLock is the per-page state. A page is either free, held exclusively by
// one transaction, or held shared by one or more transactions.
type pageLock struct {
	mu        sync.Mutex
	cond      *sync.Cond
	shared    map[util.TransactionID]struct{}
	exclusive util.TransactionID
	waiters   int
	dead      bool // unlinked from Manager.pages; fetch a fresh one
}

func newPageLock() *pageLock {
	pl := &pageLock{shared: make(map[util.TransactionID]struct{})}
	pl.cond = sync.NewCond(&pl.mu)
	return pl
}

func (pl *pageLock) admits(tid util.TransactionID, mode Mode) bool {
	if pl.exclusive != util.NoTransaction && pl.exclusive != tid {
		return false
	}
	if mode == Shared {
		return true
	}
	switch len(pl.shared) {
	case 0:
		return true
	case 1:
		_, only := pl.shared[tid]
		return only
	default:
		return false
	}
}

func (pl *pageLock) idle() bool {
	return pl.exclusive == util.NoTransaction && len(pl.shared) == 0 && pl.waiters == 0
}

func (pl *pageLock) grant(tid util.TransactionID, mode Mode) {
	if mode == Exclusive {
		delete(pl.shared, tid)
		pl.exclusive = tid
		return
	}
	if pl.exclusive != tid {
		pl.shared[tid] = struct{}{}
	}
}

// Stats counts lock manager events since creation
type Stats struct {
	Granted   uint64
	Waits     uint64
	Deadlocks uint64
}

// Manager grants page locks to transactions.
//
// Lock order is pageLock.mu before Manager.mu. Manager.mu guards the holder
// and wait-for tables, which the deadlock check reads for pages other than
// the one being requested.
type Manager struct {
	mu      sync.Mutex
	pages   map[util.PageID]*pageLock
	held    map[util.TransactionID]map[util.PageID]struct{}
	holders map[util.PageID]map[util.TransactionID]struct{}
	wishes  map[util.TransactionID]util.PageID

	granted   atomic.Uint64
	waits     atomic.Uint64
	deadlocks atomic.Uint64

	logger *slog.Logger
}

func NewManager() *Manager {
	return &Manager{
		pages:   make(map[util.PageID]*pageLock),
		held:    make(map[util.TransactionID]map[util.PageID]struct{}),
		holders: make(map[util.PageID]map[util.TransactionID]struct{}),
		wishes:  make(map[util.TransactionID]util.PageID),
		logger:  logging.WithComponent("lock"),
	}
}

func (lm *Manager) pageLock(pid util.PageID) *pageLock {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	pl, ok := lm.pages[pid]
	if !ok {
		pl = newPageLock()
		lm.pages[pid] = pl
	}
	return pl
}

// lockedPage returns the live pageLock for pid with its mutex held
func (lm *Manager) lockedPage(pid util.PageID) *pageLock {
	for {
		pl := lm.pageLock(pid)
		pl.mu.Lock()
		if !pl.dead {
			return pl
		}
		pl.mu.Unlock()
	}
}

// lookupPage is lockedPage without creating state; nil if pid is unlocked
func (lm *Manager) lookupPage(pid util.PageID) *pageLock {
	for {
		lm.mu.Lock()
		pl := lm.pages[pid]
		lm.mu.Unlock()
		if pl == nil {
			return nil
		}
		pl.mu.Lock()
		if !pl.dead {
			return pl
		}
		pl.mu.Unlock()
	}
}

// AcquireLock blocks until tid holds pid in at least the requested mode.
// It returns a TransactionAborted error if waiting would deadlock; the caller
// must then abort tid to release whatever it already holds.
func (lm *Manager) AcquireLock(tid util.TransactionID, pid util.PageID, mode Mode) error {
	if tid == util.NoTransaction {
		return util.InvalidArgument("acquire lock", errors.New("no transaction"))
	}

	pl := lm.lockedPage(pid)
	defer pl.mu.Unlock()

	waited := false
	for {
		if pl.admits(tid, mode) {
			pl.grant(tid, mode)
			lm.recordGrant(tid, pid)
			lm.granted.Add(1)
			return nil
		}

		lm.mu.Lock()
		if lm.closesCycleLocked(tid, pid) {
			delete(lm.wishes, tid)
			lm.mu.Unlock()
			lm.deadlocks.Add(1)
			lm.logger.Warn("deadlock detected, aborting requester",
				logging.TxAttr(tid), logging.PageAttr(pid), "mode", mode.String())
			return util.TransactionAborted("acquire lock", errors.Wrapf(util.ErrDeadlock, "%s waiting for %s", tid, pid)).
				With("tx", tid.String()).With("page", pid.String())
		}
		lm.wishes[tid] = pid
		lm.mu.Unlock()

		if !waited {
			lm.waits.Add(1)
			waited = true
		}
		pl.waiters++
		pl.cond.Wait()
		pl.waiters--
	}
}

func (lm *Manager) recordGrant(tid util.TransactionID, pid util.PageID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	pages, ok := lm.held[tid]
	if !ok {
		pages = make(map[util.PageID]struct{})
		lm.held[tid] = pages
	}
	pages[pid] = struct{}{}

	txs, ok := lm.holders[pid]
	if !ok {
		txs = make(map[util.TransactionID]struct{})
		lm.holders[pid] = txs
	}
	txs[tid] = struct{}{}

	delete(lm.wishes, tid)
}

// closesCycleLocked reports whether tid waiting on pid would complete a cycle
// in the wait-for graph. An edge runs from a waiting transaction to every
// other holder of the page it wishes for. Requires lm.mu.
func (lm *Manager) closesCycleLocked(tid util.TransactionID, pid util.PageID) bool {
	visited := map[util.TransactionID]struct{}{}
	stack := lm.blockersLocked(tid, pid)

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == tid {
			return true
		}
		if _, seen := visited[h]; seen {
			continue
		}
		visited[h] = struct{}{}

		if want, waiting := lm.wishes[h]; waiting {
			stack = append(stack, lm.blockersLocked(h, want)...)
		}
	}
	return false
}

func (lm *Manager) blockersLocked(tid util.TransactionID, pid util.PageID) []util.TransactionID {
	var out []util.TransactionID
	for h := range lm.holders[pid] {
		if h != tid {
			out = append(out, h)
		}
	}
	return out
}

// ReleaseLock drops whatever lock tid holds on pid. Idempotent.
func (lm *Manager) ReleaseLock(tid util.TransactionID, pid util.PageID) {
	pl := lm.lookupPage(pid)
	if pl == nil {
		return
	}
	defer pl.mu.Unlock()

	delete(pl.shared, tid)
	if pl.exclusive == tid {
		pl.exclusive = util.NoTransaction
	}

	lm.mu.Lock()
	if pl.idle() {
		pl.dead = true
		delete(lm.pages, pid)
	}
	if pages, ok := lm.held[tid]; ok {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(lm.held, tid)
		}
	}
	if txs, ok := lm.holders[pid]; ok {
		delete(txs, tid)
		if len(txs) == 0 {
			delete(lm.holders, pid)
		}
	}
	lm.mu.Unlock()

	pl.cond.Broadcast()
}

// ReleaseAll drops every lock tid holds and forgets any pending wish
func (lm *Manager) ReleaseAll(tid util.TransactionID) {
	pages := lm.LockedPages(tid)
	for _, pid := range pages {
		lm.ReleaseLock(tid, pid)
	}

	lm.mu.Lock()
	delete(lm.wishes, tid)
	lm.mu.Unlock()

	if len(pages) > 0 {
		lm.logger.Debug("released all locks", logging.TxAttr(tid), "pages", len(pages))
	}
}

// HoldsLock reports whether tid holds pid in either mode
func (lm *Manager) HoldsLock(tid util.TransactionID, pid util.PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	_, ok := lm.held[tid][pid]
	return ok
}

// LockedPages returns a snapshot of the pages tid holds
func (lm *Manager) LockedPages(tid util.TransactionID) []util.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]util.PageID, 0, len(lm.held[tid]))
	for pid := range lm.held[tid] {
		out = append(out, pid)
	}
	return out
}

// Holders returns the exclusive holder (or NoTransaction) and the shared holders of pid
func (lm *Manager) Holders(pid util.PageID) (util.TransactionID, []util.TransactionID) {
	pl := lm.lookupPage(pid)
	if pl == nil {
		return util.NoTransaction, nil
	}
	defer pl.mu.Unlock()

	shared := make([]util.TransactionID, 0, len(pl.shared))
	for tid := range pl.shared {
		shared = append(shared, tid)
	}
	return pl.exclusive, shared
}

// trackedPages is the number of pages with live lock state
func (lm *Manager) trackedPages() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.pages)
}

func (lm *Manager) Stats() Stats {
	return Stats{
		Granted:   lm.granted.Load(),
		Waits:     lm.waits.Load(),
		Deadlocks: lm.deadlocks.Load(),
	}
}
