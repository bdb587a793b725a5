package buffer

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/bietkhonhungvandi212/heapdb/internal/concurrency/lock"
	"github.com/bietkhonhungvandi212/heapdb/internal/logging"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/file"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// FileResolver maps a table id to its heap file
type FileResolver interface {
	File(tableID util.TableID) (file.DbFile, error)
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resident  int
	Capacity  int
}

/**
* BufferPool is a bounded page cache. Every page access goes through GetPage,
* which takes the page lock before touching the cache.
*
* The pool never writes a page dirtied by a live transaction (no-steal), so
* abort can restore a page by re-reading it from disk. Commit writes the
* transaction's dirty pages (force).
**/
type BufferPool struct {
	mu       sync.Mutex
	replacer Replacer
	rs       *ReplacerShared
	files    FileResolver
	locks    *lock.Manager

	touched map[util.TransactionID]map[util.PageID]struct{} // pages fetched per transaction

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	logger *slog.Logger
}

func NewBufferPool(files FileResolver, locks *lock.Manager, replacer Replacer, shared *ReplacerShared) *BufferPool {
	if shared == nil || shared.poolSize <= 0 {
		panic(util.ErrInvalidPoolSize)
	}
	return &BufferPool{
		replacer: replacer,
		rs:       shared,
		files:    files,
		locks:    locks,
		touched:  make(map[util.TransactionID]map[util.PageID]struct{}),
		logger:   logging.WithComponent("buffer"),
	}
}

// New builds a pool sized and configured from opts
func New(opts util.Options, files FileResolver, locks *lock.Manager) (*BufferPool, error) {
	replacer, shared, err := NewReplacer(opts.EvictionPolicy, opts.BufferPoolSize, opts.ClockMaxLoop)
	if err != nil {
		return nil, err
	}
	bp := NewBufferPool(files, locks, replacer, shared)
	bp.logger.Info("buffer pool ready",
		"capacity", opts.BufferPoolSize,
		"size", humanize.IBytes(uint64(opts.BufferPoolSize)*util.PageSize),
		"policy", opts.EvictionPolicy)
	return bp, nil
}

func (bp *BufferPool) Locks() *lock.Manager { return bp.locks }

/* PAGE ACCESS */

// GetPage locks pid for tid in the mode implied by perm, then returns the
// resident page, loading it from its heap file on a miss. A miss on a full
// pool evicts one clean page; if every resident page is dirty the call fails
// with a Storage error wrapping ErrNoCleanPage.
func (bp *BufferPool) GetPage(tid util.TransactionID, pid util.PageID, perm util.Permissions) (*page.HeapPage, error) {
	if err := bp.locks.AcquireLock(tid, pid, lock.ModeFor(perm)); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	addTo(bp.touched, tid, pid)

	if p, ok := bp.replacer.GetPage(pid); ok {
		bp.hits.Add(1)
		return p, nil
	}
	bp.misses.Add(1)

	f, err := bp.files.File(pid.TableID)
	if err != nil {
		return nil, err
	}
	p, err := f.ReadPage(pid)
	if err != nil {
		return nil, err
	}

	full := bp.rs.Len() == bp.rs.Size()
	frameIdx, err := bp.replacer.RequestFree()
	if err != nil {
		bp.logger.Warn("no evictable page", logging.TxAttr(tid), logging.PageAttr(pid), "resident", bp.rs.Len())
		return nil, err
	}
	if full {
		bp.evictions.Add(1)
	}
	if err := bp.replacer.PutPage(frameIdx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// InsertTuple adds t to the table and marks every page it modified dirty by tid
func (bp *BufferPool) InsertTuple(tid util.TransactionID, tableID util.TableID, t *tuple.Tuple) error {
	f, err := bp.files.File(tableID)
	if err != nil {
		return err
	}
	pages, err := f.InsertTuple(bp, tid, t)
	if err != nil {
		return err
	}
	return bp.markDirty(tid, pages...)
}

// DeleteTuple removes t from its table and marks the page dirty by tid
func (bp *BufferPool) DeleteTuple(tid util.TransactionID, t *tuple.Tuple) error {
	if t == nil || t.RecordID == nil {
		return util.NotFound("delete tuple", util.ErrNoRecordID)
	}
	f, err := bp.files.File(t.RecordID.PageID.TableID)
	if err != nil {
		return err
	}
	p, err := f.DeleteTuple(bp, tid, t)
	if err != nil {
		return err
	}
	return bp.markDirty(tid, p)
}

// markDirty attributes pages to tid. A clean page may have been evicted
// between the fetch and the modification; it is put back so the change is
// neither lost nor written before commit.
func (bp *BufferPool) markDirty(tid util.TransactionID, pages ...*page.HeapPage) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, p := range pages {
		p.MarkDirty(true, tid)
		if bp.rs.replace(p) {
			continue
		}
		frameIdx, err := bp.replacer.RequestFree()
		if err != nil {
			return err
		}
		if err := bp.replacer.PutPage(frameIdx, p); err != nil {
			return err
		}
		addTo(bp.touched, tid, p.ID())
	}
	return nil
}

/* TRANSACTION END */

// TransactionComplete ends tid. On commit the pages tid dirtied are written
// and dropped from the pool; on abort they are re-read from disk. A page that
// fails to write or reload is dropped as well, so no frame stays dirty on
// behalf of a finished transaction. In both cases tid's locks are released,
// even when an I/O error is returned.
func (bp *BufferPool) TransactionComplete(tid util.TransactionID, commit bool) error {
	defer bp.locks.ReleaseAll(tid)

	bp.mu.Lock()
	defer bp.mu.Unlock()

	pids := bp.touched[tid]
	delete(bp.touched, tid)

	var errs []error
	if commit {
		for pid := range pids {
			idx, ok := bp.rs.lookup(pid)
			if !ok {
				continue
			}
			p := bp.rs.frames[idx]
			if p.IsDirty() && p.Dirtier() == tid {
				if err := bp.flushLocked(p); err != nil {
					// the image on disk is the last durable one; drop ours
					bp.replacer.RemovePage(pid)
					errs = append(errs, err)
					continue
				}
			}
			if bp.rs.evictable(idx) {
				bp.replacer.RemovePage(pid)
			}
		}
	} else {
		for pid := range pids {
			idx, ok := bp.rs.lookup(pid)
			if !ok {
				continue
			}
			p := bp.rs.frames[idx]
			if !p.IsDirty() || p.Dirtier() != tid {
				continue
			}
			if err := bp.reloadLocked(p); err != nil {
				// never leave the aborted image readable
				bp.replacer.RemovePage(pid)
				errs = append(errs, err)
			}
		}
	}

	if len(pids) > 0 {
		bp.logger.Debug("transaction complete", logging.TxAttr(tid), "commit", commit, "pages", len(pids))
	}
	return errors.Join(errs...)
}

func (bp *BufferPool) reloadLocked(p *page.HeapPage) error {
	f, err := bp.files.File(p.ID().TableID)
	if err != nil {
		return err
	}
	fresh, err := f.ReadPage(p.ID())
	if err != nil {
		return err
	}
	bp.rs.replace(fresh)
	return nil
}

/* FLUSHING */

// FlushAllPages writes every dirty resident page. It ignores no-steal and is
// meant for shutdown and tests.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var errs []error
	for _, p := range bp.rs.pages() {
		if !p.IsDirty() {
			continue
		}
		if err := bp.flushLocked(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushPages writes the resident pages dirtied by tid
func (bp *BufferPool) FlushPages(tid util.TransactionID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var errs []error
	for pid := range bp.touched[tid] {
		idx, ok := bp.rs.lookup(pid)
		if !ok {
			continue
		}
		p := bp.rs.frames[idx]
		if p.IsDirty() && p.Dirtier() == tid {
			if err := bp.flushLocked(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (bp *BufferPool) flushLocked(p *page.HeapPage) error {
	f, err := bp.files.File(p.ID().TableID)
	if err != nil {
		return err
	}
	if err := f.WritePage(p); err != nil {
		return err
	}
	p.MarkDirty(false, util.NoTransaction)
	return nil
}

/* MISC */

// ReleasePage unlocks pid for tid before the transaction ends. This breaks
// two-phase locking and exists for recovery tooling only.
func (bp *BufferPool) ReleasePage(tid util.TransactionID, pid util.PageID) {
	bp.locks.ReleaseLock(tid, pid)
}

func (bp *BufferPool) HoldsLock(tid util.TransactionID, pid util.PageID) bool {
	return bp.locks.HoldsLock(tid, pid)
}

// DiscardPage drops pid from the pool without writing it
func (bp *BufferPool) DiscardPage(pid util.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.replacer.RemovePage(pid)
}

func (bp *BufferPool) IsResident(pid util.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.rs.lookup(pid)
	return ok
}

func (bp *BufferPool) NumResident() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.rs.Len()
}

func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	resident := bp.rs.Len()
	bp.mu.Unlock()

	return Stats{
		Hits:      bp.hits.Load(),
		Misses:    bp.misses.Load(),
		Evictions: bp.evictions.Load(),
		Resident:  resident,
		Capacity:  bp.rs.Size(),
	}
}

// ===================== HELPER FUNCTION =====================
func addTo(m map[util.TransactionID]map[util.PageID]struct{}, tid util.TransactionID, pid util.PageID) {
	set, ok := m[tid]
	if !ok {
		set = make(map[util.PageID]struct{})
		m[tid] = set
	}
	set[pid] = struct{}{}
}

var _ file.PageSource = (*BufferPool)(nil)
