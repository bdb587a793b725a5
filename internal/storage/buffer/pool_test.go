package buffer

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bietkhonhungvandi212/heapdb/internal/catalog"
	"github.com/bietkhonhungvandi212/heapdb/internal/concurrency/lock"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/file"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

var policies = []string{util.PolicyScan, util.PolicyLRU, util.PolicyClock}

type fixture struct {
	path  string
	cat   *catalog.Catalog
	hf    *file.HeapFile
	locks *lock.Manager
	bp    *BufferPool
}

func newFixture(t *testing.T, size int, policy string) *fixture {
	t.Helper()
	path, cleanup := util.CreateTempFile(t)
	t.Cleanup(cleanup)
	return openFixture(t, path, size, policy)
}

// openFixture opens path with a fresh catalog, lock manager and pool
func openFixture(t *testing.T, path string, size int, policy string) *fixture {
	t.Helper()
	cat, err := catalog.New()
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	hf, err := cat.OpenTable(path, "pairs", page.TwoIntDesc, "a", false)
	require.NoError(t, err)

	opts := util.DefaultOptions()
	opts.BufferPoolSize = size
	opts.EvictionPolicy = policy
	locks := lock.NewManager()
	bp, err := New(opts, cat, locks)
	require.NoError(t, err)

	return &fixture{path: path, cat: cat, hf: hf, locks: locks, bp: bp}
}

// seed writes n pages straight to disk; page i holds one tuple (i, i)
func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := page.CreateTestPage(f.pid(i), int32(i))
		require.NoError(t, f.hf.WritePage(p))
	}
}

func (f *fixture) pid(i int) util.PageID {
	return util.NewPageID(f.hf.ID(), util.PageNumber(i))
}

func (f *fixture) scan(t *testing.T, tid util.TransactionID) []*tuple.Tuple {
	t.Helper()
	it := f.hf.Iterator(f.bp, tid)
	require.NoError(t, it.Open())
	defer it.Close()
	got, err := it.Collect()
	require.NoError(t, err)
	return got
}

func firstInt(t *testing.T, tup *tuple.Tuple) int32 {
	t.Helper()
	fld, err := tup.Field(0)
	require.NoError(t, err)
	return fld.(*tuple.IntField).Value
}

func TestNewBufferPool(t *testing.T) {
	t.Run("ValidSize", func(t *testing.T) {
		for _, policy := range policies {
			replacer, shared, err := NewReplacer(policy, 100, 3)
			require.NoError(t, err, policy)
			bp := NewBufferPool(nil, lock.NewManager(), replacer, shared)

			assert.Equal(t, 100, bp.rs.Size(), "pool size should be matched")
			assert.Equal(t, 0, bp.NumResident())
			assert.Empty(t, shared.getMap(), "pageToIdx should be empty")
		}
	})

	t.Run("ZeroSize", func(t *testing.T) {
		_, _, err := NewReplacer(util.PolicyLRU, 0, 3)
		assert.True(t, errors.Is(err, util.ErrInvalidPoolSize))

		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic for size=0")
			}
		}()
		NewReplacerShared(0)
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		_, _, err := NewReplacer("mru", 4, 3)
		assert.True(t, errors.Is(err, util.ErrInvalidPolicy))
	})
}

func TestAllocFromFree(t *testing.T) {
	rs := NewReplacerShared(4)
	t.Run("AllocateAll", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			idx := rs.allocFromFree()
			assert.Equal(t, i, idx, "alloc index")
			nextIdx := i + 1
			if nextIdx == 4 {
				nextIdx = -1
			}
			assert.Equal(t, nextIdx, rs.freeHead, "freeHead")
		}
		assert.Equal(t, -1, rs.allocFromFree(), "empty free list")
	})
	t.Run("ReturnFrame", func(t *testing.T) {
		rs.returnFrameToFree(2)
		assert.Equal(t, 2, rs.allocFromFree())
	})
}

func TestGetPageCachesAndLocks(t *testing.T) {
	f := newFixture(t, 4, util.PolicyScan)
	f.seed(t, 2)
	tid := util.NextTransactionID()

	p1, err := f.bp.GetPage(tid, f.pid(0), util.ReadOnly)
	require.NoError(t, err)
	p2, err := f.bp.GetPage(tid, f.pid(0), util.ReadOnly)
	require.NoError(t, err)
	assert.Same(t, p1, p2, "second fetch is a cache hit")
	assert.True(t, f.bp.HoldsLock(tid, f.pid(0)))
	assert.False(t, f.bp.HoldsLock(tid, f.pid(1)))

	stats := f.bp.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Resident)

	_, err = f.bp.GetPage(tid, f.pid(9), util.ReadOnly)
	assert.True(t, util.IsNotFound(err))

	_, err = f.bp.GetPage(tid, util.NewPageID(f.hf.ID()+1, 0), util.ReadOnly)
	assert.True(t, errors.Is(err, util.ErrTableNotFound))
}

func TestEvictionBound(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			f := newFixture(t, 3, policy)
			f.seed(t, 10)
			tid := util.NextTransactionID()

			for round := 0; round < 2; round++ {
				for i := 0; i < 10; i++ {
					p, err := f.bp.GetPage(tid, f.pid(i), util.ReadOnly)
					require.NoError(t, err)
					assert.Equal(t, f.pid(i), p.ID())
					assert.LessOrEqual(t, f.bp.NumResident(), 3)
				}
			}
			assert.Equal(t, 3, f.bp.NumResident())
			assert.Positive(t, f.bp.Stats().Evictions)
		})
	}
}

func TestAllDirtyFails(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			f := newFixture(t, 2, policy)
			f.seed(t, 3)
			writer := util.NextTransactionID()

			for i := 0; i < 2; i++ {
				p, err := f.bp.GetPage(writer, f.pid(i), util.ReadWrite)
				require.NoError(t, err)
				p.MarkDirty(true, writer)
			}

			reader := util.NextTransactionID()
			_, err := f.bp.GetPage(reader, f.pid(2), util.ReadOnly)
			require.Error(t, err)
			assert.True(t, util.IsStorage(err))
			assert.True(t, errors.Is(err, util.ErrNoCleanPage))
			assert.Equal(t, 2, f.bp.NumResident())
		})
	}
}

func TestEvictedPageIsReinstalledOnWrite(t *testing.T) {
	f := newFixture(t, 1, util.PolicyScan)
	f.seed(t, 2)
	writer := util.NextTransactionID()

	a, err := f.bp.GetPage(writer, f.pid(0), util.ReadWrite)
	require.NoError(t, err)

	// a clean page is evictable even while exclusively locked
	_, err = f.bp.GetPage(util.NextTransactionID(), f.pid(1), util.ReadOnly)
	require.NoError(t, err)
	require.False(t, f.bp.IsResident(f.pid(0)))

	require.NoError(t, a.InsertTuple(page.IntTuple(page.TwoIntDesc, 5, 5)))
	require.NoError(t, f.bp.markDirty(writer, a))
	assert.True(t, f.bp.IsResident(f.pid(0)))
	assert.False(t, f.bp.IsResident(f.pid(1)))

	require.NoError(t, f.bp.TransactionComplete(writer, true))
	onDisk, err := f.hf.ReadPage(f.pid(0))
	require.NoError(t, err)
	assert.Len(t, onDisk.Tuples(), 2)
}

func TestCapacityOne(t *testing.T) {
	f := newFixture(t, 1, util.PolicyScan)
	f.seed(t, 2)
	pageA, pageB := f.pid(0), f.pid(1)

	t1 := util.NextTransactionID()
	_, err := f.bp.GetPage(t1, pageA, util.ReadOnly)
	require.NoError(t, err)
	assert.True(t, f.bp.IsResident(pageA))

	// clean A makes room for B
	t2 := util.NextTransactionID()
	_, err = f.bp.GetPage(t2, pageB, util.ReadOnly)
	require.NoError(t, err)
	assert.False(t, f.bp.IsResident(pageA))
	assert.True(t, f.bp.IsResident(pageB))
	assert.Equal(t, 1, f.bp.NumResident())

	require.NoError(t, f.bp.TransactionComplete(t1, true))
	require.NoError(t, f.bp.TransactionComplete(t2, true))

	// dirty A blocks B
	t3 := util.NextTransactionID()
	a, err := f.bp.GetPage(t3, pageA, util.ReadWrite)
	require.NoError(t, err)
	a.MarkDirty(true, t3)

	_, err = f.bp.GetPage(util.NextTransactionID(), pageB, util.ReadOnly)
	assert.True(t, util.IsStorage(err))
}

func TestCommitDurability(t *testing.T) {
	f := newFixture(t, 8, util.PolicyLRU)
	tid := util.NextTransactionID()

	for i := int32(0); i < 600; i++ {
		require.NoError(t, f.bp.InsertTuple(tid, f.hf.ID(), page.IntTuple(page.TwoIntDesc, i, -i)))
	}
	require.NoError(t, f.bp.TransactionComplete(tid, true))
	assert.False(t, f.bp.HoldsLock(tid, f.pid(0)))
	assert.Zero(t, f.bp.NumResident(), "commit drops the clean pages")

	require.NoError(t, f.cat.Close())
	reopened := openFixture(t, f.path, 8, util.PolicyScan)

	n, err := reopened.hf.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reader := util.NextTransactionID()
	got := reopened.scan(t, reader)
	require.Len(t, got, 600)
	for i, tup := range got {
		assert.Equal(t, int32(i), firstInt(t, tup))
	}
}

func TestAbortIsolation(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			f := newFixture(t, 4, policy)
			f.seed(t, 1)

			tid := util.NextTransactionID()
			before := f.scan(t, tid)
			require.Len(t, before, 1)

			require.NoError(t, f.bp.DeleteTuple(tid, before[0]))
			for i := int32(100); i < 110; i++ {
				require.NoError(t, f.bp.InsertTuple(tid, f.hf.ID(), page.IntTuple(page.TwoIntDesc, i, i)))
			}
			p, err := f.bp.GetPage(tid, f.pid(0), util.ReadOnly)
			require.NoError(t, err)
			assert.True(t, p.IsDirty())
			assert.Equal(t, tid, p.Dirtier())

			require.NoError(t, f.bp.TransactionComplete(tid, false))
			assert.False(t, f.bp.HoldsLock(tid, f.pid(0)))

			other := util.NextTransactionID()
			after := f.scan(t, other)
			require.Len(t, after, 1)
			assert.Equal(t, int32(0), firstInt(t, after[0]))

			fresh, err := f.bp.GetPage(other, f.pid(0), util.ReadOnly)
			require.NoError(t, err)
			assert.False(t, fresh.IsDirty())
		})
	}
}

func TestNoStealBeforeCommit(t *testing.T) {
	f := newFixture(t, 4, util.PolicyScan)
	tid := util.NextTransactionID()

	require.NoError(t, f.bp.InsertTuple(tid, f.hf.ID(), page.IntTuple(page.TwoIntDesc, 1, 1)))

	// the file grew by an empty page; the tuple itself is only in memory
	onDisk, err := f.hf.ReadPage(f.pid(0))
	require.NoError(t, err)
	assert.Equal(t, onDisk.NumSlots(), onDisk.NumEmptySlots())

	require.NoError(t, f.bp.TransactionComplete(tid, true))
	onDisk, err = f.hf.ReadPage(f.pid(0))
	require.NoError(t, err)
	assert.Equal(t, onDisk.NumSlots()-1, onDisk.NumEmptySlots())
}

func TestFlushPages(t *testing.T) {
	f := newFixture(t, 4, util.PolicyScan)
	f.seed(t, 2)
	t1, t2 := util.NextTransactionID(), util.NextTransactionID()

	p0, err := f.bp.GetPage(t1, f.pid(0), util.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, p0.InsertTuple(page.IntTuple(page.TwoIntDesc, 7, 7)))
	p0.MarkDirty(true, t1)

	p1, err := f.bp.GetPage(t2, f.pid(1), util.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, p1.InsertTuple(page.IntTuple(page.TwoIntDesc, 8, 8)))
	p1.MarkDirty(true, t2)

	require.NoError(t, f.bp.FlushPages(t1))
	assert.False(t, p0.IsDirty())
	assert.True(t, p1.IsDirty(), "other transactions' pages are left alone")

	disk0, err := f.hf.ReadPage(f.pid(0))
	require.NoError(t, err)
	assert.Len(t, disk0.Tuples(), 2)

	require.NoError(t, f.bp.FlushAllPages())
	assert.False(t, p1.IsDirty())
	disk1, err := f.hf.ReadPage(f.pid(1))
	require.NoError(t, err)
	assert.Len(t, disk1.Tuples(), 2)
}

func TestDiscardAndReleasePage(t *testing.T) {
	f := newFixture(t, 4, util.PolicyClock)
	f.seed(t, 1)
	tid := util.NextTransactionID()

	p, err := f.bp.GetPage(tid, f.pid(0), util.ReadWrite)
	require.NoError(t, err)
	p.MarkDirty(true, tid)

	assert.True(t, f.bp.DiscardPage(f.pid(0)))
	assert.False(t, f.bp.IsResident(f.pid(0)))
	assert.False(t, f.bp.DiscardPage(f.pid(0)))

	f.bp.ReleasePage(tid, f.pid(0))
	assert.False(t, f.bp.HoldsLock(tid, f.pid(0)))

	// another writer is no longer blocked
	other := util.NextTransactionID()
	_, err = f.bp.GetPage(other, f.pid(0), util.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, f.bp.TransactionComplete(other, false))
	require.NoError(t, f.bp.TransactionComplete(tid, false))
}

func TestDeadlockPropagatesThroughPool(t *testing.T) {
	f := newFixture(t, 4, util.PolicyScan)
	f.seed(t, 2)
	t1, t2 := util.NextTransactionID(), util.NextTransactionID()

	_, err := f.bp.GetPage(t1, f.pid(0), util.ReadWrite)
	require.NoError(t, err)
	_, err = f.bp.GetPage(t2, f.pid(1), util.ReadWrite)
	require.NoError(t, err)

	var g errgroup.Group
	results := make([]error, 2)
	g.Go(func() error {
		_, err := f.bp.GetPage(t1, f.pid(1), util.ReadWrite)
		results[0] = err
		if err != nil {
			return f.bp.TransactionComplete(t1, false)
		}
		return nil
	})
	g.Go(func() error {
		_, err := f.bp.GetPage(t2, f.pid(0), util.ReadWrite)
		results[1] = err
		if err != nil {
			return f.bp.TransactionComplete(t2, false)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	aborted := 0
	for _, err := range results {
		if err != nil {
			assert.True(t, util.IsTransactionAborted(err))
			aborted++
		}
	}
	assert.Equal(t, 1, aborted)
	require.NoError(t, f.bp.TransactionComplete(t1, true))
	require.NoError(t, f.bp.TransactionComplete(t2, true))
}

func TestConcurrentInserters(t *testing.T) {
	f := newFixture(t, 16, util.PolicyLRU)
	const workers, perWorker = 4, 150

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				for {
					tid := util.NextTransactionID()
					err := f.bp.InsertTuple(tid, f.hf.ID(), page.IntTuple(page.TwoIntDesc, int32(w), int32(i)))
					if err == nil {
						if err := f.bp.TransactionComplete(tid, true); err != nil {
							return err
						}
						break
					}
					if abortErr := f.bp.TransactionComplete(tid, false); abortErr != nil {
						return abortErr
					}
					if !util.IsTransactionAborted(err) {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := f.scan(t, util.NextTransactionID())
	assert.Len(t, got, workers*perWorker)
}

// brokenWrites serves pages from a real heap file but fails every WritePage
type brokenWrites struct {
	*file.HeapFile
}

func (b brokenWrites) WritePage(*page.HeapPage) error {
	return util.Storage("write page", errors.New("disk unplugged"))
}

type resolverFunc func(util.TableID) (file.DbFile, error)

func (r resolverFunc) File(id util.TableID) (file.DbFile, error) { return r(id) }

func TestFailedCommitFlushDropsPage(t *testing.T) {
	f := newFixture(t, 2, util.PolicyScan)
	broken := brokenWrites{f.hf}
	replacer, shared, err := NewReplacer(util.PolicyScan, 2, 0)
	require.NoError(t, err)
	bp := NewBufferPool(resolverFunc(func(util.TableID) (file.DbFile, error) { return broken, nil }), lock.NewManager(), replacer, shared)

	tid := util.NextTransactionID()
	require.NoError(t, bp.InsertTuple(tid, f.hf.ID(), page.IntTuple(page.TwoIntDesc, 1, 1)))
	require.True(t, bp.IsResident(f.pid(0)))

	err = bp.TransactionComplete(tid, true)
	require.Error(t, err)
	assert.True(t, util.IsStorage(err))
	assert.False(t, bp.IsResident(f.pid(0)), "unwritten page must not stay dirty in the pool")
	assert.Zero(t, bp.NumResident())
	assert.False(t, bp.HoldsLock(tid, f.pid(0)))

	// every frame is usable again
	reader := util.NextTransactionID()
	f.seed(t, 3)
	for i := 0; i < 3; i++ {
		_, err := bp.GetPage(reader, f.pid(i), util.ReadOnly)
		require.NoError(t, err)
	}
	require.NoError(t, bp.TransactionComplete(reader, true))
}
