package transaction

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bietkhonhungvandi212/heapdb/internal/catalog"
	"github.com/bietkhonhungvandi212/heapdb/internal/concurrency/lock"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/buffer"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/file"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

func setup(t *testing.T, maxRetries int) (*Manager, *buffer.BufferPool, *file.HeapFile) {
	t.Helper()
	path, cleanup := util.CreateTempFile(t)
	t.Cleanup(cleanup)

	cat, err := catalog.New()
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	hf, err := cat.OpenTable(path, "pairs", page.TwoIntDesc, "", false)
	require.NoError(t, err)

	opts := util.DefaultOptions()
	opts.BufferPoolSize = 8
	bp, err := buffer.New(opts, cat, lock.NewManager())
	require.NoError(t, err)
	return NewManager(bp, maxRetries), bp, hf
}

func count(t *testing.T, m *Manager, bp *buffer.BufferPool, hf *file.HeapFile) int {
	t.Helper()
	n := 0
	require.NoError(t, m.Run(context.Background(), func(tx *Transaction) error {
		it := hf.Iterator(bp, tx.ID)
		if err := it.Open(); err != nil {
			return err
		}
		defer it.Close()
		got, err := it.Collect()
		n = len(got)
		return err
	}))
	return n
}

func TestBeginCommitAbort(t *testing.T) {
	m, bp, hf := setup(t, 0)

	tx := m.Begin()
	assert.Equal(t, StatusActive, tx.Status())
	assert.Equal(t, []*Transaction{tx}, m.Active())

	require.NoError(t, bp.InsertTuple(tx.ID, hf.ID(), page.IntTuple(page.TwoIntDesc, 1, 1)))
	require.NoError(t, m.Commit(tx))
	assert.Equal(t, StatusCommitted, tx.Status())
	assert.Empty(t, m.Active())

	err := m.Commit(tx)
	assert.True(t, errors.Is(err, util.ErrTransactionEnded))
	assert.True(t, errors.Is(m.Abort(tx), util.ErrTransactionEnded))

	rolled := m.Begin()
	require.NoError(t, bp.InsertTuple(rolled.ID, hf.ID(), page.IntTuple(page.TwoIntDesc, 2, 2)))
	require.NoError(t, m.Abort(rolled))
	assert.Equal(t, StatusAborted, rolled.Status())

	assert.Equal(t, 1, count(t, m, bp, hf))
	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Committed, "count() commits its own transaction")
	assert.Equal(t, uint64(1), stats.Aborted)
}

func TestActiveIsOrdered(t *testing.T) {
	m, _, _ := setup(t, 0)
	a, b, c := m.Begin(), m.Begin(), m.Begin()
	assert.Equal(t, []*Transaction{a, b, c}, m.Active())

	require.NoError(t, m.Abort(b))
	assert.Equal(t, []*Transaction{a, c}, m.Active())
	require.NoError(t, m.Abort(a))
	require.NoError(t, m.Abort(c))
}

func TestRunAbortsOnError(t *testing.T) {
	m, bp, hf := setup(t, 3)
	boom := errors.New("boom")

	calls := 0
	err := m.Run(context.Background(), func(tx *Transaction) error {
		calls++
		if err := bp.InsertTuple(tx.ID, hf.ID(), page.IntTuple(page.TwoIntDesc, 1, 1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "ordinary errors are not retried")
	assert.Equal(t, 0, count(t, m, bp, hf))
}

func TestRunRetriesDeadlockAborts(t *testing.T) {
	m, _, _ := setup(t, 2)
	deadlock := util.TransactionAborted("acquire lock", util.ErrDeadlock)

	calls := 0
	err := m.Run(context.Background(), func(tx *Transaction) error {
		calls++
		if calls < 3 {
			return deadlock
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint64(2), m.Stats().Retries)

	calls = 0
	err = m.Run(context.Background(), func(tx *Transaction) error {
		calls++
		return deadlock
	})
	assert.True(t, util.IsTransactionAborted(err))
	assert.Equal(t, 3, calls, "one attempt plus maxRetries")
}

func TestRunHonorsContext(t *testing.T) {
	m, _, _ := setup(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.Run(ctx, func(tx *Transaction) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestConcurrentTransfers(t *testing.T) {
	m, bp, hf := setup(t, 50)

	// seed two pages worth of tuples
	require.NoError(t, m.Run(context.Background(), func(tx *Transaction) error {
		for i := 0; i < page.SlotsPerPage(page.TwoIntDesc)+10; i++ {
			if err := bp.InsertTuple(tx.ID, hf.ID(), page.IntTuple(page.TwoIntDesc, int32(i), 0)); err != nil {
				return err
			}
		}
		return nil
	}))
	seeded := count(t, m, bp, hf)

	var deleted atomic.Int32
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 5; i++ {
				err := m.Run(context.Background(), func(tx *Transaction) error {
					// read everything, then delete one tuple and add one back
					it := hf.Iterator(bp, tx.ID)
					if err := it.Open(); err != nil {
						return err
					}
					all, err := it.Collect()
					if err != nil {
						return err
					}
					victim := all[(w*5+i)%len(all)]
					if err := bp.DeleteTuple(tx.ID, victim); err != nil {
						return err
					}
					return bp.InsertTuple(tx.ID, hf.ID(), page.IntTuple(page.TwoIntDesc, int32(1000+w), int32(i)))
				})
				if err != nil {
					return err
				}
				deleted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(20), deleted.Load())
	assert.Equal(t, seeded, count(t, m, bp, hf), "every delete was matched by an insert")
	assert.Empty(t, m.Active())
}
