package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bietkhonhungvandi212/heapdb/internal/catalog"
	"github.com/bietkhonhungvandi212/heapdb/internal/concurrency/lock"
	"github.com/bietkhonhungvandi212/heapdb/internal/logging"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/buffer"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/file"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	"github.com/bietkhonhungvandi212/heapdb/internal/transaction"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

var errPlannedAbort = errors.New("planned abort")

type workload struct {
	workers    int
	ops        int
	abortEvery int
	deleteOdd  bool
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	table := flag.String("table", "events", "table to write to")
	workers := flag.Int("workers", 4, "concurrent writer transactions")
	ops := flag.Int("ops", 200, "transactions per worker")
	abortEvery := flag.Int("abort-every", 10, "abort every n-th transaction (0 disables)")
	deleteOdd := flag.Bool("delete-odd", false, "delete tuples with an odd sequence number after loading")
	flag.Parse()

	if err := run(*configPath, *table, workload{
		workers:    *workers,
		ops:        *ops,
		abortEvery: *abortEvery,
		deleteOdd:  *deleteOdd,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "heapdb: %v\n", err)
		os.Exit(1)
	}
}

func loadOptions(path string) (util.Options, error) {
	if path == "" {
		opts := util.DefaultOptions()
		return opts, opts.Validate()
	}
	return util.LoadOptions(path)
}

func run(configPath, table string, w workload) error {
	opts, err := loadOptions(configPath)
	if err != nil {
		return err
	}
	if err := logging.Init(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat}); err != nil {
		return err
	}
	defer logging.Close()
	logger := logging.WithComponent("main")

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return errors.Wrapf(err, "create data dir %s", opts.Path)
	}

	cat, err := catalog.New()
	if err != nil {
		return err
	}
	defer cat.Close()

	desc, err := tuple.NewTupleDesc([]tuple.Type{tuple.IntType, tuple.IntType, tuple.StringType}, []string{"seq", "worker", "note"})
	if err != nil {
		return err
	}
	hf, err := cat.OpenTable(filepath.Join(opts.Path, table+".dat"), table, desc, "seq", opts.SyncWrites)
	if err != nil {
		return err
	}

	locks := lock.NewManager()
	pool, err := buffer.New(opts, cat, locks)
	if err != nil {
		return err
	}
	txns := transaction.NewManager(pool, opts.MaxRetries)

	ctx := context.Background()
	if err := load(ctx, txns, pool, hf, w); err != nil {
		return err
	}
	if w.deleteOdd {
		if err := deleteOdd(ctx, txns, pool, hf); err != nil {
			return err
		}
	}

	var stored int
	if err := txns.Run(ctx, func(tx *transaction.Transaction) error {
		it := hf.Iterator(pool, tx.ID)
		if err := it.Open(); err != nil {
			return err
		}
		defer it.Close()
		all, err := it.Collect()
		stored = len(all)
		return err
	}); err != nil {
		return err
	}
	if err := pool.FlushAllPages(); err != nil {
		return err
	}

	pages, err := hf.NumPages()
	if err != nil {
		return err
	}
	report(table, stored, pages, pool.Stats(), locks.Stats(), txns.Stats())
	logger.Info("run finished", "table", table, "tuples", stored, "pages", pages)
	return nil
}

// load runs w.workers goroutines, each committing w.ops single-insert transactions
func load(ctx context.Context, txns *transaction.Manager, pool *buffer.BufferPool, hf *file.HeapFile, w workload) error {
	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < w.workers; worker++ {
		worker := worker
		g.Go(func() error {
			for i := 0; i < w.ops; i++ {
				seq := int32(worker*w.ops + i)
				err := txns.Run(ctx, func(tx *transaction.Transaction) error {
					t, err := tuple.NewTupleFrom(hf.Desc(),
						tuple.NewIntField(seq),
						tuple.NewIntField(int32(worker)),
						tuple.NewStringField(fmt.Sprintf("worker %d op %d", worker, i)))
					if err != nil {
						return err
					}
					if err := pool.InsertTuple(tx.ID, hf.ID(), t); err != nil {
						return err
					}
					if w.abortEvery > 0 && (i+1)%w.abortEvery == 0 {
						return errPlannedAbort
					}
					return nil
				})
				if err != nil && !errors.Is(err, errPlannedAbort) {
					return errors.Wrapf(err, "worker %d op %d", worker, i)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func deleteOdd(ctx context.Context, txns *transaction.Manager, pool *buffer.BufferPool, hf *file.HeapFile) error {
	return txns.Run(ctx, func(tx *transaction.Transaction) error {
		it := hf.Iterator(pool, tx.ID)
		if err := it.Open(); err != nil {
			return err
		}
		defer it.Close()
		all, err := it.Collect()
		if err != nil {
			return err
		}
		for _, t := range all {
			f, err := t.Field(0)
			if err != nil {
				return err
			}
			if f.(*tuple.IntField).Value%2 == 1 {
				if err := pool.DeleteTuple(tx.ID, t); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func report(table string, stored, pages int, ps buffer.Stats, ls lock.Stats, ts transaction.Stats) {
	fmt.Printf("table %s: %s tuples in %d pages (%s on disk)\n",
		table, humanize.Comma(int64(stored)), pages, humanize.IBytes(uint64(pages)*util.PageSize))
	fmt.Printf("buffer pool: %d/%d resident (%s), %s hits, %s misses, %s evictions\n",
		ps.Resident, ps.Capacity, humanize.IBytes(uint64(ps.Capacity)*util.PageSize),
		humanize.Comma(int64(ps.Hits)), humanize.Comma(int64(ps.Misses)), humanize.Comma(int64(ps.Evictions)))
	fmt.Printf("locks: %s granted, %s waits, %s deadlocks\n",
		humanize.Comma(int64(ls.Granted)), humanize.Comma(int64(ls.Waits)), humanize.Comma(int64(ls.Deadlocks)))
	fmt.Printf("transactions: %s committed, %s aborted, %s retried\n",
		humanize.Comma(int64(ts.Committed)), humanize.Comma(int64(ts.Aborted)), humanize.Comma(int64(ts.Retries)))
}
