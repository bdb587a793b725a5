// Package catalog maps table ids to heap files, names and primary keys.
package catalog

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/logging"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/file"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// Table is one registered heap file
type Table struct {
	File       file.DbFile
	Name       string
	PrimaryKey string
}

type Catalog struct {
	mu     sync.RWMutex
	tables map[util.TableID]*Table
	names  map[string]util.TableID

	// name -> id lookups sit in front of names
	nameCache *ristretto.Cache[string, util.TableID]
	logger    *slog.Logger
}

func New() (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, util.TableID]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create name cache")
	}
	return &Catalog{
		tables:    make(map[util.TableID]*Table),
		names:     make(map[string]util.TableID),
		nameCache: cache,
		logger:    logging.WithComponent("catalog"),
	}, nil
}

// AddTable registers f under name. A later table with the same name, or the
// same file id, replaces the earlier registration.
func (c *Catalog) AddTable(f file.DbFile, name, pkeyField string) error {
	if f == nil {
		return util.InvalidArgument("add table", errors.New("nil file"))
	}
	if name == "" {
		return util.InvalidArgument("add table", errors.New("empty table name"))
	}
	if pkeyField != "" {
		if _, err := f.Desc().IndexOf(pkeyField); err != nil {
			return util.InvalidArgument("add table", errors.Wrapf(err, "primary key %q", pkeyField))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if oldID, ok := c.names[name]; ok && oldID != f.ID() {
		delete(c.tables, oldID)
	}
	if old, ok := c.tables[f.ID()]; ok && old.Name != name {
		delete(c.names, old.Name)
		c.nameCache.Del(old.Name)
	}

	c.tables[f.ID()] = &Table{File: f, Name: name, PrimaryKey: pkeyField}
	c.names[name] = f.ID()
	c.nameCache.Del(name)
	c.nameCache.Set(name, f.ID(), 1)
	c.nameCache.Wait()

	c.logger.Info("table registered", "table", name, logging.TableAttr(f.ID()), "schema", f.Desc().String())
	return nil
}

// TableID resolves a table name
func (c *Catalog) TableID(name string) (util.TableID, error) {
	if id, ok := c.nameCache.Get(name); ok {
		return id, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.names[name]
	if !ok {
		return 0, util.NotFound("lookup table", errors.Wrapf(util.ErrTableNotFound, "name %q", name))
	}
	// set under the read lock so a concurrent AddTable's Del is queued after it
	c.nameCache.Set(name, id, 1)
	return id, nil
}

func (c *Catalog) table(id util.TableID) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[id]
	if !ok {
		return nil, util.NotFound("lookup table", errors.Wrapf(util.ErrTableNotFound, "id %d", uint64(id)))
	}
	return t, nil
}

// File returns the heap file for id. It satisfies buffer.FileResolver.
func (c *Catalog) File(id util.TableID) (file.DbFile, error) {
	t, err := c.table(id)
	if err != nil {
		return nil, err
	}
	return t.File, nil
}

func (c *Catalog) TupleDesc(id util.TableID) (*tuple.TupleDesc, error) {
	t, err := c.table(id)
	if err != nil {
		return nil, err
	}
	return t.File.Desc(), nil
}

func (c *Catalog) PrimaryKey(id util.TableID) (string, error) {
	t, err := c.table(id)
	if err != nil {
		return "", err
	}
	return t.PrimaryKey, nil
}

func (c *Catalog) TableName(id util.TableID) (string, error) {
	t, err := c.table(id)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

// TableIDs lists registered tables in ascending id order
func (c *Catalog) TableIDs() []util.TableID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]util.TableID, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clear forgets every table without closing files
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tables = make(map[util.TableID]*Table)
	c.names = make(map[string]util.TableID)
	c.nameCache.Clear()
}

// Close closes every registered file and the name cache
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, t := range c.tables {
		if err := t.File.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close table %s", t.Name)
		}
	}
	c.nameCache.Close()
	return firstErr
}
