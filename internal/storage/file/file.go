package file

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/logging"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

/**
* A HeapFile is a flat file whose N-th PageSize block holds page N.
* The page count is derived from the file length on every call, so
* a file only ever grows.
**/
type HeapFile struct {
	mu         sync.RWMutex // guards file
	extendMu   sync.Mutex   // serializes appends of new pages
	file       *os.File
	path       string
	id         util.TableID
	desc       *tuple.TupleDesc
	syncWrites bool
	logger     *slog.Logger
}

// TableIDFor derives a stable table id from the absolute path of the file
func TableIDFor(path string) (util.TableID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve %s", path)
	}
	return util.TableID(xxhash.Sum64String(abs)), nil
}

func NewHeapFile(path string, desc *tuple.TupleDesc, syncWrites bool) (*HeapFile, error) {
	if desc == nil {
		return nil, util.InvalidArgument("open heap file", util.ErrSchemaMismatch)
	}
	if page.SlotsPerPage(desc) == 0 {
		return nil, util.InvalidArgument("open heap file", errors.Wrapf(util.ErrTupleTooWide, "tuple width %d", desc.Size()))
	}
	id, err := TableIDFor(path)
	if err != nil {
		return nil, util.InvalidArgument("open heap file", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, util.Storage("open heap file", errors.Wrapf(err, "open %s", path))
	}

	hf := &HeapFile{
		file:       f,
		path:       path,
		id:         id,
		desc:       desc,
		syncWrites: syncWrites,
		logger:     logging.WithComponent("heapfile").With(logging.TableAttr(id)),
	}
	hf.logger.Debug("heap file opened", "path", path, "slots_per_page", page.SlotsPerPage(desc))
	return hf, nil
}

func (hf *HeapFile) ID() util.TableID { return hf.id }

func (hf *HeapFile) Desc() *tuple.TupleDesc { return hf.desc }

func (hf *HeapFile) Path() string { return hf.path }

// NumPages is ceil(file length / PageSize)
func (hf *HeapFile) NumPages() (int, error) {
	hf.mu.RLock()
	defer hf.mu.RUnlock()
	return hf.numPagesLocked()
}

func (hf *HeapFile) numPagesLocked() (int, error) {
	if hf.file == nil {
		return 0, util.Storage("num pages", util.ErrFileClosed)
	}
	info, err := hf.file.Stat()
	if err != nil {
		return 0, util.Storage("num pages", errors.Wrap(err, "stat"))
	}
	size := info.Size()
	return int((size + util.PageSize - 1) / util.PageSize), nil
}

/* READ FILE */
func (hf *HeapFile) ReadPage(pid util.PageID) (*page.HeapPage, error) {
	if pid.TableID != hf.id {
		return nil, util.InvalidArgument("read page", errors.Errorf("%s does not belong to table %d", pid, hf.id))
	}

	hf.mu.RLock()
	defer hf.mu.RUnlock()

	n, err := hf.numPagesLocked()
	if err != nil {
		return nil, err
	}
	if int(pid.PageNo) >= n {
		return nil, util.NotFound("read page", errors.Wrapf(util.ErrPageNotFound, "%s beyond %d pages", pid, n))
	}

	// a short final block reads as zero-filled
	buf := make([]byte, util.PageSize)
	if _, err := hf.file.ReadAt(buf, pid.Offset()); err != nil && !errors.Is(err, io.EOF) {
		return nil, util.Storage("read page", errors.Wrapf(err, "read %s", pid))
	}

	p, err := page.Deserialize(pid, hf.desc, buf)
	if err != nil {
		return nil, err
	}
	return p, nil
}

/* WRITE FILE */
func (hf *HeapFile) WritePage(p *page.HeapPage) error {
	pid := p.ID()
	if pid.TableID != hf.id {
		return util.InvalidArgument("write page", errors.Errorf("%s does not belong to table %d", pid, hf.id))
	}
	data, err := p.Serialize()
	if err != nil {
		return util.Storage("write page", err)
	}
	return hf.writeAt(pid, data)
}

func (hf *HeapFile) writeAt(pid util.PageID, data []byte) error {
	hf.mu.RLock()
	defer hf.mu.RUnlock()

	if hf.file == nil {
		return util.Storage("write page", util.ErrFileClosed)
	}
	if _, err := hf.file.WriteAt(data, pid.Offset()); err != nil {
		return util.Storage("write page", errors.Wrapf(err, "write %s", pid))
	}
	if hf.syncWrites {
		if err := hf.file.Sync(); err != nil {
			return util.Storage("write page", errors.Wrapf(err, "sync %s", pid))
		}
	}
	return nil
}

/* TUPLES */

// InsertTuple places t on the first page with a free slot, scanning in page
// order under exclusive locks. When every page is full the file is extended
// by one empty page. The returned pages must be marked dirty by the caller.
func (hf *HeapFile) InsertTuple(src PageSource, tid util.TransactionID, t *tuple.Tuple) ([]*page.HeapPage, error) {
	if t == nil || !t.Desc().Equals(hf.desc) {
		return nil, util.InvalidArgument("insert tuple", util.ErrSchemaMismatch)
	}
	if !t.Complete() {
		return nil, util.InvalidArgument("insert tuple", util.ErrInvalidTuple)
	}

	n, err := hf.NumPages()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		pg, err := src.GetPage(tid, util.NewPageID(hf.id, util.PageNumber(i)), util.ReadWrite)
		if err != nil {
			return nil, err
		}
		if pg.NumEmptySlots() == 0 {
			continue
		}
		if err := pg.InsertTuple(t); err != nil {
			return nil, err
		}
		return []*page.HeapPage{pg}, nil
	}

	for {
		pid, err := hf.extend()
		if err != nil {
			return nil, err
		}
		pg, err := src.GetPage(tid, pid, util.ReadWrite)
		if err != nil {
			return nil, err
		}
		if pg.NumSlots() == 0 {
			return nil, util.InvalidArgument("insert tuple", errors.Wrapf(util.ErrTupleTooWide, "%s has no slots", pid))
		}
		err = pg.InsertTuple(t)
		if err == nil {
			return []*page.HeapPage{pg}, nil
		}
		// another transaction filled the new page before we locked it
		if !errors.Is(err, util.ErrPageFull) {
			return nil, err
		}
	}
}

// extend appends one empty page and returns its id
func (hf *HeapFile) extend() (util.PageID, error) {
	hf.extendMu.Lock()
	defer hf.extendMu.Unlock()

	n, err := hf.NumPages()
	if err != nil {
		return util.PageID{}, err
	}
	pid := util.NewPageID(hf.id, util.PageNumber(n))
	if err := hf.writeAt(pid, page.EmptyPageData()); err != nil {
		return util.PageID{}, err
	}
	hf.logger.Debug("heap file extended", "page_no", n)
	return pid, nil
}

// DeleteTuple clears the slot named by t's RecordID and returns the page
func (hf *HeapFile) DeleteTuple(src PageSource, tid util.TransactionID, t *tuple.Tuple) (*page.HeapPage, error) {
	if t == nil || t.RecordID == nil {
		return nil, util.NotFound("delete tuple", util.ErrNoRecordID)
	}
	pid := t.RecordID.PageID
	if pid.TableID != hf.id {
		return nil, util.NotFound("delete tuple", errors.Errorf("%s does not belong to table %d", pid, hf.id))
	}

	pg, err := src.GetPage(tid, pid, util.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := pg.DeleteTuple(t); err != nil {
		return nil, err
	}
	return pg, nil
}

/**
* CLOSE FUNCTION
**/
func (hf *HeapFile) Close() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if hf.file == nil {
		return nil // Idempotent
	}
	var err error
	if e := hf.file.Sync(); e != nil {
		err = errors.Wrap(e, "sync file")
	}
	if e := hf.file.Close(); e != nil && err == nil {
		err = errors.Wrap(e, "close file")
	}
	hf.file = nil
	if err != nil {
		return util.Storage("close heap file", err)
	}
	return nil
}
