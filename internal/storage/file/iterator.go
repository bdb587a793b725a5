package file

import (
	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

var errIteratorClosed = errors.New("iterator not opened")

// Iterator walks every stored tuple of a heap file in (page, slot) order.
// Pages are fetched through a PageSource with shared locks, so a scan takes
// part in two-phase locking like any other reader.
type Iterator struct {
	file     *HeapFile
	src      PageSource
	tid      util.TransactionID
	pageNo   int
	buffered []*tuple.Tuple
	isOpen   bool
}

func (hf *HeapFile) Iterator(src PageSource, tid util.TransactionID) *Iterator {
	return &Iterator{file: hf, src: src, tid: tid, pageNo: -1}
}

func (it *Iterator) Open() error {
	it.pageNo = -1
	it.buffered = nil
	it.isOpen = true
	return nil
}

// HasNext loads pages until one with tuples is found or the file ends
func (it *Iterator) HasNext() (bool, error) {
	if !it.isOpen {
		return false, errIteratorClosed
	}
	for len(it.buffered) == 0 {
		n, err := it.file.NumPages()
		if err != nil {
			return false, err
		}
		if it.pageNo+1 >= n {
			return false, nil
		}
		it.pageNo++
		pg, err := it.src.GetPage(it.tid, util.NewPageID(it.file.ID(), util.PageNumber(it.pageNo)), util.ReadOnly)
		if err != nil {
			return false, err
		}
		it.buffered = pg.Tuples()
	}
	return true, nil
}

func (it *Iterator) Next() (*tuple.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.NotFound("iterator", errors.New("no more tuples"))
	}
	t := it.buffered[0]
	it.buffered = it.buffered[1:]
	return t, nil
}

func (it *Iterator) Rewind() error {
	return it.Open()
}

func (it *Iterator) Close() error {
	it.buffered = nil
	it.isOpen = false
	return nil
}

// Collect drains the iterator into a slice
func (it *Iterator) Collect() ([]*tuple.Tuple, error) {
	var out []*tuple.Tuple
	for {
		ok, err := it.HasNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		t, err := it.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
}
