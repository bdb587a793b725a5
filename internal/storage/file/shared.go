package file

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// PageSource hands out locked pages. The buffer pool is the only production
// implementation; tests may stub it.
type PageSource interface {
	GetPage(tid util.TransactionID, pid util.PageID, perm util.Permissions) (*page.HeapPage, error)
}

// DbFile is the on-disk representation of one table
type DbFile interface {
	ID() util.TableID
	Desc() *tuple.TupleDesc
	NumPages() (int, error)
	ReadPage(pid util.PageID) (*page.HeapPage, error)
	WritePage(p *page.HeapPage) error
	InsertTuple(src PageSource, tid util.TransactionID, t *tuple.Tuple) ([]*page.HeapPage, error)
	DeleteTuple(src PageSource, tid util.TransactionID, t *tuple.Tuple) (*page.HeapPage, error)
	Close() error
}

var _ DbFile = (*HeapFile)(nil)
