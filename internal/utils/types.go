package util

import (
	"fmt"
	"sync/atomic"
)

// PageSize represents the standard page size (4KB)
const PageSize = 4096

// TableID identifies a heap file. It is derived from the file's absolute path.
type TableID uint64

// PageNumber is the position of a page inside its heap file
type PageNumber uint32

// SlotID is the index of a tuple slot inside a page
type SlotID uint16

// PageID represents a unique page identifier: the owning table plus the page's
// position inside the table's heap file. It is a value type, usable as a map key.
type PageID struct {
	TableID TableID
	PageNo  PageNumber
}

func NewPageID(tableID TableID, pageNo PageNumber) PageID {
	return PageID{TableID: tableID, PageNo: pageNo}
}

// Offset is the byte offset of the page inside its heap file
func (pid PageID) Offset() int64 {
	return int64(pid.PageNo) * int64(PageSize)
}

func (pid PageID) String() string {
	return fmt.Sprintf("page(%d:%d)", uint64(pid.TableID), uint32(pid.PageNo))
}

// TransactionID represents a unique transaction identifier.
// The zero value means "no transaction".
type TransactionID uint64

const NoTransaction TransactionID = 0

var txCounter atomic.Uint64

// NextTransactionID hands out process-wide unique, never-zero transaction ids
func NextTransactionID() TransactionID {
	return TransactionID(txCounter.Add(1))
}

func (tid TransactionID) String() string {
	if tid == NoTransaction {
		return "tx-none"
	}
	return fmt.Sprintf("tx-%d", uint64(tid))
}

// Permissions is the access level a transaction asks for when fetching a page
type Permissions int

const (
	ReadOnly Permissions = iota
	ReadWrite
)

func (p Permissions) String() string {
	switch p {
	case ReadOnly:
		return "READ_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("Permissions(%d)", int(p))
	}
}
