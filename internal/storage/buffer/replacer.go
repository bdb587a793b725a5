package buffer

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// Replacer defines the contract for page replacement policies.
// Implementations are not safe for concurrent use; the BufferPool serializes
// every call under its own mutex.
type Replacer interface {
	// Request a frame for allocating and evict if needed. Only clean frames
	// may be evicted; returns ErrNoCleanPage when none qualifies.
	RequestFree() (int, error)
	// GetPage looks up a resident page and records the access.
	GetPage(pageId util.PageID) (*page.HeapPage, bool)
	PutPage(frameIdx int, p *page.HeapPage) error
	// RemovePage drops a resident page without writing it.
	RemovePage(pageId util.PageID) bool
	Size() int
	ResetBuffer() // for testing purpose
}

// NewReplacer builds the replacer named by policy over shared frame state
func NewReplacer(policy string, size int, maxLoop int) (Replacer, *ReplacerShared, error) {
	if size <= 0 {
		return nil, nil, util.InvalidArgument("new replacer", util.ErrInvalidPoolSize)
	}
	shared := NewReplacerShared(size)
	switch policy {
	case util.PolicyScan, "":
		r := &ScanReplacer{}
		r.Init(shared)
		return r, shared, nil
	case util.PolicyLRU:
		r := &LRUReplacer{}
		r.Init(size, shared)
		return r, shared, nil
	case util.PolicyClock:
		r := &ClockReplacer{}
		r.Init(size, maxLoop, shared)
		return r, shared, nil
	default:
		return nil, nil, util.InvalidArgument("new replacer", util.ErrInvalidPolicy).With("policy", policy)
	}
}
