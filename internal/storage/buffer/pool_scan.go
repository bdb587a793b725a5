package buffer

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// ScanReplacer evicts the first evictable frame in frame order. It keeps no
// access history.
type ScanReplacer struct {
	*ReplacerShared
}

func (sr *ScanReplacer) Init(replacerShared *ReplacerShared) {
	sr.ReplacerShared = replacerShared
}

func (sr *ScanReplacer) RequestFree() (int, error) {
	if freeIdx := sr.allocFromFree(); freeIdx != -1 {
		return freeIdx, nil
	}
	for i := 0; i < sr.poolSize; i++ {
		if sr.evictable(i) {
			sr.release(i)
			return sr.allocFromFree(), nil
		}
	}
	return -1, util.Storage("[Evict scan] request free frame", util.ErrNoCleanPage)
}

func (sr *ScanReplacer) GetPage(pageId util.PageID) (*page.HeapPage, bool) {
	idx, ok := sr.lookup(pageId)
	if !ok {
		return nil, false
	}
	return sr.frames[idx], true
}

func (sr *ScanReplacer) PutPage(frameIdx int, p *page.HeapPage) error {
	return sr.install(frameIdx, p)
}

func (sr *ScanReplacer) RemovePage(pageId util.PageID) bool {
	idx, ok := sr.lookup(pageId)
	if !ok {
		return false
	}
	sr.release(idx)
	return true
}

func (sr *ScanReplacer) ResetBuffer() {
	sr.resetShared()
}
