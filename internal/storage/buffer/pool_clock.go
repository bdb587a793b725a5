package buffer

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

type ClockDesc struct {
	usageCount int32
}

// ClockReplacer approximates LRU with a sweeping hand. Each access bumps the
// frame's usage count (capped at maxLoop); the hand decrements counts as it
// passes and evicts the first clean frame whose count is zero.
type ClockReplacer struct {
	descs []ClockDesc
	*ReplacerShared
	nextVictimIdx int
	maxLoop       int
}

func (cr *ClockReplacer) Init(size int, maxLoop int, replacerShared *ReplacerShared) {
	if maxLoop <= 0 {
		maxLoop = 1
	}
	cr.descs = make([]ClockDesc, size)
	cr.ReplacerShared = replacerShared
	cr.nextVictimIdx = -1
	cr.maxLoop = maxLoop
}

func (cr *ClockReplacer) RequestFree() (int, error) {
	if freeIdx := cr.allocFromFree(); freeIdx != -1 {
		return freeIdx, nil
	}

	// usage counts never exceed maxLoop, so maxLoop+1 sweeps drain them all
	for i, n := 0, cr.poolSize*(cr.maxLoop+1); i < n; i++ {
		cr.nextVictimIdx = (cr.nextVictimIdx + 1) % cr.poolSize
		victimIdx := cr.nextVictimIdx

		if !cr.evictable(victimIdx) {
			continue
		}
		desc := &cr.descs[victimIdx]
		if desc.usageCount > 0 {
			desc.usageCount--
			continue
		}

		cr.release(victimIdx)
		return cr.allocFromFree(), nil
	}

	return -1, util.Storage("[Evict clock] request free frame", util.ErrNoCleanPage)
}

func (cr *ClockReplacer) GetPage(pageId util.PageID) (*page.HeapPage, bool) {
	idx, ok := cr.lookup(pageId)
	if !ok {
		return nil, false
	}
	if cr.descs[idx].usageCount < int32(cr.maxLoop) {
		cr.descs[idx].usageCount++
	}
	return cr.frames[idx], true
}

func (cr *ClockReplacer) PutPage(frameIdx int, p *page.HeapPage) error {
	if err := cr.install(frameIdx, p); err != nil {
		return err
	}
	cr.descs[frameIdx] = ClockDesc{usageCount: 1}
	return nil
}

func (cr *ClockReplacer) RemovePage(pageId util.PageID) bool {
	idx, ok := cr.lookup(pageId)
	if !ok {
		return false
	}
	cr.descs[idx] = ClockDesc{}
	cr.release(idx)
	return true
}

func (cr *ClockReplacer) ResetBuffer() {
	cr.resetShared()
	for i := range cr.descs {
		cr.descs[i] = ClockDesc{}
	}
	cr.nextVictimIdx = -1
}
