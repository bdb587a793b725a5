package buffer

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// ReplacerShared provides common state and methods for replacement policies.
type ReplacerShared struct {
	frames    []*page.HeapPage    // Resident pages, nil when free
	pageToIdx map[util.PageID]int // Map PageID to frame index
	nextFree  []int               // Free list for allocation
	freeHead  int                 // Head of free list
	poolSize  int                 // Total frames
}

// NewReplacerShared initializes the shared replacer state.
func NewReplacerShared(size int) *ReplacerShared {
	if size <= 0 {
		panic(util.ErrInvalidPoolSize)
	}
	rs := &ReplacerShared{
		frames:    make([]*page.HeapPage, size),
		pageToIdx: make(map[util.PageID]int, size),
		nextFree:  make([]int, size),
		freeHead:  0,
		poolSize:  size,
	}
	rs.resetFree()
	return rs
}

func (rs *ReplacerShared) Size() int { return rs.poolSize }

// Len is the number of resident pages
func (rs *ReplacerShared) Len() int { return len(rs.pageToIdx) }

func (rs *ReplacerShared) resetFree() {
	rs.freeHead = 0
	for i := 0; i < rs.poolSize; i++ {
		rs.nextFree[i] = i + 1
	}
	rs.nextFree[rs.poolSize-1] = -1
}

// allocFromFree allocates a free frame index.
func (rs *ReplacerShared) allocFromFree() int {
	if rs.freeHead == -1 {
		return -1
	}
	freeIdx := rs.freeHead
	rs.freeHead = rs.nextFree[freeIdx]
	rs.nextFree[freeIdx] = -1
	return freeIdx
}

// returnFrameToFree returns a frame to the free list.
func (rs *ReplacerShared) returnFrameToFree(frameIdx int) {
	rs.nextFree[frameIdx] = rs.freeHead
	rs.freeHead = frameIdx
}

// removePageMapping removes a page from the pageToIdx map.
func (rs *ReplacerShared) removePageMapping(pageId util.PageID) {
	delete(rs.pageToIdx, pageId)
}

func (rs *ReplacerShared) getMap() map[util.PageID]int {
	return rs.pageToIdx
}

func (rs *ReplacerShared) lookup(pageId util.PageID) (int, bool) {
	idx, ok := rs.pageToIdx[pageId]
	return idx, ok
}

func (rs *ReplacerShared) validIdx(frameIdx int) bool {
	return frameIdx >= 0 && frameIdx < rs.poolSize
}

// install places p in an allocated frame and maps its id
func (rs *ReplacerShared) install(frameIdx int, p *page.HeapPage) error {
	if !rs.validIdx(frameIdx) {
		return util.InvalidArgument("install page", util.ErrPageOutOfBounds).With("frame", frameIdx)
	}
	if _, exists := rs.pageToIdx[p.ID()]; exists {
		return util.InvalidArgument("install page", util.ErrPageIdExistedInBuffer).With("page", p.ID().String())
	}
	rs.frames[frameIdx] = p
	rs.pageToIdx[p.ID()] = frameIdx
	return nil
}

// replace swaps the page object held in an occupied frame
func (rs *ReplacerShared) replace(p *page.HeapPage) bool {
	idx, ok := rs.pageToIdx[p.ID()]
	if !ok {
		return false
	}
	rs.frames[idx] = p
	return true
}

// release empties a frame and returns it to the free list
func (rs *ReplacerShared) release(frameIdx int) {
	if p := rs.frames[frameIdx]; p != nil {
		rs.removePageMapping(p.ID())
	}
	rs.frames[frameIdx] = nil
	rs.returnFrameToFree(frameIdx)
}

// evictable reports whether the frame holds a clean page
func (rs *ReplacerShared) evictable(frameIdx int) bool {
	p := rs.frames[frameIdx]
	return p != nil && !p.IsDirty()
}

func (rs *ReplacerShared) pages() []*page.HeapPage {
	out := make([]*page.HeapPage, 0, len(rs.pageToIdx))
	for _, p := range rs.frames {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (rs *ReplacerShared) resetShared() {
	for i := range rs.frames {
		rs.frames[i] = nil
	}
	rs.pageToIdx = make(map[util.PageID]int, rs.poolSize)
	rs.resetFree()
}
