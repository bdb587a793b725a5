package buffer

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/page"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

type LRUDesc struct {
	nextIdx int
	prevIdx int
	linked  bool
}

// LRUReplacer keeps resident frames in a doubly linked list ordered by last
// access. Eviction walks from the head (least recent) and skips dirty frames.
type LRUReplacer struct {
	links []LRUDesc
	*ReplacerShared
	lruHead int // Head of LRU (evict first)
	lruTail int // Tail of LRU (most recent)
}

func (lr *LRUReplacer) Init(size int, replacerShared *ReplacerShared) {
	if size <= 0 {
		panic(util.ErrInvalidPoolSize)
	}

	lr.links = make([]LRUDesc, size)
	lr.ReplacerShared = replacerShared
	lr.resetLinks()
}

func (lr *LRUReplacer) RequestFree() (int, error) {
	freeIdx := lr.allocFromFree()
	if freeIdx == -1 {
		rmIdx, err := lr.Evict()
		if err != nil {
			return -1, err
		}
		freeIdx = rmIdx
	}

	return freeIdx, nil
}

func (lr *LRUReplacer) GetPage(pageId util.PageID) (*page.HeapPage, bool) {
	idx, ok := lr.lookup(pageId)
	if !ok {
		return nil, false
	}
	lr.moveToTail(idx)
	return lr.frames[idx], true
}

func (lr *LRUReplacer) PutPage(frameIdx int, p *page.HeapPage) error {
	if err := lr.install(frameIdx, p); err != nil {
		return err
	}
	lr.addToTail(frameIdx)
	return nil
}

func (lr *LRUReplacer) RemovePage(pageId util.PageID) bool {
	idx, ok := lr.lookup(pageId)
	if !ok {
		return false
	}
	lr.removeLRUByIndex(idx)
	lr.release(idx)
	return true
}

// Evict unlinks and frees the least recently used evictable frame
func (lr *LRUReplacer) Evict() (int, error) {
	current := lr.lruHead
	for current != -1 {
		next := lr.links[current].nextIdx
		if lr.evictable(current) {
			lr.removeLRUByIndex(current)
			lr.release(current)
			return lr.allocFromFree(), nil
		}
		current = next
	}
	return -1, util.Storage("[Evict LRU] request free frame", util.ErrNoCleanPage)
}

func (lr *LRUReplacer) ResetBuffer() {
	lr.resetShared()
	lr.resetLinks()
}

// ===================== HELPER FUNCTION =====================
func (lr *LRUReplacer) resetLinks() {
	for i := range lr.links {
		lr.links[i] = LRUDesc{nextIdx: -1, prevIdx: -1}
	}
	lr.lruHead = -1
	lr.lruTail = -1
}

func (lr *LRUReplacer) moveToTail(frameIdx int) {
	lr.removeLRUByIndex(frameIdx)
	lr.addToTail(frameIdx)
}

func (lr *LRUReplacer) addToTail(frameIdx int) {
	tmp := lr.lruTail
	lr.lruTail = frameIdx
	lr.links[frameIdx] = LRUDesc{prevIdx: tmp, nextIdx: -1, linked: true}
	if tmp != -1 {
		lr.links[tmp].nextIdx = frameIdx
	}
	if lr.lruHead == -1 {
		lr.lruHead = frameIdx
	}
}

func (lr *LRUReplacer) removeLRUByIndex(frameIdx int) {
	node := &lr.links[frameIdx]
	if !node.linked {
		return
	}
	prev := node.prevIdx
	next := node.nextIdx
	isHead := prev == -1
	isTail := next == -1

	switch {
	case isHead && isTail:
		// Only one node in the list
		lr.lruHead = -1
		lr.lruTail = -1
	case isHead && !isTail:
		// Removing head, next becomes new head
		lr.lruHead = next
		lr.links[next].prevIdx = -1
	case !isHead && isTail:
		// Removing tail, prev becomes new tail
		lr.lruTail = prev
		lr.links[prev].nextIdx = -1
	case !isHead && !isTail:
		// Removing middle node, connect prev and next
		lr.links[prev].nextIdx = next
		lr.links[next].prevIdx = prev
	}

	// Clear the removed node's links
	*node = LRUDesc{nextIdx: -1, prevIdx: -1}
}

// order returns frame indexes from least to most recently used
func (lr *LRUReplacer) order() []int {
	var out []int
	for cur := lr.lruHead; cur != -1; cur = lr.links[cur].nextIdx {
		out = append(out, cur)
	}
	return out
}
