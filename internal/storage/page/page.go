package page

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

const FlagDirty uint16 = 1

// HeapPage is the decoded, in-memory view of one heap file block: an occupancy
// bitmap plus NumSlots fixed-width tuple slots.
type HeapPage struct {
	mu      sync.RWMutex
	id      util.PageID
	desc    *tuple.TupleDesc
	header  []byte
	tuples  []*tuple.Tuple
	flags   uint16
	dirtier util.TransactionID
}

// NewEmptyPage allocates a page with no occupied slots
func NewEmptyPage(pid util.PageID, desc *tuple.TupleDesc) *HeapPage {
	n := SlotsPerPage(desc)
	return &HeapPage{
		id:     pid,
		desc:   desc,
		header: make([]byte, HeaderSize(desc)),
		tuples: make([]*tuple.Tuple, n),
	}
}

func (p *HeapPage) ID() util.PageID { return p.id }

func (p *HeapPage) Desc() *tuple.TupleDesc { return p.desc }

func (p *HeapPage) NumSlots() int { return len(p.tuples) }

func (p *HeapPage) NumEmptySlots() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	empty := 0
	for i := range p.tuples {
		if !p.slotUsed(i) {
			empty++
		}
	}
	return empty
}

func (p *HeapPage) IsSlotUsed(slot int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.slotUsed(slot)
}

/* DIRTY TRACKING */

// MarkDirty records (or clears) the transaction that last modified the page
func (p *HeapPage) MarkDirty(dirty bool, tid util.TransactionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dirty {
		p.flags |= FlagDirty
		p.dirtier = tid
		return
	}
	p.flags &^= FlagDirty
	p.dirtier = util.NoTransaction
}

func (p *HeapPage) IsDirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.flags&FlagDirty != 0
}

// Dirtier returns the transaction that dirtied the page, or NoTransaction
func (p *HeapPage) Dirtier() util.TransactionID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirtier
}

/* TUPLES */

// InsertTuple places t in the first free slot and sets its RecordID
func (p *HeapPage) InsertTuple(t *tuple.Tuple) error {
	if t == nil || !t.Desc().Equals(p.desc) {
		return util.InvalidArgument("insert into "+p.id.String(), util.ErrSchemaMismatch)
	}
	if !t.Complete() {
		return util.InvalidArgument("insert into "+p.id.String(), util.ErrInvalidTuple)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.tuples {
		if p.slotUsed(i) {
			continue
		}
		p.setSlot(i, true)
		p.tuples[i] = t
		t.RecordID = &tuple.RecordID{PageID: p.id, Slot: util.SlotID(i)}
		return nil
	}
	return util.InvalidArgument("insert into "+p.id.String(), util.ErrPageFull)
}

// DeleteTuple clears the slot named by t's RecordID
func (p *HeapPage) DeleteTuple(t *tuple.Tuple) error {
	if t == nil || t.RecordID == nil {
		return util.NotFound("delete from "+p.id.String(), util.ErrNoRecordID)
	}
	rid := t.RecordID
	if rid.PageID != p.id {
		return util.NotFound("delete from "+p.id.String(), errors.Errorf("tuple lives on %s", rid.PageID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot := int(rid.Slot)
	if slot >= len(p.tuples) {
		return util.NotFound("delete from "+p.id.String(), errors.Wrapf(util.ErrSlotOutOfBounds, "slot %d", slot))
	}
	if !p.slotUsed(slot) {
		return util.NotFound("delete from "+p.id.String(), errors.Wrapf(util.ErrSlotEmpty, "slot %d", slot))
	}
	p.setSlot(slot, false)
	p.tuples[slot] = nil
	t.RecordID = nil
	return nil
}

// TupleAt returns the tuple in slot, or a NotFound error if the slot is empty
func (p *HeapPage) TupleAt(slot int) (*tuple.Tuple, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if slot < 0 || slot >= len(p.tuples) {
		return nil, util.NotFound(p.id.String(), errors.Wrapf(util.ErrSlotOutOfBounds, "slot %d", slot))
	}
	if !p.slotUsed(slot) {
		return nil, util.NotFound(p.id.String(), errors.Wrapf(util.ErrSlotEmpty, "slot %d", slot))
	}
	return p.tuples[slot], nil
}

// Tuples returns the occupied slots in slot order
func (p *HeapPage) Tuples() []*tuple.Tuple {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*tuple.Tuple, 0, len(p.tuples))
	for i, t := range p.tuples {
		if p.slotUsed(i) {
			out = append(out, t)
		}
	}
	return out
}

// ===================== HELPER FUNCTION =====================
func (p *HeapPage) slotUsed(i int) bool {
	if i < 0 || i >= len(p.tuples) {
		return false
	}
	return p.header[i/8]&(1<<(uint(i)%8)) != 0
}

func (p *HeapPage) setSlot(i int, used bool) {
	if used {
		p.header[i/8] |= 1 << (uint(i) % 8)
	} else {
		p.header[i/8] &^= 1 << (uint(i) % 8)
	}
}
