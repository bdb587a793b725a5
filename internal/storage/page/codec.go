package page

import (
	"github.com/pkg/errors"

	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

/**
* Block layout (PageSize bytes):
*   [ occupancy bitmap: ceil(slots/8) bytes, slot i -> byte i/8, bit i%8 (LSB first) ]
*   [ slot 0 ][ slot 1 ] ... [ slot slots-1 ]   each desc.Size() bytes
*   [ unused tail, zero ]
* slots = floor(8*PageSize / (8*desc.Size() + 1))
**/

// SlotsPerPage is the number of tuples of this schema that fit on one page
func SlotsPerPage(desc *tuple.TupleDesc) int {
	return (util.PageSize * 8) / (desc.Size()*8 + 1)
}

// HeaderSize is the size of the occupancy bitmap in bytes
func HeaderSize(desc *tuple.TupleDesc) int {
	return (SlotsPerPage(desc) + 7) / 8
}

// EmptyPageData returns the encoding of a page with no tuples
func EmptyPageData() []byte {
	return make([]byte, util.PageSize)
}

// Serialize packs the page into a byte slice for writing
func (p *HeapPage) Serialize() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf := make([]byte, util.PageSize)
	copy(buf, p.header)

	width := p.desc.Size()
	off := len(p.header)
	for i, t := range p.tuples {
		if p.slotUsed(i) {
			if err := t.Encode(buf[off : off+width]); err != nil {
				return nil, errors.Wrapf(err, "encode %s slot %d", p.id, i)
			}
		}
		off += width
	}
	return buf, nil
}

// Deserialize unpacks a page image. Tuples in occupied slots get their RecordID set.
func Deserialize(pid util.PageID, desc *tuple.TupleDesc, data []byte) (*HeapPage, error) {
	if len(data) != util.PageSize {
		return nil, util.Corruption("page image size", errors.Wrapf(util.ErrInvalidPageSize, "got %d bytes", len(data)))
	}

	p := NewEmptyPage(pid, desc)
	copy(p.header, data[:len(p.header)])

	width := desc.Size()
	off := len(p.header)
	for i := range p.tuples {
		if p.slotUsed(i) {
			t, err := tuple.Decode(desc, data[off:off+width])
			if err != nil {
				return nil, util.Corruption("decode "+pid.String(), errors.Wrapf(err, "slot %d", i))
			}
			t.RecordID = &tuple.RecordID{PageID: pid, Slot: util.SlotID(i)}
			p.tuples[i] = t
		}
		off += width
	}

	// bits past the last slot must be zero
	for i := len(p.tuples); i < len(p.header)*8; i++ {
		if p.header[i/8]&(1<<(uint(i)%8)) != 0 {
			return nil, util.Corruption("decode "+pid.String(), errors.Wrapf(util.ErrCorruptPage, "bitmap bit %d beyond %d slots", i, len(p.tuples)))
		}
	}
	return p, nil
}
