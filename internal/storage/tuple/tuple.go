package tuple

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// RecordID is the location of a stored tuple
type RecordID struct {
	PageID util.PageID
	Slot   util.SlotID
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s.%d", r.PageID, r.Slot)
}

// Tuple is an ordered list of field values matching a TupleDesc.
// RecordID is nil until the tuple is stored on a page.
type Tuple struct {
	desc     *TupleDesc
	fields   []Field
	RecordID *RecordID
}

func NewTuple(desc *TupleDesc) *Tuple {
	return &Tuple{desc: desc, fields: make([]Field, desc.NumFields())}
}

// NewTupleFrom builds a tuple and checks every value against the schema
func NewTupleFrom(desc *TupleDesc, values ...Field) (*Tuple, error) {
	if len(values) != desc.NumFields() {
		return nil, util.InvalidArgument("tuple arity", errors.Wrapf(util.ErrSchemaMismatch, "got %d values for %d fields", len(values), desc.NumFields()))
	}
	t := NewTuple(desc)
	for i, v := range values {
		if err := t.SetField(i, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tuple) Desc() *TupleDesc { return t.desc }

func (t *Tuple) Field(i int) (Field, error) {
	if i < 0 || i >= len(t.fields) {
		return nil, util.NotFound("field index", errors.Errorf("index %d out of range [0,%d)", i, len(t.fields)))
	}
	return t.fields[i], nil
}

func (t *Tuple) SetField(i int, f Field) error {
	ft, err := t.desc.FieldType(i)
	if err != nil {
		return err
	}
	if f == nil || f.Type() != ft {
		return util.InvalidArgument("field type", errors.Wrapf(util.ErrSchemaMismatch, "field %d wants %s", i, ft))
	}
	t.fields[i] = f
	return nil
}

// Complete reports whether every field has a value
func (t *Tuple) Complete() bool {
	for _, f := range t.fields {
		if f == nil {
			return false
		}
	}
	return true
}

// Equals compares schema and field values; record ids are ignored
func (t *Tuple) Equals(other *Tuple) bool {
	if other == nil || !t.desc.Equals(other.desc) {
		return false
	}
	for i := range t.fields {
		a, b := t.fields[i], other.fields[i]
		if a == nil || b == nil {
			if a != b {
				return false
			}
			continue
		}
		if !a.Equals(b) {
			return false
		}
	}
	return true
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		if f == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = f.String()
	}
	return strings.Join(parts, "\t")
}

// Encode writes the tuple into a slot of exactly desc.Size() bytes
func (t *Tuple) Encode(slot []byte) error {
	if len(slot) != t.desc.Size() {
		return errors.Errorf("slot is %d bytes, schema needs %d", len(slot), t.desc.Size())
	}
	if !t.Complete() {
		return util.InvalidArgument("tuple has unset fields", util.ErrInvalidTuple)
	}
	off := 0
	for _, f := range t.fields {
		n := f.Type().Len()
		f.encode(slot[off : off+n])
		off += n
	}
	return nil
}

// Decode reads one tuple of the given schema from a slot
func Decode(desc *TupleDesc, slot []byte) (*Tuple, error) {
	if len(slot) < desc.Size() {
		return nil, errors.Wrapf(util.ErrCorruptPage, "slot is %d bytes, schema needs %d", len(slot), desc.Size())
	}
	t := NewTuple(desc)
	off := 0
	for i, fd := range desc.fields {
		f, err := decodeField(fd.Type, slot[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i)
		}
		t.fields[i] = f
		off += fd.Type.Len()
	}
	return t, nil
}
