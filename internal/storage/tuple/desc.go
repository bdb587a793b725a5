package tuple

import (
	"strings"

	"github.com/pkg/errors"

	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// FieldDesc is one column of a schema. Name may be empty.
type FieldDesc struct {
	Type Type
	Name string
}

// TupleDesc describes the schema of a tuple. It is immutable once built.
type TupleDesc struct {
	fields []FieldDesc
	size   int
}

// NewTupleDesc builds a schema from parallel type / name slices.
// names may be nil for anonymous fields.
func NewTupleDesc(types []Type, names []string) (*TupleDesc, error) {
	if len(types) == 0 {
		return nil, util.InvalidArgument("schema needs at least one field", nil)
	}
	if names != nil && len(names) != len(types) {
		return nil, util.InvalidArgument("schema names and types differ in length", nil)
	}

	td := &TupleDesc{fields: make([]FieldDesc, len(types))}
	for i, t := range types {
		if t.Len() == 0 {
			return nil, util.InvalidArgument("unknown field type "+t.String(), nil)
		}
		td.fields[i].Type = t
		if names != nil {
			td.fields[i].Name = names[i]
		}
		td.size += t.Len()
	}
	return td, nil
}

// MustTupleDesc is NewTupleDesc for static schemas; it panics on error.
func MustTupleDesc(types []Type, names []string) *TupleDesc {
	td, err := NewTupleDesc(types, names)
	if err != nil {
		panic(err)
	}
	return td
}

func (td *TupleDesc) NumFields() int { return len(td.fields) }

// Size is the slot width in bytes: the sum of the field widths
func (td *TupleDesc) Size() int { return td.size }

func (td *TupleDesc) FieldType(i int) (Type, error) {
	if i < 0 || i >= len(td.fields) {
		return 0, util.NotFound("field index", errors.Errorf("index %d out of range [0,%d)", i, len(td.fields)))
	}
	return td.fields[i].Type, nil
}

func (td *TupleDesc) FieldName(i int) (string, error) {
	if i < 0 || i >= len(td.fields) {
		return "", util.NotFound("field index", errors.Errorf("index %d out of range [0,%d)", i, len(td.fields)))
	}
	return td.fields[i].Name, nil
}

// IndexOf returns the index of the first field with the given name
func (td *TupleDesc) IndexOf(name string) (int, error) {
	for i, f := range td.fields {
		if f.Name != "" && f.Name == name {
			return i, nil
		}
	}
	return -1, util.NotFound("field "+name, nil)
}

// Equals compares field types position by position; names are ignored
func (td *TupleDesc) Equals(other *TupleDesc) bool {
	if td == other {
		return true
	}
	if other == nil || len(td.fields) != len(other.fields) {
		return false
	}
	for i := range td.fields {
		if td.fields[i].Type != other.fields[i].Type {
			return false
		}
	}
	return true
}

func (td *TupleDesc) String() string {
	parts := make([]string, len(td.fields))
	for i, f := range td.fields {
		parts[i] = f.Name + "(" + f.Type.String() + ")"
	}
	return strings.Join(parts, ", ")
}
