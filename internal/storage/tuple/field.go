package tuple

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// StringLen is the fixed number of payload bytes reserved for a string field
const StringLen = 128

// Type is the on-disk type of a field
type Type int

const (
	IntType Type = iota
	StringType
)

// Len is the number of bytes one value of this type occupies in a slot
func (t Type) Len() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return StringLen + 4
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "INT"
	case StringType:
		return "STRING"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Field is one typed value of a tuple
type Field interface {
	Type() Type
	Equals(other Field) bool
	String() string
	// encode writes exactly Type().Len() bytes into buf
	encode(buf []byte)
}

type IntField struct {
	Value int32
}

func NewIntField(v int32) *IntField { return &IntField{Value: v} }

func (f *IntField) Type() Type { return IntType }

func (f *IntField) Equals(other Field) bool {
	o, ok := other.(*IntField)
	return ok && o.Value == f.Value
}

func (f *IntField) String() string { return strconv.FormatInt(int64(f.Value), 10) }

func (f *IntField) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[:4], uint32(f.Value))
}

type StringField struct {
	Value string
}

// NewStringField truncates values longer than StringLen bytes
func NewStringField(v string) *StringField {
	if len(v) > StringLen {
		v = v[:StringLen]
	}
	return &StringField{Value: v}
}

func (f *StringField) Type() Type { return StringType }

func (f *StringField) Equals(other Field) bool {
	o, ok := other.(*StringField)
	return ok && o.Value == f.Value
}

func (f *StringField) String() string { return f.Value }

func (f *StringField) encode(buf []byte) {
	n := copy(buf[4:4+StringLen], f.Value)
	binary.BigEndian.PutUint32(buf[:4], uint32(n))
	clear(buf[4+n : 4+StringLen])
}

// decodeField reads one value of type t from the front of buf
func decodeField(t Type, buf []byte) (Field, error) {
	if len(buf) < t.Len() {
		return nil, errors.Wrapf(util.ErrCorruptPage, "short buffer for %s field: %d bytes", t, len(buf))
	}
	switch t {
	case IntType:
		return &IntField{Value: int32(binary.BigEndian.Uint32(buf[:4]))}, nil
	case StringType:
		n := binary.BigEndian.Uint32(buf[:4])
		if n > StringLen {
			return nil, errors.Wrapf(util.ErrCorruptPage, "string length %d exceeds %d", n, StringLen)
		}
		return &StringField{Value: string(buf[4 : 4+n])}, nil
	default:
		return nil, errors.Errorf("unknown field type %d", int(t))
	}
}
