package page

import (
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// TwoIntDesc is the (INT, INT) schema used throughout tests
var TwoIntDesc = tuple.MustTupleDesc([]tuple.Type{tuple.IntType, tuple.IntType}, []string{"a", "b"})

// IntTuple builds an (INT, INT...) tuple for desc from raw values
func IntTuple(desc *tuple.TupleDesc, values ...int32) *tuple.Tuple {
	fields := make([]tuple.Field, len(values))
	for i, v := range values {
		fields[i] = tuple.NewIntField(v)
	}
	t, err := tuple.NewTupleFrom(desc, fields...)
	if err != nil {
		panic(err)
	}
	return t
}

// CreateTestPage builds a page of TwoIntDesc tuples (v, v) for each value
func CreateTestPage(pageID util.PageID, values ...int32) *HeapPage {
	p := NewEmptyPage(pageID, TwoIntDesc)
	for _, v := range values {
		if err := p.InsertTuple(IntTuple(TwoIntDesc, v, v)); err != nil {
			break // Truncate to fit
		}
	}
	return p
}
