package catalog

import (
	"errors"
	"fmt"
	"heapdb/catalog/db_types"
	"heapdb/disk/pages"
	"strings"
)

var (
	ErrSchemaMismatch = errors.New("tuple does not match schema")
	ErrNoRecordID     = errors.New("tuple has no record id")
)

// Rid is the physical address of a tuple: the page it lives on and the slot inside that page.
type Rid struct {
	PageID pages.PageID
	Slot   int
}

func (r Rid) String() string {
	return fmt.Sprintf("%v/%d", r.PageID, r.Slot)
}

type Tuple struct {
	values []*db_types.Value
	schema Schema

	// Rid is only set for tuples that were read from or inserted into a heap file.
	Rid *Rid
}

func NewTupleWithSchema(values []*db_types.Value, schema Schema) (*Tuple, error) {
	if len(values) != schema.NumColumns() {
		return nil, fmt.Errorf("%w: schema has %d columns, got %d values", ErrSchemaMismatch, schema.NumColumns(), len(values))
	}
	for i, val := range values {
		if val == nil || val.GetTypeId() != schema.GetColumn(i).Type {
			return nil, fmt.Errorf("%w: column %d has type %v", ErrSchemaMismatch, i, schema.GetColumn(i).Type)
		}
	}

	return &Tuple{
		values: values,
		schema: schema,
	}, nil
}

func (t *Tuple) GetValue(columnIdx int) *db_types.Value {
	return t.values[columnIdx]
}

func (t *Tuple) GetValues() []*db_types.Value {
	return t.values
}

func (t *Tuple) GetSchema() Schema {
	return t.schema
}

// Serialize writes every column at its schema offset. The result is always schema.Size() bytes long.
func (t *Tuple) Serialize() ([]byte, error) {
	data := make([]byte, t.schema.Size())
	for i, column := range t.schema.GetColumns() {
		if err := t.values[i].Serialize(data[column.Offset:]); err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
	}

	return data, nil
}

func DeserializeTuple(schema Schema, data []byte) (*Tuple, error) {
	if len(data) != schema.Size() {
		return nil, fmt.Errorf("%w: got %d bytes, tuple size is %d", ErrSchemaMismatch, len(data), schema.Size())
	}

	values := make([]*db_types.Value, schema.NumColumns())
	for i, column := range schema.GetColumns() {
		v, err := db_types.Deserialize(column.Type, data[column.Offset:])
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		values[i] = v
	}

	return &Tuple{values: values, schema: schema}, nil
}

// String renders the values tab separated, the way scans print rows.
func (t *Tuple) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\t")
}
