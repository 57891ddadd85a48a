package catalog

import (
	"errors"
	"fmt"
	"heapdb/catalog/db_types"
	"strings"
)

var ErrColumnNotFound = errors.New("column does not exist")

// Schema is an ordered list of typed columns. Names are optional and only used for lookups and printing.
type Schema interface {
	GetColumns() []Column
	GetColumn(idx int) *Column
	GetColIdx(name string) (int, error)
	NumColumns() int

	// Size is the number of bytes a tuple of this schema occupies on a page.
	Size() int

	// Equal reports whether both schemas have the same column types in the same order. Names are ignored.
	Equal(other Schema) bool
}

var _ Schema = &SchemaImpl{}

type SchemaImpl struct {
	columns []Column
	size    int
}

func (s *SchemaImpl) GetColIdx(name string) (int, error) {
	for i, column := range s.columns {
		if column.Name == name {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

func (s *SchemaImpl) GetColumns() []Column {
	return s.columns
}

func (s *SchemaImpl) GetColumn(idx int) *Column {
	return &s.columns[idx]
}

func (s *SchemaImpl) NumColumns() int {
	return len(s.columns)
}

func (s *SchemaImpl) Size() int {
	return s.size
}

func (s *SchemaImpl) Equal(other Schema) bool {
	if other == nil || other.NumColumns() != len(s.columns) {
		return false
	}
	for i := range s.columns {
		if s.columns[i].Type != other.GetColumn(i).Type {
			return false
		}
	}
	return true
}

func (s *SchemaImpl) String() string {
	parts := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		parts = append(parts, fmt.Sprintf("%s(%v)", c.Name, c.Type))
	}
	return strings.Join(parts, ", ")
}

func NewSchema(cols []Column) Schema {
	// set offsets of each column
	offset := 0
	copied := make([]Column, len(cols))
	copy(copied, cols)
	for i := 0; i < len(copied); i++ {
		copied[i].Offset = offset
		offset += copied[i].Size()
	}

	return &SchemaImpl{
		columns: copied,
		size:    offset,
	}
}

// NewSchemaFromTypes builds a schema of unnamed columns.
func NewSchemaFromTypes(types ...db_types.TypeID) Schema {
	cols := make([]Column, len(types))
	for i, t := range types {
		cols[i] = Column{Type: t}
	}
	return NewSchema(cols)
}

// Merge returns a schema holding a's columns followed by b's.
func Merge(a, b Schema) Schema {
	cols := make([]Column, 0, a.NumColumns()+b.NumColumns())
	cols = append(cols, a.GetColumns()...)
	cols = append(cols, b.GetColumns()...)
	return NewSchema(cols)
}
