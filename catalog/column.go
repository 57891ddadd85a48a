package catalog

import "heapdb/catalog/db_types"

type Column struct {
	Name string
	Type db_types.TypeID

	// Offset is the columns offset in the serialized tuple
	Offset int
}

func (c *Column) Size() int {
	return db_types.GetInstance(c.Type).Length()
}
