package db_types

import (
	"encoding/binary"
)

type IntegerType struct {
}

func (i *IntegerType) Less(this *Value, than *Value) bool {
	return this.GetAsInterface().(int32) < than.GetAsInterface().(int32)
}

func (i *IntegerType) Serialize(dest []byte, src *Value) error {
	v, ok := src.GetAsInterface().(int32)
	if !ok {
		return ErrTypeMismatch
	}
	if len(dest) < i.Length() {
		return ErrShortBuffer
	}

	binary.BigEndian.PutUint32(dest, uint32(v))
	return nil
}

func (i *IntegerType) Deserialize(src []byte) (*Value, error) {
	if len(src) < i.Length() {
		return nil, ErrShortBuffer
	}
	return NewValue(int32(binary.BigEndian.Uint32(src))), nil
}

func (i *IntegerType) Length() int {
	return 4
}

func (i *IntegerType) TypeId() TypeID {
	return IntTypeID
}
