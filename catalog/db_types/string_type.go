package db_types

import (
	"encoding/binary"
)

// StringType is stored as a 4 byte big endian length followed by Size content bytes, zero padded. Longer strings
// are truncated to Size bytes.
type StringType struct {
	Size uint32
}

func (c *StringType) Less(this *Value, than *Value) bool {
	return this.GetAsInterface().(string) < than.GetAsInterface().(string)
}

func (c *StringType) Serialize(dest []byte, src *Value) error {
	str, ok := src.GetAsInterface().(string)
	if !ok {
		return ErrTypeMismatch
	}
	if len(dest) < c.Length() {
		return ErrShortBuffer
	}

	if len(str) > int(c.Size) {
		str = str[:c.Size]
	}

	binary.BigEndian.PutUint32(dest, uint32(len(str)))
	n := copy(dest[4:], str)
	clear(dest[4+n : c.Length()])
	return nil
}

func (c *StringType) Deserialize(src []byte) (*Value, error) {
	if len(src) < c.Length() {
		return nil, ErrShortBuffer
	}

	l := binary.BigEndian.Uint32(src)
	if l > c.Size {
		l = c.Size
	}
	return NewStringValue(string(src[4:4+l]), c.Size), nil
}

func (c *StringType) Length() int {
	return 4 + int(c.Size)
}

func (c *StringType) TypeId() TypeID {
	return TypeID{
		KindID: KindString,
		Size:   c.Size,
	}
}
