package db_types

import (
	"fmt"
	"strconv"
	"strings"
)

type Value struct {
	typeID TypeID
	value  interface{}
}

func (v *Value) LessThanValue(than *Value) bool {
	return GetInstance(v.GetTypeId()).Less(v, than)
}

func (v *Value) Equal(other *Value) bool {
	if other == nil {
		return false
	}
	return v.typeID.KindID == other.typeID.KindID && v.value == other.value
}

func (v *Value) GetTypeId() TypeID {
	return v.typeID
}

func (v *Value) Serialize(dest []byte) error {
	return GetInstance(v.GetTypeId()).Serialize(dest, v)
}

func (v *Value) Size() int {
	return GetInstance(v.GetTypeId()).Length()
}

func Deserialize(typeID TypeID, src []byte) (*Value, error) {
	t := GetInstance(typeID)
	if t == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, typeID)
	}
	return t.Deserialize(src)
}

func (v *Value) GetAsInterface() interface{} {
	return v.value
}

func (v *Value) String() string {
	return fmt.Sprint(v.value)
}

// NewValue wraps an int32, int or string. Strings get the default column width.
func NewValue(src interface{}) *Value {
	switch s := src.(type) {
	case int32:
		return &Value{typeID: IntTypeID, value: s}
	case int:
		return &Value{typeID: IntTypeID, value: int32(s)}
	case string:
		return NewStringValue(s, DefaultStringLen)
	default:
		panic(fmt.Sprintf("not supported type %T", src))
	}
}

func NewStringValue(s string, size uint32) *Value {
	return &Value{
		typeID: TypeID{KindID: KindString, Size: size},
		value:  s,
	}
}

// ParseValue reads a value of type typeID from its textual form.
func ParseValue(typeID TypeID, s string) (*Value, error) {
	switch typeID.KindID {
	case KindInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", ErrTypeMismatch, s)
		}
		return NewValue(int32(n)), nil
	case KindString:
		return NewStringValue(s, typeID.Size), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, typeID)
	}
}
