package db_types

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindInvalid uint8 = iota
	KindInteger
	KindString
)

// DefaultStringLen is the number of content bytes a string column reserves in a tuple.
const DefaultStringLen = 128

var (
	ErrUnknownType  = errors.New("unknown type")
	ErrShortBuffer  = errors.New("buffer too short for value")
	ErrTypeMismatch = errors.New("value does not match column type")
)

type TypeID struct {
	KindID uint8
	Size   uint32 // for fixed len array like types such as char[128]
}

var (
	IntTypeID    = TypeID{KindID: KindInteger}
	StringTypeID = TypeID{KindID: KindString, Size: DefaultStringLen}
)

func (t TypeID) String() string {
	switch t.KindID {
	case KindInteger:
		return "int"
	case KindString:
		return fmt.Sprintf("string(%d)", t.Size)
	default:
		return fmt.Sprintf("invalid(%d)", t.KindID)
	}
}

// DbType is the interface that should be implemented to make a type storable in a tuple. Every type has a fixed
// serialized length so that tuples of a schema are all the same size.
type DbType interface {
	Less(this *Value, than *Value) bool
	Serialize(dest []byte, src *Value) error
	Deserialize(src []byte) (*Value, error)

	// Length should return the size of the bytes when value is serialized
	Length() int

	TypeId() TypeID
}

func GetInstance(typeID TypeID) DbType {
	switch typeID.KindID {
	case KindInteger:
		return &IntegerType{}
	case KindString:
		return &StringType{Size: typeID.Size}
	default:
		return nil
	}
}

// ParseType maps the type names used in schema files to a TypeID.
func ParseType(name string) (TypeID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int":
		return IntTypeID, nil
	case "string":
		return StringTypeID, nil
	default:
		return TypeID{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}
