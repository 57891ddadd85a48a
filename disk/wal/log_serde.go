package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"heapdb/disk/pages"
	"heapdb/transaction"

	"github.com/golang/snappy"
)

var ErrCorruptLog = errors.New("corrupt log record")

type LogRecordSerDe interface {
	Serialize(lr *LogRecord) []byte
	Deserialize(d []byte, lr *LogRecord) error
}

var _ LogRecordSerDe = &BinarySerDe{}

// BinarySerDe writes every field as an uvarint, byte slices as length followed by content. When compress is set
// the whole record is snappy encoded, which pays off for full page images that are mostly zeroes.
type BinarySerDe struct {
	compress bool
}

func NewBinarySerDe(compress bool) *BinarySerDe {
	return &BinarySerDe{compress: compress}
}

func (b *BinarySerDe) Serialize(lr *LogRecord) []byte {
	res := make([]byte, 0, 32+len(lr.Before)+len(lr.After))
	res = append(res, byte(lr.T))
	res = binary.AppendUvarint(res, uint64(lr.TxnID))
	res = binary.AppendUvarint(res, uint64(lr.Lsn))

	res = binary.AppendUvarint(res, uint64(uint32(lr.PageID.TableID)))
	res = binary.AppendUvarint(res, uint64(lr.PageID.PageNo))

	res = binary.AppendUvarint(res, uint64(len(lr.Before)))
	res = append(res, lr.Before...)

	res = binary.AppendUvarint(res, uint64(len(lr.After)))
	res = append(res, lr.After...)

	if b.compress {
		return snappy.Encode(nil, res)
	}
	return res
}

func (b *BinarySerDe) Deserialize(d []byte, lr *LogRecord) error {
	data := d
	if b.compress {
		decoded, err := snappy.Decode(nil, d)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		data = decoded
	}

	if len(data) == 0 {
		return ErrCorruptLog
	}

	offset := 1
	var err error
	uvarint := func() uint64 {
		if err != nil {
			return 0
		}
		res, n := binary.Uvarint(data[offset:])
		if n <= 0 {
			err = ErrCorruptLog
			return 0
		}
		offset += n
		return res
	}
	bytesField := func() []byte {
		l := uvarint()
		if err != nil || l == 0 {
			return nil
		}
		if uint64(len(data)-offset) < l {
			err = ErrCorruptLog
			return nil
		}
		res := make([]byte, l)
		copy(res, data[offset:offset+int(l)])
		offset += int(l)
		return res
	}

	lr.T = LogRecordType(data[0])
	lr.TxnID = transaction.TxnID(uvarint())
	lr.Lsn = LSN(uvarint())
	tableID := int32(uint32(uvarint()))
	pageNo := int(uvarint())
	lr.PageID = pages.NewPageID(tableID, pageNo)
	lr.Before = bytesField()
	lr.After = bytesField()
	if err != nil {
		return err
	}

	if lr.T == TypeInvalid || lr.T > TypeCheckpoint {
		return fmt.Errorf("%w: unknown type %d", ErrCorruptLog, uint8(lr.T))
	}
	return nil
}
