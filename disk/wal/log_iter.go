package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

var ErrShortRead = errors.New("short read")

const maxRecordSize = 64 << 20

// LogIter reads a log file front to back. Next returns io.EOF after the last record.
type LogIter struct {
	r      *bufio.Reader
	closer io.Closer

	// offset is the position right after the last frame that was read successfully.
	offset int64
}

func newLogIter(r io.Reader) *LogIter {
	return &LogIter{r: bufio.NewReaderSize(r, bufSize)}
}

// OpenLogIter opens the log at path for reading. It can be used while the log is being appended to, it will only
// see what was flushed.
func OpenLogIter(path string) (*LogIter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	it := newLogIter(f)
	it.closer = f
	return it, nil
}

func (it *LogIter) Next() (*LogRecord, error) {
	var header [frameHeaderSize]byte
	n, err := io.ReadFull(it.r, header[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("frame header, got %d bytes: %w", n, ErrShortRead)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[0:])
	sum := binary.BigEndian.Uint32(header[4:])
	flags := header[8]
	if size > maxRecordSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrCorruptLog, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(it.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("frame payload: %w", ErrShortRead)
		}
		return nil, err
	}

	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptLog)
	}

	lr := &LogRecord{}
	if err := NewBinarySerDe(flags&flagSnappy != 0).Deserialize(payload, lr); err != nil {
		return nil, err
	}

	it.offset += int64(frameHeaderSize) + int64(size)
	return lr, nil
}

func (it *LogIter) Close() error {
	if it.closer == nil {
		return nil
	}
	return it.closer.Close()
}

// ReadAll returns every intact record of the log at path.
func ReadAll(path string) ([]*LogRecord, error) {
	it, err := OpenLogIter(path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	res := make([]*LogRecord, 0)
	for {
		lr, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}
		res = append(res, lr)
	}
}

// NextToType advances it until a record of type t is read and returns it.
func NextToType(it *LogIter, t LogRecordType) (*LogRecord, error) {
	for {
		lr, err := it.Next()
		if err != nil {
			return nil, err
		}

		if lr.T == t {
			return lr, nil
		}
	}
}
