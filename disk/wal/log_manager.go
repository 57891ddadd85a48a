package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	bufSize = 1024 * 64

	// frameHeaderSize is payload length, crc32 of payload and a flags byte.
	frameHeaderSize = 4 + 4 + 1

	flagSnappy byte = 1
)

var ErrLogClosed = errors.New("log is closed")

// LogManager is the write ahead log as the buffer pool sees it. AppendLog assigns the record an lsn and buffers
// it, Flush returns only when everything appended so far is durable.
type LogManager interface {
	AppendLog(lr *LogRecord) (LSN, error)
	Flush() error
	GetFlushedLSN() LSN
	Close() error
}

var _ LogManager = &LogFile{}

// LogFile is an append only log kept in a single file. Records are framed so that a torn tail left by a crash
// is detected and cut off when the file is opened again.
type LogFile struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	serde  LogRecordSerDe
	flags  byte
	fsync  bool
	closed bool

	currLsn    LSN
	flushedLsn atomic.Uint64

	log *zap.Logger
}

// OpenLogFile opens or creates the log at path. Lsn numbering continues after the last intact record.
func OpenLogFile(path string, compress, fsync bool, log *zap.Logger) (*LogFile, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}

	lastLsn, validSize, err := scanTail(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if stats.Size() != validSize {
		log.Warn("truncating torn log tail", zap.String("path", path),
			zap.Int64("size", stats.Size()), zap.Int64("valid", validSize))
		if err := f.Truncate(validSize); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("truncate log %s: %w", path, err)
		}
	}
	if _, err := f.Seek(validSize, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}

	l := &LogFile{
		f:       f,
		w:       bufio.NewWriterSize(f, bufSize),
		serde:   NewBinarySerDe(compress),
		flags:   0,
		fsync:   fsync,
		currLsn: lastLsn,
		log:     log,
	}
	if compress {
		l.flags |= flagSnappy
	}
	l.flushedLsn.Store(uint64(lastLsn))

	log.Info("log opened", zap.String("path", path), zap.Uint64("last_lsn", uint64(lastLsn)))
	return l, nil
}

// AppendLog appends a log record to the buffer, sets its lsn and returns it. This method does not directly flush
// buffer's content to disk.
func (l *LogFile) AppendLog(lr *LogRecord) (LSN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ZeroLSN, ErrLogClosed
	}

	l.currLsn++
	lr.Lsn = l.currLsn

	payload := l.serde.Serialize(lr)
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	header[8] = l.flags

	if _, err := l.w.Write(header[:]); err != nil {
		return ZeroLSN, fmt.Errorf("append log record: %w", err)
	}
	if _, err := l.w.Write(payload); err != nil {
		return ZeroLSN, fmt.Errorf("append log record: %w", err)
	}

	return lr.Lsn, nil
}

// Flush writes out the buffer and, unless fsync is disabled, waits until the file is durable.
func (l *LogFile) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	return l.flush()
}

func (l *LogFile) flush() error {
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush log: %w", err)
	}
	if l.fsync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("sync log: %w", err)
		}
	}

	l.flushedLsn.Store(uint64(l.currLsn))
	return nil
}

// GetFlushedLSN returns latest lsn persisted to disk.
func (l *LogFile) GetFlushedLSN() LSN {
	return LSN(l.flushedLsn.Load())
}

func (l *LogFile) Path() string {
	return l.f.Name()
}

func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	flushErr := l.flush()
	return multierr.Combine(flushErr, l.f.Close())
}

// scanTail walks every intact frame and returns the last lsn together with the offset right after the last
// intact frame.
func scanTail(f *os.File) (LSN, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ZeroLSN, 0, err
	}

	it := newLogIter(f)
	last := ZeroLSN
	for {
		lr, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrShortRead) || errors.Is(err, ErrCorruptLog) {
				return last, it.offset, nil
			}
			return ZeroLSN, 0, err
		}
		last = lr.Lsn
	}
}
