package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrPageOutOfRange = errors.New("page offset is beyond end of file")
	ErrPartialPage    = errors.New("partial page encountered")
)

// IDiskManager is a store of fixed size pages kept in a single file. Page n lives at byte offset n*PageSize and
// the file carries no header or footer.
type IDiskManager interface {
	ReadPage(pageNo int) ([]byte, error)
	WritePage(data []byte, pageNo int) error
	NumPages() (int, error)
	PageSize() int
	Path() string
	Sync() error
	Close() error
}

var _ IDiskManager = &Manager{}

type Manager struct {
	file     *os.File
	filename string
	pageSize int
	mu       sync.RWMutex

	// fsync makes every WritePage durable before it returns.
	fsync bool
	log   *zap.Logger
}

// NewDiskManager opens or creates file. The returned bool reports whether the file was empty, i.e. a new table.
func NewDiskManager(file string, pageSize int, fsync bool, log *zap.Logger) (*Manager, bool, error) {
	if pageSize <= 0 {
		return nil, false, fmt.Errorf("invalid page size %d", pageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, false, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open %s: %w", file, err)
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, false, err
	}

	if stats.Size()%int64(pageSize) != 0 {
		log.Warn("file size is not a multiple of page size, trailing bytes are ignored",
			zap.String("file", file), zap.Int64("size", stats.Size()), zap.Int("page_size", pageSize))
	}

	log.Debug("disk manager opened", zap.String("file", file), zap.Int64("size", stats.Size()))

	return &Manager{
		file:     f,
		filename: file,
		pageSize: pageSize,
		fsync:    fsync,
		log:      log,
	}, stats.Size() == 0, nil
}

// ReadPage reads exactly one page. It returns ErrPageOutOfRange when the page starts at or after end of file.
func (d *Manager) ReadPage(pageNo int) ([]byte, error) {
	if pageNo < 0 {
		return nil, fmt.Errorf("page %d: %w", pageNo, ErrPageOutOfRange)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	size, err := d.size()
	if err != nil {
		return nil, err
	}

	offset := int64(pageNo) * int64(d.pageSize)
	if offset >= size {
		return nil, fmt.Errorf("page %d of %s: %w", pageNo, d.filename, ErrPageOutOfRange)
	}

	data := make([]byte, d.pageSize)
	n, err := d.file.ReadAt(data, offset)
	if n != d.pageSize {
		if err == nil {
			err = ErrPartialPage
		}
		return nil, fmt.Errorf("read page %d of %s: %w", pageNo, d.filename, multierr.Combine(ErrPartialPage, err))
	}

	return data, nil
}

// WritePage overwrites the page's byte range, growing the file when pageNo is past its end.
func (d *Manager) WritePage(data []byte, pageNo int) error {
	if len(data) != d.pageSize {
		return fmt.Errorf("page %d: got %d bytes, page size is %d", pageNo, len(data), d.pageSize)
	}
	if pageNo < 0 {
		return fmt.Errorf("page %d: %w", pageNo, ErrPageOutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.file.WriteAt(data, int64(pageNo)*int64(d.pageSize))
	if err != nil {
		return fmt.Errorf("write page %d of %s: %w", pageNo, d.filename, err)
	}
	if n != d.pageSize {
		return fmt.Errorf("write page %d of %s: short write of %d bytes", pageNo, d.filename, n)
	}

	if d.fsync {
		if err := d.file.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", d.filename, err)
		}
	}

	return nil
}

// NumPages is floor(file size / page size).
func (d *Manager) NumPages() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	size, err := d.size()
	if err != nil {
		return 0, err
	}
	return int(size / int64(d.pageSize)), nil
}

func (d *Manager) PageSize() int {
	return d.pageSize
}

func (d *Manager) Path() string {
	return d.filename
}

func (d *Manager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Sync()
}

func (d *Manager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.file.Sync(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}

func (d *Manager) size() (int64, error) {
	stats, err := d.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", d.filename, err)
	}
	return stats.Size(), nil
}
