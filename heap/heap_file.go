package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"heapdb/catalog"
	"heapdb/disk"
	"heapdb/disk/pages"
	"heapdb/transaction"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

var ErrWrongTable = errors.New("page or tuple belongs to another table")

// Pool is the part of the buffer pool a heap file needs. Every page a tuple operation touches is fetched through
// it so that the right locks are held.
type Pool interface {
	GetPage(txn transaction.Transaction, pid pages.PageID, perm transaction.Permissions) (*pages.HeapPage, error)
	ReleasePage(txn transaction.Transaction, pid pages.PageID)
	HoldsLock(txn transaction.Transaction, pid pages.PageID) bool
}

// HeapFile stores the tuples of one table in a file of fixed size heap pages, in no particular order.
type HeapFile struct {
	dm     disk.IDiskManager
	schema catalog.Schema
	id     int32
	pool   Pool

	// appendMu serializes file growth so that concurrent inserts never claim the same new page number.
	appendMu sync.Mutex

	log *zap.Logger
}

// FileID derives a table id from the canonical path of its file, so reopening a file yields the same id.
func FileID(path string) int32 {
	canonical, err := filepath.Abs(path)
	if err != nil {
		canonical = path
	}
	sum := blake3.Sum256([]byte(filepath.Clean(canonical)))
	return int32(binary.BigEndian.Uint32(sum[:4]))
}

func NewHeapFile(path string, schema catalog.Schema, pageSize int, pool Pool, fsync bool, log *zap.Logger) (*HeapFile, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if pages.NumSlots(pageSize, schema.Size()) == 0 {
		return nil, fmt.Errorf("tuples of %d bytes do not fit a %d byte page: %w", schema.Size(), pageSize, pages.ErrTupleSize)
	}

	dm, _, err := disk.NewDiskManager(path, pageSize, fsync, log)
	if err != nil {
		return nil, err
	}

	return &HeapFile{
		dm:     dm,
		schema: schema,
		id:     FileID(path),
		pool:   pool,
		log:    log,
	}, nil
}

func (f *HeapFile) GetID() int32 {
	return f.id
}

func (f *HeapFile) GetSchema() catalog.Schema {
	return f.schema
}

func (f *HeapFile) PageSize() int {
	return f.dm.PageSize()
}

func (f *HeapFile) Path() string {
	return f.dm.Path()
}

func (f *HeapFile) NumPages() (int, error) {
	return f.dm.NumPages()
}

// ReadPage reads a page straight from the file. Pages past the end of file are reported as pages.ErrNoPage.
func (f *HeapFile) ReadPage(pid pages.PageID) (*pages.HeapPage, error) {
	if pid.TableID != f.id {
		return nil, fmt.Errorf("%v in table %d: %w", pid, f.id, ErrWrongTable)
	}

	data, err := f.dm.ReadPage(pid.PageNo)
	if err != nil {
		if errors.Is(err, disk.ErrPageOutOfRange) {
			return nil, fmt.Errorf("%v: %w", pid, pages.ErrNoPage)
		}
		return nil, err
	}

	return pages.NewHeapPage(pid, data, f.schema.Size())
}

// WritePage writes the page at its offset, extending the file if the page is past its end.
func (f *HeapFile) WritePage(p *pages.HeapPage) error {
	if p.GetPageId().TableID != f.id {
		return fmt.Errorf("%v in table %d: %w", p.GetPageId(), f.id, ErrWrongTable)
	}
	return f.dm.WritePage(p.GetData(), p.GetPageId().PageNo)
}

// InsertTuple puts t into the first page with a free slot and sets its record id. Pages are checked with shared
// locks, a full page's lock is given back unless the transaction held it before. When every page is full an empty
// page is appended to the file and the tuple goes there, or to a further page if another transaction filled it
// first. The tuple itself reaches the file only when the pool
// writes the returned page.
func (f *HeapFile) InsertTuple(txn transaction.Transaction, t *catalog.Tuple) ([]*pages.HeapPage, error) {
	if !f.schema.Equal(t.GetSchema()) {
		return nil, fmt.Errorf("insert into table %d: %w", f.id, catalog.ErrSchemaMismatch)
	}

	data, err := t.Serialize()
	if err != nil {
		return nil, err
	}

	n, err := f.NumPages()
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		pid := pages.NewPageID(f.id, i)
		held := f.pool.HoldsLock(txn, pid)

		p, err := f.pool.GetPage(txn, pid, transaction.ReadOnly)
		if err != nil {
			return nil, err
		}

		if p.NumEmptySlots() == 0 {
			if !held {
				f.pool.ReleasePage(txn, pid)
			}
			continue
		}

		p, err = f.pool.GetPage(txn, pid, transaction.ReadWrite)
		if err != nil {
			return nil, err
		}

		slot, err := p.InsertTuple(txn.GetID(), data)
		if errors.Is(err, pages.ErrPageFull) {
			continue
		}
		if err != nil {
			return nil, err
		}

		t.Rid = &catalog.Rid{PageID: pid, Slot: slot}
		return []*pages.HeapPage{p}, nil
	}

	for {
		pid, err := f.appendEmptyPage()
		if err != nil {
			return nil, err
		}

		p, err := f.pool.GetPage(txn, pid, transaction.ReadWrite)
		if err != nil {
			return nil, err
		}

		slot, err := p.InsertTuple(txn.GetID(), data)
		if errors.Is(err, pages.ErrPageFull) {
			// other inserters see the new page as soon as it is appended and may fill it first
			f.pool.ReleasePage(txn, pid)
			continue
		}
		if err != nil {
			return nil, err
		}

		t.Rid = &catalog.Rid{PageID: pid, Slot: slot}
		return []*pages.HeapPage{p}, nil
	}
}

func (f *HeapFile) appendEmptyPage() (pages.PageID, error) {
	f.appendMu.Lock()
	defer f.appendMu.Unlock()

	n, err := f.NumPages()
	if err != nil {
		return pages.PageID{}, err
	}

	if err := f.dm.WritePage(pages.NewEmptyPageData(f.dm.PageSize()), n); err != nil {
		return pages.PageID{}, fmt.Errorf("append page %d to table %d: %w", n, f.id, err)
	}

	f.log.Debug("heap file grown", zap.Int32("table", f.id), zap.Int("pages", n+1))
	return pages.NewPageID(f.id, n), nil
}

// DeleteTuple frees the slot t's record id points to.
func (f *HeapFile) DeleteTuple(txn transaction.Transaction, t *catalog.Tuple) ([]*pages.HeapPage, error) {
	if t.Rid == nil {
		return nil, fmt.Errorf("delete from table %d: %w", f.id, catalog.ErrNoRecordID)
	}
	if t.Rid.PageID.TableID != f.id {
		return nil, fmt.Errorf("delete %v from table %d: %w", t.Rid, f.id, ErrWrongTable)
	}

	p, err := f.pool.GetPage(txn, t.Rid.PageID, transaction.ReadWrite)
	if err != nil {
		return nil, err
	}

	if err := p.DeleteTuple(txn.GetID(), t.Rid.Slot); err != nil {
		return nil, fmt.Errorf("delete %v: %w", t.Rid, err)
	}

	return []*pages.HeapPage{p}, nil
}

// Iterator returns an unopened iterator over every tuple in the file.
func (f *HeapFile) Iterator(txn transaction.Transaction, perm transaction.Permissions) *Iterator {
	return &Iterator{
		file: f,
		txn:  txn,
		perm: perm,
	}
}

func (f *HeapFile) Close() error {
	return f.dm.Close()
}
