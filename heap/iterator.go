package heap

import (
	"errors"
	"heapdb/catalog"
	"heapdb/disk/pages"
	"heapdb/transaction"
)

var (
	ErrIteratorClosed = errors.New("iterator is not open")
	ErrNoSuchElement  = errors.New("no more tuples")
)

// Iterator scans a heap file page by page through the buffer pool. Only one page worth of tuples is held at a
// time. The pages to visit are fixed when the iterator is opened, pages appended later are not seen.
type Iterator struct {
	file *HeapFile
	txn  transaction.Transaction
	perm transaction.Permissions

	open     bool
	numPages int
	nextPage int

	curr pages.PageID
	buf  []pages.SlotTuple
	pos  int
}

func (it *Iterator) Open() error {
	n, err := it.file.NumPages()
	if err != nil {
		return err
	}

	it.numPages = n
	it.nextPage = 0
	it.buf = nil
	it.pos = 0
	it.open = true
	return nil
}

func (it *Iterator) HasNext() (bool, error) {
	if !it.open {
		return false, ErrIteratorClosed
	}

	for it.pos >= len(it.buf) {
		if it.nextPage >= it.numPages {
			return false, nil
		}

		pid := pages.NewPageID(it.file.GetID(), it.nextPage)
		it.nextPage++

		p, err := it.file.pool.GetPage(it.txn, pid, it.perm)
		if err != nil {
			if errors.Is(err, pages.ErrNoPage) {
				continue
			}
			return false, err
		}

		it.curr = pid
		it.buf = p.Tuples()
		it.pos = 0
	}

	return true, nil
}

func (it *Iterator) Next() (*catalog.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSuchElement
	}

	st := it.buf[it.pos]
	it.pos++

	t, err := catalog.DeserializeTuple(it.file.GetSchema(), st.Data)
	if err != nil {
		return nil, err
	}
	t.Rid = &catalog.Rid{PageID: it.curr, Slot: st.Slot}
	return t, nil
}

func (it *Iterator) Rewind() error {
	it.Close()
	return it.Open()
}

func (it *Iterator) Close() {
	it.open = false
	it.buf = nil
	it.pos = 0
}
