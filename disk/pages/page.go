package pages

import (
	"heapdb/transaction"
	"sync"
)

// IPage is a wrapper for actual physical pages in the file system. It can provide the actual content of the
// physical page as a byte array. It also keeps the bookkeeping the buffer pool needs to implement no-steal:
// the transaction that dirtied the page and the page content as of the last load or flush.
type IPage interface {
	GetPageId() PageID
	GetData() []byte
	IsDirty() bool
	Dirtier() (transaction.TxnID, bool)
	MarkDirty(txnID transaction.TxnID)
	MarkClean()
	BeforeImage() []byte
	SetBeforeImage()
	WLatch()
	WUnlatch()
	RLatch()
	RUnLatch()
}

var _ IPage = &RawPage{}

type RawPage struct {
	pageId  PageID
	dirtier transaction.TxnID
	rwLatch sync.RWMutex
	data    []byte
	before  []byte
}

func (p *RawPage) GetPageId() PageID {
	return p.pageId
}

// GetData returns a copy of the page content that is safe to hand to disk or log writers.
func (p *RawPage) GetData() []byte {
	p.rwLatch.RLock()
	defer p.rwLatch.RUnlock()

	res := make([]byte, len(p.data))
	copy(res, p.data)
	return res
}

func (p *RawPage) GetPageSize() int {
	return len(p.data)
}

func (p *RawPage) IsDirty() bool {
	p.rwLatch.RLock()
	defer p.rwLatch.RUnlock()
	return p.dirtier != transaction.NoTxn
}

// Dirtier returns the transaction that last modified the page, if the page is dirty.
func (p *RawPage) Dirtier() (transaction.TxnID, bool) {
	p.rwLatch.RLock()
	defer p.rwLatch.RUnlock()
	return p.dirtier, p.dirtier != transaction.NoTxn
}

func (p *RawPage) MarkDirty(txnID transaction.TxnID) {
	p.rwLatch.Lock()
	p.dirtier = txnID
	p.rwLatch.Unlock()
}

func (p *RawPage) MarkClean() {
	p.rwLatch.Lock()
	p.dirtier = transaction.NoTxn
	p.rwLatch.Unlock()
}

func (p *RawPage) BeforeImage() []byte {
	p.rwLatch.RLock()
	defer p.rwLatch.RUnlock()

	res := make([]byte, len(p.before))
	copy(res, p.before)
	return res
}

// SetBeforeImage snapshots the current content as the last durable version of the page.
func (p *RawPage) SetBeforeImage() {
	p.rwLatch.Lock()
	defer p.rwLatch.Unlock()

	if len(p.before) != len(p.data) {
		p.before = make([]byte, len(p.data))
	}
	copy(p.before, p.data)
}

func (p *RawPage) WLatch() {
	p.rwLatch.Lock()
}

func (p *RawPage) WUnlatch() {
	p.rwLatch.Unlock()
}

func (p *RawPage) RLatch() {
	p.rwLatch.RLock()
}

func (p *RawPage) RUnLatch() {
	p.rwLatch.RUnlock()
}
