package locker

import (
	"heapdb/disk/pages"
	"heapdb/transaction"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type LockMode int

const (
	SharedLock LockMode = iota
	ExclusiveLock
)

func (m LockMode) String() string {
	if m == ExclusiveLock {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// ModeFor maps the access a transaction asks for to the lock it needs.
func ModeFor(perm transaction.Permissions) LockMode {
	if perm == transaction.ReadWrite {
		return ExclusiveLock
	}
	return SharedLock
}

type lockState struct {
	owners map[transaction.TxnID]LockMode
}

// LockManager is the page lock table. It only decides whether a lock can be granted right now and never blocks,
// waiting and giving up are left to the caller. All state is guarded by a single mutex.
type LockManager struct {
	mu    sync.Mutex
	locks map[pages.PageID]*lockState

	// byTxn indexes the pages every transaction holds a lock on so that ReleaseAll does not scan the table.
	byTxn map[transaction.TxnID]map[pages.PageID]struct{}

	log *zap.Logger
}

func NewLockManager(log *zap.Logger) *LockManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &LockManager{
		locks: make(map[pages.PageID]*lockState),
		byTxn: make(map[transaction.TxnID]map[pages.PageID]struct{}),
		log:   log,
	}
}

// Acquire grants txID a lock of the given mode on pageID if that is compatible with the locks other transactions
// hold and reports whether it did. A shared lock held as the only owner is upgraded in place.
func (lm *LockManager) Acquire(txID transaction.TxnID, pageID pages.PageID, mode LockMode) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ls, ok := lm.locks[pageID]
	if !ok {
		ls = &lockState{owners: make(map[transaction.TxnID]LockMode)}
		lm.locks[pageID] = ls
	}

	if !canAcquire(ls, txID, mode) {
		if len(ls.owners) == 0 {
			delete(lm.locks, pageID)
		}
		return false
	}

	lm.grant(ls, pageID, txID, mode)
	return true
}

// Release drops txID's lock on pageID. Releasing a lock that is not held is a no-op.
func (lm *LockManager) Release(txID transaction.TxnID, pageID pages.PageID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.release(txID, pageID)
}

// ReleaseAll drops every lock txID holds and returns the pages they were on.
func (lm *LockManager) ReleaseAll(txID transaction.TxnID) []pages.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	held := lm.byTxn[txID]
	res := make([]pages.PageID, 0, len(held))
	for pageID := range held {
		res = append(res, pageID)
	}
	for _, pageID := range res {
		lm.release(txID, pageID)
	}

	if len(res) > 0 {
		lm.log.Debug("released locks", zap.Uint64("txn", uint64(txID)), zap.Int("count", len(res)))
	}
	return res
}

func (lm *LockManager) Holds(txID transaction.TxnID, pageID pages.PageID) bool {
	_, ok := lm.HeldMode(txID, pageID)
	return ok
}

func (lm *LockManager) HeldMode(txID transaction.TxnID, pageID pages.PageID) (LockMode, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ls, ok := lm.locks[pageID]
	if !ok {
		return SharedLock, false
	}
	mode, ok := ls.owners[txID]
	return mode, ok
}

// LockedPages returns the pages txID holds a lock on, in page order.
func (lm *LockManager) LockedPages(txID transaction.TxnID) []pages.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	res := make([]pages.PageID, 0, len(lm.byTxn[txID]))
	for pageID := range lm.byTxn[txID] {
		res = append(res, pageID)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].TableID != res[j].TableID {
			return res[i].TableID < res[j].TableID
		}
		return res[i].PageNo < res[j].PageNo
	})
	return res
}

// Owners returns a snapshot of the transactions holding a lock on pageID.
func (lm *LockManager) Owners(pageID pages.PageID) map[transaction.TxnID]LockMode {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	res := make(map[transaction.TxnID]LockMode)
	if ls, ok := lm.locks[pageID]; ok {
		for txID, mode := range ls.owners {
			res[txID] = mode
		}
	}
	return res
}

// canAcquire returns true if lock request can be granted.
func canAcquire(ls *lockState, txID transaction.TxnID, mode LockMode) bool {
	if lockMode, ok := ls.owners[txID]; ok {
		// wants the same lock it has
		if lockMode == mode {
			return true
		}

		// wants shared when has exclusive
		if mode == SharedLock {
			return true
		}

		// upgrade case, where txn already has read lock, wants the write lock and is the only owner.
		return len(ls.owners) == 1
	}

	if len(ls.owners) == 0 {
		return true
	}

	if mode == SharedLock {
		// if there is more than one owner, it must be shared
		if len(ls.owners) > 1 {
			return true
		}

		// if there is one owner it should own it in read mode
		for _, lockMode := range ls.owners {
			return lockMode == SharedLock
		}
	}

	return false
}

// grant records txID as an owner. An exclusive lock is never downgraded by a later shared request.
func (lm *LockManager) grant(ls *lockState, pageID pages.PageID, txID transaction.TxnID, mode LockMode) {
	if curr, ok := ls.owners[txID]; ok && curr == ExclusiveLock {
		return
	}
	ls.owners[txID] = mode

	held, ok := lm.byTxn[txID]
	if !ok {
		held = make(map[pages.PageID]struct{})
		lm.byTxn[txID] = held
	}
	held[pageID] = struct{}{}
}

func (lm *LockManager) release(txID transaction.TxnID, pageID pages.PageID) {
	if ls, ok := lm.locks[pageID]; ok {
		delete(ls.owners, txID)
		if len(ls.owners) == 0 {
			delete(lm.locks, pageID)
		}
	}

	if held, ok := lm.byTxn[txID]; ok {
		delete(held, pageID)
		if len(held) == 0 {
			delete(lm.byTxn, txID)
		}
	}
}
