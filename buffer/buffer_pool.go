package buffer

import (
	"errors"
	"fmt"
	"heapdb/catalog"
	"heapdb/common"
	"heapdb/disk/pages"
	"heapdb/disk/wal"
	"heapdb/locker"
	"heapdb/transaction"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrTransactionAborted = errors.New("transaction aborted")
	ErrNoEvictablePage    = errors.New("no clean page to evict")
	ErrPageNotResident    = errors.New("page is not in the buffer pool")
	ErrNoRecordID         = catalog.ErrNoRecordID
)

// DbFile is a table's page store as the buffer pool uses it. Tuple level operations go through the pool to read
// pages, so they return the pages they modified for the pool to track.
type DbFile interface {
	GetID() int32
	ReadPage(pid pages.PageID) (*pages.HeapPage, error)
	WritePage(p *pages.HeapPage) error
	NumPages() (int, error)
	InsertTuple(txn transaction.Transaction, t *catalog.Tuple) ([]*pages.HeapPage, error)
	DeleteTuple(txn transaction.Transaction, t *catalog.Tuple) ([]*pages.HeapPage, error)
}

// TableResolver returns the same DbFile for a table id on every call.
type TableResolver interface {
	GetDbFile(tableID int32) (DbFile, error)
}

type Option func(*BufferPool)

func WithLockManager(lm *locker.LockManager) Option {
	return func(b *BufferPool) {
		b.locks = lm
	}
}

func WithLogManager(lm wal.LogManager) Option {
	return func(b *BufferPool) {
		b.logManager = lm
	}
}

// WithLockWait sets the bounds of the randomized time GetPage keeps retrying a lock before it aborts.
func WithLockWait(min, max time.Duration) Option {
	return func(b *BufferPool) {
		b.lockWaitMin, b.lockWaitMax = min, max
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(b *BufferPool) {
		b.pollInterval = d
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(b *BufferPool) {
		b.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *BufferPool) {
		b.metrics = m
	}
}

// BufferPool caches pages of every table and is the only way transactions read or modify them. It takes page
// locks on behalf of transactions (strict two phase locking, released in TransactionComplete), never writes a
// page that an uncommitted transaction modified (no steal) and writes every page a transaction modified when it
// commits (force). Update records are forced to the log before the pages they describe are written.
type BufferPool struct {
	// mu guards cache membership and the commit, abort and flush sequences.
	mu    sync.Mutex
	cache *LruCache

	resolver   TableResolver
	locks      *locker.LockManager
	logManager wal.LogManager

	lockWaitMin  time.Duration
	lockWaitMax  time.Duration
	pollInterval time.Duration

	// written holds, per transaction, the pages a failed commit already wrote to their files. Aborting the
	// transaction writes their before images back.
	written map[transaction.TxnID]map[pages.PageID]*pages.HeapPage

	metrics *Metrics
	log     *zap.Logger
}

func NewBufferPool(numPages int, resolver TableResolver, opts ...Option) *BufferPool {
	b := &BufferPool{
		cache:        NewLruCache(numPages),
		resolver:     resolver,
		lockWaitMin:  0,
		lockWaitMax:  common.DefaultLockWaitMax,
		pollInterval: common.DefaultLockPollInterval,
		written:      make(map[transaction.TxnID]map[pages.PageID]*pages.HeapPage),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.locks == nil {
		b.locks = locker.NewLockManager(b.log)
	}
	if b.logManager == nil {
		b.logManager = wal.NoopLM
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// GetPage returns the page with the given id after acquiring the lock perm asks for. If the lock cannot be granted
// within the lock wait window ErrTransactionAborted is returned and the caller is expected to abort. A cache miss
// reads the page from its file, evicting a clean page if the cache is full.
func (b *BufferPool) GetPage(txn transaction.Transaction, pid pages.PageID, perm transaction.Permissions) (*pages.HeapPage, error) {
	if err := b.acquire(txn.GetID(), pid, locker.ModeFor(perm)); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.cache.Get(pid); ok {
		b.metrics.Hits.Inc()
		return p, nil
	}
	b.metrics.Misses.Inc()

	file, err := b.resolver.GetDbFile(pid.TableID)
	if err != nil {
		return nil, err
	}

	p, err := file.ReadPage(pid)
	if err != nil {
		return nil, fmt.Errorf("read %v: %w", pid, err)
	}

	if err := b.install(p); err != nil {
		return nil, err
	}

	b.log.Debug("page loaded", zap.Stringer("page", pid), zap.Uint64("txn", uint64(txn.GetID())))
	return p, nil
}

// acquire polls the lock manager until the lock is granted or a randomized deadline passes. Randomizing the
// deadline keeps transactions that wait on each other from timing out in lockstep.
func (b *BufferPool) acquire(txID transaction.TxnID, pid pages.PageID, mode locker.LockMode) error {
	window := b.lockWaitMin
	if b.lockWaitMax > b.lockWaitMin {
		window += time.Duration(rand.Int63n(int64(b.lockWaitMax - b.lockWaitMin)))
	}
	deadline := time.Now().Add(window)

	for {
		if b.locks.Acquire(txID, pid, mode) {
			return nil
		}

		if time.Now().After(deadline) {
			b.metrics.LockTimeouts.Inc()
			b.log.Warn("lock wait timed out",
				zap.Uint64("txn", uint64(txID)), zap.Stringer("page", pid), zap.Stringer("mode", mode), zap.Duration("window", window))
			return fmt.Errorf("%w: txn %d waited %v for %v lock on %v", ErrTransactionAborted, txID, window, mode, pid)
		}

		time.Sleep(b.pollInterval)
	}
}

// ReleasePage drops txn's lock on pid before the transaction ends. It breaks two phase locking and is only safe
// for pages the transaction merely looked at.
func (b *BufferPool) ReleasePage(txn transaction.Transaction, pid pages.PageID) {
	b.locks.Release(txn.GetID(), pid)
}

func (b *BufferPool) HoldsLock(txn transaction.Transaction, pid pages.PageID) bool {
	return b.locks.Holds(txn.GetID(), pid)
}

// InsertTuple adds t to the table and tracks every page the insert modified as dirtied by txn.
func (b *BufferPool) InsertTuple(txn transaction.Transaction, tableID int32, t *catalog.Tuple) error {
	file, err := b.resolver.GetDbFile(tableID)
	if err != nil {
		return err
	}

	dirtied, err := file.InsertTuple(txn, t)
	if err != nil {
		return err
	}

	return b.trackDirty(txn, dirtied)
}

// DeleteTuple removes t from the table its record id points to.
func (b *BufferPool) DeleteTuple(txn transaction.Transaction, t *catalog.Tuple) error {
	if t.Rid == nil {
		return ErrNoRecordID
	}

	file, err := b.resolver.GetDbFile(t.Rid.PageID.TableID)
	if err != nil {
		return err
	}

	dirtied, err := file.DeleteTuple(txn, t)
	if err != nil {
		return err
	}

	return b.trackDirty(txn, dirtied)
}

// trackDirty marks pages as dirtied by txn and makes sure they are cached. A page that left the cache between the
// file reading and modifying it is put back.
func (b *BufferPool) trackDirty(txn transaction.Transaction, dirtied []*pages.HeapPage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range dirtied {
		p.MarkDirty(txn.GetID())

		if _, ok := b.cache.Peek(p.GetPageId()); ok {
			if err := b.cache.Put(p.GetPageId(), p); err != nil {
				return err
			}
			continue
		}

		if err := b.install(p); err != nil {
			return err
		}
	}

	return nil
}

// install puts p into the cache, evicting first if needed. b.mu must be held.
func (b *BufferPool) install(p *pages.HeapPage) error {
	if b.cache.Len() >= b.cache.Cap() {
		if err := b.evictPage(); err != nil {
			return err
		}
	}

	if err := b.cache.Put(p.GetPageId(), p); err != nil {
		return err
	}
	b.metrics.ResidentPages.Set(float64(b.cache.Len()))
	return nil
}

// evictPage drops the least recently used clean page. Dirty pages belong to running transactions and must not
// reach disk before they commit, so when every page is dirty eviction fails. b.mu must be held.
func (b *BufferPool) evictPage() error {
	pid, _, ok := b.cache.EvictOneExcluding(func(_ pages.PageID, p *pages.HeapPage) bool {
		return p.IsDirty()
	})
	if !ok {
		return ErrNoEvictablePage
	}

	b.metrics.Evictions.Inc()
	b.metrics.ResidentPages.Set(float64(b.cache.Len()))
	b.log.Debug("page evicted", zap.Stringer("page", pid))
	return nil
}

// TransactionComplete ends txn. On commit every page txn dirtied is logged and written to its file before the
// locks are released. On abort those pages are dropped from the cache so the next reader sees the committed
// version from disk. If committing fails the locks stay held and the caller should abort, which also writes the
// before images of the pages the failed commit already wrote back to their files.
func (b *BufferPool) TransactionComplete(txn transaction.Transaction, commit bool) error {
	if commit {
		return b.commit(txn.GetID())
	}
	return b.abort(txn.GetID())
}

// commit writes txID's pages without holding b.mu. They are exclusively locked by txID and dirty, so no other
// transaction reads them and eviction skips them, while cache hits on other pages do not wait for the disk.
func (b *BufferPool) commit(txID transaction.TxnID) error {
	b.mu.Lock()
	dirty := b.dirtyPages(func(dirtier transaction.TxnID) bool { return dirtier == txID })
	b.mu.Unlock()

	written, err := b.flush(dirty, true, true)
	if err != nil {
		b.rememberWritten(txID, written)
		b.log.Error("commit failed",
			zap.Uint64("txn", uint64(txID)), zap.Int("written", len(written)), zap.Int("dirty", len(dirty)), zap.Error(err))
		return fmt.Errorf("commit txn %d: %w", txID, err)
	}

	b.mu.Lock()
	delete(b.written, txID)
	b.mu.Unlock()

	if _, err := b.logManager.AppendLog(wal.NewCommitLogRecord(txID)); err != nil {
		return fmt.Errorf("commit txn %d: %w", txID, err)
	}
	if err := b.logManager.Flush(); err != nil {
		return fmt.Errorf("commit txn %d: %w", txID, err)
	}

	released := b.locks.ReleaseAll(txID)
	b.metrics.Commits.Inc()
	b.log.Debug("transaction committed",
		zap.Uint64("txn", uint64(txID)), zap.Int("written", len(dirty)), zap.Int("locks", len(released)))
	return nil
}

func (b *BufferPool) rememberWritten(txID transaction.TxnID, written []*pages.HeapPage) {
	if len(written) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ps, ok := b.written[txID]
	if !ok {
		ps = make(map[pages.PageID]*pages.HeapPage)
		b.written[txID] = ps
	}
	for _, p := range written {
		ps[p.GetPageId()] = p
	}
}

func (b *BufferPool) abort(txID transaction.TxnID) error {
	b.mu.Lock()
	restoreErr := b.restore(txID)
	dirty := b.dirtyPages(func(dirtier transaction.TxnID) bool { return dirtier == txID })
	for _, p := range dirty {
		b.cache.Discard(p.GetPageId())
		b.metrics.Discards.Inc()
	}
	b.metrics.ResidentPages.Set(float64(b.cache.Len()))
	b.mu.Unlock()

	_, logErr := b.logManager.AppendLog(wal.NewAbortLogRecord(txID))
	b.locks.ReleaseAll(txID)
	b.metrics.Aborts.Inc()

	b.log.Debug("transaction aborted", zap.Uint64("txn", uint64(txID)), zap.Int("discarded", len(dirty)))
	if err := multierr.Combine(restoreErr, logErr); err != nil {
		return fmt.Errorf("abort txn %d: %w", txID, err)
	}
	return nil
}

// restore writes back the before images of the pages a failed commit of txID left on disk. b.mu must be held.
func (b *BufferPool) restore(txID transaction.TxnID) error {
	written := b.written[txID]
	delete(b.written, txID)

	var err error
	for pid, p := range written {
		file, ferr := b.resolver.GetDbFile(pid.TableID)
		if ferr != nil {
			err = multierr.Append(err, ferr)
			continue
		}

		before, perr := pages.NewHeapPage(pid, p.BeforeImage(), p.TupleSize())
		if perr != nil {
			err = multierr.Append(err, perr)
			continue
		}
		if werr := file.WritePage(before); werr != nil {
			err = multierr.Append(err, fmt.Errorf("restore %v: %w", pid, werr))
			continue
		}
		b.log.Info("restored page written by failed commit", zap.Uint64("txn", uint64(txID)), zap.Stringer("page", pid))
	}

	if err != nil {
		b.log.Error("failed to restore pages of failed commit", zap.Uint64("txn", uint64(txID)), zap.Error(err))
	}
	return err
}

// FlushAllPages writes every dirty page to its file. Pages stay marked dirty, so a later commit still finds
// them and an abort still drops them. It writes uncommitted data and is meant for checkpoints and tests.
func (b *BufferPool) FlushAllPages() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dirty := b.dirtyPages(func(transaction.TxnID) bool { return true })
	_, err := b.flush(dirty, false, false)
	return err
}

// FlushPages writes the pages txn dirtied and marks them clean.
func (b *BufferPool) FlushPages(txn transaction.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dirty := b.dirtyPages(func(dirtier transaction.TxnID) bool { return dirtier == txn.GetID() })
	_, err := b.flush(dirty, true, false)
	return err
}

// FlushPage writes pid if it is dirty and marks it clean.
func (b *BufferPool) FlushPage(pid pages.PageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.cache.Peek(pid)
	if !ok {
		return fmt.Errorf("%v: %w", pid, ErrPageNotResident)
	}
	if !p.IsDirty() {
		return nil
	}
	_, err := b.flush([]*pages.HeapPage{p}, true, false)
	return err
}

// DiscardPage removes pid from the cache without writing it. It reports whether the page was cached.
func (b *BufferPool) DiscardPage(pid pages.PageID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok := b.cache.Discard(pid)
	if ok {
		b.metrics.Discards.Inc()
		b.metrics.ResidentPages.Set(float64(b.cache.Len()))
	}
	return ok
}

// dirtyPages returns cached pages whose dirtier matches, least recently used first. b.mu must be held.
func (b *BufferPool) dirtyPages(match func(transaction.TxnID) bool) []*pages.HeapPage {
	res := make([]*pages.HeapPage, 0)
	b.cache.ForEachFromLRU(func(_ pages.PageID, p *pages.HeapPage) bool {
		if dirtier, ok := p.Dirtier(); ok && match(dirtier) {
			res = append(res, p)
		}
		return true
	})
	return res
}

// flush logs an update record for every page, forces the log once and then writes the pages. Pages are marked
// clean and get a new before image only after every write succeeded. On failure the pages written so far are
// returned along with the error.
func (b *BufferPool) flush(ps []*pages.HeapPage, markClean, refreshBefore bool) ([]*pages.HeapPage, error) {
	if len(ps) == 0 {
		return nil, nil
	}

	for _, p := range ps {
		dirtier, _ := p.Dirtier()
		lr := wal.NewUpdateLogRecord(dirtier, p.GetPageId(), p.BeforeImage(), p.GetData())
		if _, err := b.logManager.AppendLog(lr); err != nil {
			return nil, fmt.Errorf("log %v: %w", p.GetPageId(), err)
		}
	}
	if err := b.logManager.Flush(); err != nil {
		return nil, err
	}

	written := make([]*pages.HeapPage, 0, len(ps))
	for _, p := range ps {
		file, err := b.resolver.GetDbFile(p.GetPageId().TableID)
		if err != nil {
			return written, err
		}
		if err := file.WritePage(p); err != nil {
			return written, fmt.Errorf("write %v: %w", p.GetPageId(), err)
		}
		b.metrics.Flushes.Inc()
		written = append(written, p)
	}

	for _, p := range ps {
		if markClean {
			p.MarkClean()
		}
		if refreshBefore {
			p.SetBeforeImage()
		}
	}

	return written, nil
}

// Capacity is the maximum number of pages the pool caches.
func (b *BufferPool) Capacity() int {
	return b.cache.Cap()
}

// ResidentPages returns the cached page ids from least to most recently used.
func (b *BufferPool) ResidentPages() []pages.PageID {
	return b.cache.Keys()
}

func (b *BufferPool) IsResident(pid pages.PageID) bool {
	_, ok := b.cache.Peek(pid)
	return ok
}

func (b *BufferPool) LockManager() *locker.LockManager {
	return b.locks
}
