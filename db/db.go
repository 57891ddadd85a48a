package db

import (
	"errors"
	"fmt"
	"heapdb/buffer"
	"heapdb/catalog"
	"heapdb/catalog/db_types"
	"heapdb/config"
	"heapdb/disk/wal"
	"heapdb/heap"
	"heapdb/locker"
	"heapdb/transaction"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("database is closed")

// DB ties together the catalog, the buffer pool, the lock manager and the log of one database. Everything that
// used to be process wide lives here so several databases can be open in one process.
type DB struct {
	cfg *config.Config

	catalog *Catalog
	pool    *buffer.BufferPool
	locks   *locker.LockManager
	logFile *wal.LogFile
	lm      wal.LogManager

	registry *prometheus.Registry
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open prepares the data directory, opens the log and loads cfg.Schema if one is set.
func Open(cfg *config.Config, log *zap.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	d := &DB{
		cfg:      cfg,
		catalog:  NewCatalog(),
		locks:    locker.NewLockManager(log),
		lm:       wal.NoopLM,
		registry: prometheus.NewRegistry(),
		log:      log,
	}
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.WAL.Path != "" {
		lf, err := wal.OpenLogFile(cfg.Resolve(cfg.WAL.Path), cfg.WAL.Compress, cfg.WAL.Sync, log)
		if err != nil {
			return nil, err
		}
		d.logFile, d.lm = lf, lf
	}

	d.pool = buffer.NewBufferPool(cfg.PoolSize, d.catalog,
		buffer.WithLockManager(d.locks),
		buffer.WithLogManager(d.lm),
		buffer.WithLockWait(cfg.LockWaitMin, cfg.LockWaitMax),
		buffer.WithPollInterval(cfg.LockPollInterval),
		buffer.WithMetrics(buffer.NewMetrics(d.registry)),
		buffer.WithLogger(log),
	)

	if cfg.Schema != "" {
		if err := d.LoadSchema(cfg.Resolve(cfg.Schema)); err != nil {
			return nil, multierr.Append(err, d.Close())
		}
	}

	log.Info("database opened",
		zap.String("data_dir", cfg.DataDir), zap.Int("pool_pages", cfg.PoolSize), zap.Int("page_size", cfg.PageSize))
	return d, nil
}

// OpenTable opens the file of table name in the data directory, creating it if needed, and registers it.
func (d *DB) OpenTable(name string, schema catalog.Schema, pkey string) (*heap.HeapFile, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	f, err := heap.NewHeapFile(d.cfg.Resolve(name+".dat"), schema, d.cfg.PageSize, d.pool, d.cfg.FsyncPages, d.log)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", name, err)
	}

	if old, err := d.catalog.GetHeapFile(f.GetID()); err == nil {
		// same file opened twice, keep the handle the pool already knows
		_ = f.Close()
		d.catalog.AddTable(old, name, pkey)
		return old, nil
	}

	d.catalog.AddTable(f, name, pkey)
	d.log.Info("table opened", zap.String("table", name), zap.Int32("id", f.GetID()), zap.Int("tuple_size", schema.Size()))
	return f, nil
}

// LoadSchema opens every table defined in the schema file at path.
func (d *DB) LoadSchema(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	defer fh.Close()

	defs, err := ParseSchema(fh)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", path, err)
	}

	for _, def := range defs {
		if _, err := d.OpenTable(def.Name, def.Schema, def.PKey); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Table(name string) (*heap.HeapFile, error) {
	id, err := d.catalog.GetTableID(name)
	if err != nil {
		return nil, err
	}
	return d.catalog.GetHeapFile(id)
}

// Begin starts a transaction and logs its begin record.
func (d *DB) Begin() (transaction.Transaction, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	txn := transaction.Begin()
	if _, err := d.lm.AppendLog(wal.NewBeginLogRecord(txn.GetID())); err != nil {
		return nil, fmt.Errorf("begin txn %d: %w", txn.GetID(), err)
	}
	return txn, nil
}

func (d *DB) Commit(txn transaction.Transaction) error {
	return d.pool.TransactionComplete(txn, true)
}

func (d *DB) Abort(txn transaction.Transaction) error {
	return d.pool.TransactionComplete(txn, false)
}

// Run executes fn in a new transaction. The transaction commits if fn succeeds and is aborted otherwise, including
// when the commit itself fails.
func (d *DB) Run(fn func(txn transaction.Transaction) error) error {
	txn, err := d.Begin()
	if err != nil {
		return err
	}

	if err := fn(txn); err != nil {
		return multierr.Append(err, d.Abort(txn))
	}

	if err := d.Commit(txn); err != nil {
		return multierr.Append(err, d.Abort(txn))
	}
	return nil
}

// Insert builds a tuple of table's schema from values and inserts it. The returned tuple carries its record id.
func (d *DB) Insert(txn transaction.Transaction, table string, values ...*db_types.Value) (*catalog.Tuple, error) {
	f, err := d.Table(table)
	if err != nil {
		return nil, err
	}

	t, err := catalog.NewTupleWithSchema(values, f.GetSchema())
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}

	if err := d.pool.InsertTuple(txn, f.GetID(), t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *DB) Delete(txn transaction.Transaction, t *catalog.Tuple) error {
	return d.pool.DeleteTuple(txn, t)
}

// Scan calls fn for every tuple of table under shared locks. Returning an error from fn stops the scan.
func (d *DB) Scan(txn transaction.Transaction, table string, fn func(t *catalog.Tuple) error) error {
	f, err := d.Table(table)
	if err != nil {
		return err
	}

	it := f.Iterator(txn, transaction.ReadOnly)
	if err := it.Open(); err != nil {
		return err
	}
	defer it.Close()

	for {
		ok, err := it.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		t, err := it.Next()
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

func (d *DB) Catalog() *Catalog {
	return d.catalog
}

func (d *DB) Pool() *buffer.BufferPool {
	return d.pool
}

func (d *DB) LockManager() *locker.LockManager {
	return d.locks
}

// Registry holds the database metrics, serve it with promhttp.HandlerFor.
func (d *DB) Registry() *prometheus.Registry {
	return d.registry
}

// LogPath is the path of the log file, empty when logging is disabled.
func (d *DB) LogPath() string {
	if d.logFile == nil {
		return ""
	}
	return d.logFile.Path()
}

func (d *DB) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return nil
}

// Close writes every cached dirty page, records a checkpoint and closes the table files and the log. Transactions
// still running at this point lose the guarantee that their changes can be undone.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var err error
	if ferr := d.pool.FlushAllPages(); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("flush pages: %w", ferr))
	} else if _, cerr := d.lm.AppendLog(wal.NewCheckpointLogRecord()); cerr != nil {
		err = multierr.Append(err, cerr)
	}

	for _, id := range d.catalog.TableIDs() {
		f, ferr := d.catalog.GetHeapFile(id)
		if ferr != nil {
			continue
		}
		err = multierr.Append(err, f.Close())
	}
	d.catalog.Clear()

	err = multierr.Append(err, d.lm.Close())
	if err != nil {
		d.log.Error("database closed with errors", zap.Error(err))
	} else {
		d.log.Info("database closed", zap.String("data_dir", d.cfg.DataDir))
	}
	return err
}
