package db

import (
	"errors"
	"fmt"
	"heapdb/buffer"
	"heapdb/catalog"
	"heapdb/catalog/db_types"
	"heapdb/config"
	"heapdb/disk/wal"
	"heapdb/transaction"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.DataDir = tempDir(t)
	cfg.FsyncPages = false
	cfg.WAL.Sync = false
	cfg.LockWaitMax = 100 * time.Millisecond
	return cfg
}

func usersSchema() catalog.Schema {
	return catalog.NewSchema([]catalog.Column{
		{Name: "id", Type: db_types.IntTypeID},
		{Name: "name", Type: db_types.StringTypeID},
	})
}

func openTestDB(t *testing.T, cfg *config.Config) *DB {
	d, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	_, err = d.OpenTable("users", usersSchema(), "id")
	require.NoError(t, err)
	return d
}

func scanIDs(t *testing.T, d *DB) []int32 {
	ids := make([]int32, 0)
	require.NoError(t, d.Run(func(txn transaction.Transaction) error {
		return d.Scan(txn, "users", func(tuple *catalog.Tuple) error {
			ids = append(ids, tuple.GetValue(0).GetAsInterface().(int32))
			return nil
		})
	}))
	return ids
}

func TestDB_Insert_Survives_Reopen(t *testing.T) {
	cfg := testConfig(t)
	d := openTestDB(t, cfg)

	require.NoError(t, d.Run(func(txn transaction.Transaction) error {
		for i := 0; i < 3; i++ {
			if _, err := d.Insert(txn, "users", db_types.NewValue(i), db_types.NewValue(fmt.Sprintf("user-%d", i))); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, d.Close())

	d = openTestDB(t, cfg)
	assert.Equal(t, []int32{0, 1, 2}, scanIDs(t, d))

	require.NoError(t, d.Run(func(txn transaction.Transaction) error {
		return d.Scan(txn, "users", func(tuple *catalog.Tuple) error {
			if tuple.GetValue(0).GetAsInterface().(int32) == 1 {
				assert.Equal(t, "user-1", tuple.GetValue(1).GetAsInterface())
				return d.Delete(txn, tuple)
			}
			return nil
		})
	}))
	assert.Equal(t, []int32{0, 2}, scanIDs(t, d))
}

func TestDB_Run_Aborts_On_Error(t *testing.T) {
	d := openTestDB(t, testConfig(t))
	boom := errors.New("boom")

	err := d.Run(func(txn transaction.Transaction) error {
		if _, err := d.Insert(txn, "users", db_types.NewValue(1), db_types.NewValue("x")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, scanIDs(t, d))

	// aborted pages are gone from the pool, nothing of the transaction is locked
	for _, pid := range d.Pool().ResidentPages() {
		assert.Empty(t, d.LockManager().Owners(pid))
	}
}

func TestDB_Insert_Rejects_Wrong_Values(t *testing.T) {
	d := openTestDB(t, testConfig(t))

	txn, err := d.Begin()
	require.NoError(t, err)
	_, err = d.Insert(txn, "users", db_types.NewValue("x"), db_types.NewValue(1))
	assert.ErrorIs(t, err, catalog.ErrSchemaMismatch)
	_, err = d.Insert(txn, "missing", db_types.NewValue(1))
	assert.ErrorIs(t, err, ErrTableNotFound)
	require.NoError(t, d.Abort(txn))
}

func TestDB_Log_Records_Transaction_In_Order(t *testing.T) {
	d := openTestDB(t, testConfig(t))

	txn, err := d.Begin()
	require.NoError(t, err)
	_, err = d.Insert(txn, "users", db_types.NewValue(7), db_types.NewValue("seven"))
	require.NoError(t, err)
	require.NoError(t, d.Commit(txn))

	path := d.LogPath()
	require.NotEmpty(t, path)
	require.NoError(t, d.Close())

	records, err := wal.ReadAll(path)
	require.NoError(t, err)

	types := make([]wal.LogRecordType, 0)
	for _, lr := range records {
		if lr.TxnID == txn.GetID() {
			types = append(types, lr.T)
		}
	}
	assert.Equal(t, []wal.LogRecordType{wal.TypeBegin, wal.TypeUpdate, wal.TypeCommit}, types)
	assert.Equal(t, wal.TypeCheckpoint, records[len(records)-1].T)
}

func TestDB_Open_Loads_Schema_File(t *testing.T) {
	cfg := testConfig(t)
	cfg.WAL.Path = ""
	cfg.Schema = "schema.txt"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "schema.txt"),
		[]byte("users (id int pk, name string)\norders (id int, amount int)\n"), 0644))

	d, err := Open(cfg, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.Len(t, d.Catalog().TableIDs(), 2)
	orders, err := d.Table("orders")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DataDir, "orders.dat"), orders.Path())
	assert.Empty(t, d.LogPath())
}

func TestDB_Rejects_Use_After_Close(t *testing.T) {
	d := openTestDB(t, testConfig(t))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.Begin()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.OpenTable("other", usersSchema(), "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDB_Open_Validates_Config(t *testing.T) {
	cfg := testConfig(t)
	cfg.PoolSize = 0
	_, err := Open(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestDB_Concurrent_Inserts_Retry_Until_Committed(t *testing.T) {
	d := openTestDB(t, testConfig(t))
	workers, perWorker := 4, 25

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				id := w*perWorker + i
				for {
					err := d.Run(func(txn transaction.Transaction) error {
						_, err := d.Insert(txn, "users", db_types.NewValue(id), db_types.NewValue("u"))
						return err
					})
					if errors.Is(err, buffer.ErrTransactionAborted) {
						continue
					}
					if err != nil {
						return err
					}
					break
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ids := scanIDs(t, d)
	assert.Len(t, ids, workers*perWorker)
	assert.ElementsMatch(t, func() []int32 {
		want := make([]int32, 0, workers*perWorker)
		for i := 0; i < workers*perWorker; i++ {
			want = append(want, int32(i))
		}
		return want
	}(), ids)
}
