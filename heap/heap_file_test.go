package heap

import (
	"heapdb/buffer"
	"heapdb/catalog"
	"heapdb/catalog/db_types"
	"heapdb/disk/pages"
	"heapdb/transaction"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileResolver map[int32]*HeapFile

func (r fileResolver) GetDbFile(tableID int32) (buffer.DbFile, error) {
	f, ok := r[tableID]
	if !ok {
		return nil, os.ErrNotExist
	}
	return f, nil
}

// interleavingPool calls before once, right before the first exclusive request for page pageNo.
type interleavingPool struct {
	*buffer.BufferPool
	pageNo int
	before func()
	done   bool
}

func (p *interleavingPool) GetPage(txn transaction.Transaction, pid pages.PageID, perm transaction.Permissions) (*pages.HeapPage, error) {
	if !p.done && p.before != nil && perm == transaction.ReadWrite && pid.PageNo == p.pageNo {
		p.done = true
		p.before()
	}
	return p.BufferPool.GetPage(txn, pid, perm)
}

func intSchema() catalog.Schema {
	return catalog.NewSchemaFromTypes(db_types.IntTypeID, db_types.IntTypeID)
}

func intTuple(t *testing.T, a, b int) *catalog.Tuple {
	tuple, err := catalog.NewTupleWithSchema([]*db_types.Value{db_types.NewValue(a), db_types.NewValue(b)}, intSchema())
	require.NoError(t, err)
	return tuple
}

func newTestHeap(t *testing.T, poolPages int) (*HeapFile, *buffer.BufferPool) {
	id, _ := uuid.NewUUID()
	dbName := filepath.Join(os.TempDir(), id.String()+".dat")
	t.Cleanup(func() { os.Remove(dbName) })

	resolver := fileResolver{}
	pool := buffer.NewBufferPool(poolPages, resolver, buffer.WithLockWait(0, 50*time.Millisecond))

	f, err := NewHeapFile(dbName, intSchema(), 4096, pool, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	resolver[f.GetID()] = f

	return f, pool
}

func countTuples(t *testing.T, f *HeapFile, pool *buffer.BufferPool) int {
	txn := transaction.Begin()
	defer func() { require.NoError(t, pool.TransactionComplete(txn, true)) }()

	it := f.Iterator(txn, transaction.ReadOnly)
	require.NoError(t, it.Open())
	defer it.Close()

	count := 0
	for {
		ok, err := it.HasNext()
		require.NoError(t, err)
		if !ok {
			return count
		}
		_, err = it.Next()
		require.NoError(t, err)
		count++
	}
}

func TestFileID_Is_Stable_For_Same_Path(t *testing.T) {
	assert.Equal(t, FileID("a/b/../table.dat"), FileID("a/table.dat"))
	assert.NotEqual(t, FileID("a/table.dat"), FileID("b/table.dat"))
}

func TestHeapFile_Grows_To_Second_Page_When_First_Is_Full(t *testing.T) {
	f, pool := newTestHeap(t, 50)
	slots := pages.NumSlots(4096, intSchema().Size())
	require.Equal(t, 504, slots)

	txn := transaction.Begin()
	var last *catalog.Tuple
	for i := 0; i <= slots; i++ {
		last = intTuple(t, i, -i)
		require.NoError(t, pool.InsertTuple(txn, f.GetID(), last))
	}
	require.NoError(t, pool.TransactionComplete(txn, true))

	n, err := f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NotNil(t, last.Rid)
	assert.Equal(t, pages.NewPageID(f.GetID(), 1), last.Rid.PageID)
	assert.Equal(t, 0, last.Rid.Slot)

	assert.Equal(t, slots+1, countTuples(t, f, pool))
}

func TestHeapFile_Insert_Then_Abort_Restores_Tuple_Count(t *testing.T) {
	f, pool := newTestHeap(t, 50)

	txn := transaction.Begin()
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.InsertTuple(txn, f.GetID(), intTuple(t, i, i)))
	}
	require.NoError(t, pool.TransactionComplete(txn, true))
	require.Equal(t, 3, countTuples(t, f, pool))

	txn = transaction.Begin()
	require.NoError(t, pool.InsertTuple(txn, f.GetID(), intTuple(t, 10, 10)))
	require.NoError(t, pool.InsertTuple(txn, f.GetID(), intTuple(t, 11, 11)))
	require.NoError(t, pool.TransactionComplete(txn, false))

	assert.Equal(t, 3, countTuples(t, f, pool))
}

func TestHeapFile_Written_Page_Reads_Back_Identical(t *testing.T) {
	f, pool := newTestHeap(t, 50)

	txn := transaction.Begin()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.InsertTuple(txn, f.GetID(), intTuple(t, i, 2*i)))
	}
	require.NoError(t, pool.TransactionComplete(txn, true))

	pid := pages.NewPageID(f.GetID(), 0)
	p, err := f.ReadPage(pid)
	require.NoError(t, err)
	require.NoError(t, f.WritePage(p))

	again, err := f.ReadPage(pid)
	require.NoError(t, err)
	assert.Equal(t, p.GetData(), again.GetData())
	assert.Len(t, again.Tuples(), 10)

	_, err = f.ReadPage(pages.NewPageID(f.GetID(), 1))
	assert.ErrorIs(t, err, pages.ErrNoPage)

	_, err = f.ReadPage(pages.NewPageID(f.GetID()+1, 0))
	assert.ErrorIs(t, err, ErrWrongTable)
}

func TestHeapFile_Delete_Frees_Slot(t *testing.T) {
	f, pool := newTestHeap(t, 50)

	txn := transaction.Begin()
	tuples := make([]*catalog.Tuple, 0)
	for i := 0; i < 5; i++ {
		tuple := intTuple(t, i, i)
		require.NoError(t, pool.InsertTuple(txn, f.GetID(), tuple))
		tuples = append(tuples, tuple)
	}
	require.NoError(t, pool.TransactionComplete(txn, true))

	txn = transaction.Begin()
	require.NoError(t, pool.DeleteTuple(txn, tuples[2]))
	assert.ErrorIs(t, pool.DeleteTuple(txn, tuples[2]), pages.ErrSlotEmpty)
	require.NoError(t, pool.TransactionComplete(txn, true))

	assert.Equal(t, 4, countTuples(t, f, pool))

	// the freed slot is reused by the next insert
	txn = transaction.Begin()
	tuple := intTuple(t, 99, 99)
	require.NoError(t, pool.InsertTuple(txn, f.GetID(), tuple))
	require.NoError(t, pool.TransactionComplete(txn, true))
	assert.Equal(t, tuples[2].Rid.Slot, tuple.Rid.Slot)
}

func TestHeapFile_Rejects_Foreign_Schema(t *testing.T) {
	f, pool := newTestHeap(t, 50)

	other, err := catalog.NewTupleWithSchema([]*db_types.Value{db_types.NewValue("x")}, catalog.NewSchemaFromTypes(db_types.StringTypeID))
	require.NoError(t, err)

	txn := transaction.Begin()
	assert.ErrorIs(t, pool.InsertTuple(txn, f.GetID(), other), catalog.ErrSchemaMismatch)
	require.NoError(t, pool.TransactionComplete(txn, false))
}

func TestIterator_Rewind_And_Values(t *testing.T) {
	f, pool := newTestHeap(t, 50)

	txn := transaction.Begin()
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.InsertTuple(txn, f.GetID(), intTuple(t, i, 100+i)))
	}

	it := f.Iterator(txn, transaction.ReadOnly)
	_, err := it.HasNext()
	assert.ErrorIs(t, err, ErrIteratorClosed)

	require.NoError(t, it.Open())
	seen := make([]int32, 0)
	for i := 0; i < 4; i++ {
		tuple, err := it.Next()
		require.NoError(t, err)
		seen = append(seen, tuple.GetValue(1).GetAsInterface().(int32))
		assert.Equal(t, i, tuple.Rid.Slot)
	}
	assert.Equal(t, []int32{100, 101, 102, 103}, seen)

	_, err = it.Next()
	assert.ErrorIs(t, err, ErrNoSuchElement)

	require.NoError(t, it.Rewind())
	ok, err := it.HasNext()
	require.NoError(t, err)
	assert.True(t, ok)

	it.Close()
	require.NoError(t, pool.TransactionComplete(txn, true))
}

func TestHeapFile_Insert_Appends_Again_When_New_Page_Is_Taken(t *testing.T) {
	id, _ := uuid.NewUUID()
	dbName := filepath.Join(os.TempDir(), id.String()+".dat")
	t.Cleanup(func() { os.Remove(dbName) })

	resolver := fileResolver{}
	bp := buffer.NewBufferPool(10, resolver, buffer.WithLockWait(0, 50*time.Millisecond))
	pool := &interleavingPool{BufferPool: bp, pageNo: 1}

	// one tuple per page
	f, err := NewHeapFile(dbName, intSchema(), 16, pool, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	resolver[f.GetID()] = f
	require.Equal(t, 1, pages.NumSlots(16, intSchema().Size()))

	txn := transaction.Begin()
	require.NoError(t, bp.InsertTuple(txn, f.GetID(), intTuple(t, 0, 0)))
	require.NoError(t, bp.TransactionComplete(txn, true))

	// another transaction fills page 1 between its append and the exclusive request for it
	pool.before = func() {
		other := transaction.Begin()
		require.NoError(t, bp.InsertTuple(other, f.GetID(), intTuple(t, 1, 1)))
		require.NoError(t, bp.TransactionComplete(other, true))
	}

	txn = transaction.Begin()
	tuple := intTuple(t, 2, 2)
	require.NoError(t, bp.InsertTuple(txn, f.GetID(), tuple))
	assert.True(t, pool.done)
	assert.Equal(t, pages.NewPageID(f.GetID(), 2), tuple.Rid.PageID)
	assert.False(t, bp.HoldsLock(txn, pages.NewPageID(f.GetID(), 1)))
	require.NoError(t, bp.TransactionComplete(txn, true))

	n, err := f.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, countTuples(t, f, bp))
}

func TestHeapFile_Delete_Without_Record_ID(t *testing.T) {
	f, pool := newTestHeap(t, 10)

	txn := transaction.Begin()
	_, err := f.DeleteTuple(txn, intTuple(t, 1, 1))
	assert.ErrorIs(t, err, catalog.ErrNoRecordID)
	assert.ErrorIs(t, pool.DeleteTuple(txn, intTuple(t, 1, 1)), buffer.ErrNoRecordID)
	require.NoError(t, pool.TransactionComplete(txn, false))
}
