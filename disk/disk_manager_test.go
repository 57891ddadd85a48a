package disk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskManager_Write_Then_Read_Returns_Same_Bytes(t *testing.T) {
	id, _ := uuid.NewUUID()
	dbName := filepath.Join(os.TempDir(), id.String()+".dat")
	defer os.Remove(dbName)

	dm, created, err := NewDiskManager(dbName, 64, false, nil)
	require.NoError(t, err)
	defer dm.Close()
	assert.True(t, created)

	n, err := dm.NumPages()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = dm.ReadPage(0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	// writing page 2 first grows the file over the hole left for pages 0 and 1
	p2 := bytes.Repeat([]byte{2}, 64)
	require.NoError(t, dm.WritePage(p2, 2))

	n, err = dm.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := dm.ReadPage(2)
	require.NoError(t, err)
	assert.Equal(t, p2, got)

	got, err = dm.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), got)

	_, err = dm.ReadPage(3)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = dm.ReadPage(-1)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestDiskManager_Rejects_Wrong_Sized_Pages(t *testing.T) {
	id, _ := uuid.NewUUID()
	dbName := filepath.Join(os.TempDir(), id.String()+".dat")
	defer os.Remove(dbName)

	dm, _, err := NewDiskManager(dbName, 64, true, nil)
	require.NoError(t, err)
	defer dm.Close()

	assert.Error(t, dm.WritePage(make([]byte, 63), 0))
	assert.Error(t, dm.WritePage(make([]byte, 65), 0))
	assert.NoError(t, dm.WritePage(make([]byte, 64), 0))
}

func TestDiskManager_Reopen_Keeps_Pages(t *testing.T) {
	id, _ := uuid.NewUUID()
	dbName := filepath.Join(os.TempDir(), id.String()+".dat")
	defer os.Remove(dbName)

	dm, _, err := NewDiskManager(dbName, 64, false, nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, dm.WritePage(bytes.Repeat([]byte{byte(i)}, 64), i))
	}
	require.NoError(t, dm.Close())

	dm, created, err := NewDiskManager(dbName, 64, false, nil)
	require.NoError(t, err)
	defer dm.Close()
	assert.False(t, created)
	assert.Equal(t, dbName, dm.Path())

	n, err := dm.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	for i := 0; i < 4; i++ {
		got, err := dm.ReadPage(i)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 64), got)
	}
}

func TestDiskManager_Ignores_Trailing_Partial_Page(t *testing.T) {
	id, _ := uuid.NewUUID()
	dbName := filepath.Join(os.TempDir(), id.String()+".dat")
	defer os.Remove(dbName)

	require.NoError(t, os.WriteFile(dbName, make([]byte, 64+10), 0644))

	dm, _, err := NewDiskManager(dbName, 64, false, nil)
	require.NoError(t, err)
	defer dm.Close()

	n, err := dm.NumPages()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = dm.ReadPage(1)
	assert.ErrorIs(t, err, ErrPartialPage)
}
