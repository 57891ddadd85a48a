package buffer

import (
	"heapdb/disk/pages"
	"heapdb/transaction"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPage(t *testing.T, no int) *pages.HeapPage {
	p, err := pages.NewHeapPage(pages.NewPageID(1, no), pages.NewEmptyPageData(64), 8)
	require.NoError(t, err)
	return p
}

func TestLruCache_Capacity_Two_Evicts_Least_Recent(t *testing.T) {
	c := NewLruCache(2)
	a, b, cc := testPage(t, 0), testPage(t, 1), testPage(t, 2)

	require.NoError(t, c.Put(a.GetPageId(), a))
	require.NoError(t, c.Put(b.GetPageId(), b))
	assert.Equal(t, []pages.PageID{a.GetPageId(), b.GetPageId()}, c.Keys())

	assert.ErrorIs(t, c.Put(cc.GetPageId(), cc), ErrCacheFull)

	victim, _, ok := c.EvictOneExcluding(nil)
	require.True(t, ok)
	assert.Equal(t, a.GetPageId(), victim)

	require.NoError(t, c.Put(cc.GetPageId(), cc))
	assert.Equal(t, []pages.PageID{b.GetPageId(), cc.GetPageId()}, c.Keys())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Cap())
}

func TestLruCache_Get_Refreshes_Recency_But_Peek_Does_Not(t *testing.T) {
	c := NewLruCache(3)
	for i := 0; i < 3; i++ {
		p := testPage(t, i)
		require.NoError(t, c.Put(p.GetPageId(), p))
	}

	_, ok := c.Get(pages.NewPageID(1, 0))
	require.True(t, ok)
	_, ok = c.Peek(pages.NewPageID(1, 1))
	require.True(t, ok)

	assert.Equal(t, []pages.PageID{pages.NewPageID(1, 1), pages.NewPageID(1, 2), pages.NewPageID(1, 0)}, c.Keys())

	// overwriting an existing key refreshes it and never needs room
	p := testPage(t, 1)
	require.NoError(t, c.Put(p.GetPageId(), p))
	got, _ := c.Peek(p.GetPageId())
	assert.Same(t, p, got)
	assert.Equal(t, []pages.PageID{pages.NewPageID(1, 2), pages.NewPageID(1, 0), pages.NewPageID(1, 1)}, c.Keys())
}

func TestLruCache_Evict_Skips_Excluded_Pages(t *testing.T) {
	c := NewLruCache(3)
	for i := 0; i < 3; i++ {
		p := testPage(t, i)
		if i < 2 {
			p.MarkDirty(transaction.TxnID(1))
		}
		require.NoError(t, c.Put(p.GetPageId(), p))
	}

	dirty := func(_ pages.PageID, p *pages.HeapPage) bool { return p.IsDirty() }

	victim, _, ok := c.EvictOneExcluding(dirty)
	require.True(t, ok)
	assert.Equal(t, pages.NewPageID(1, 2), victim)

	_, _, ok = c.EvictOneExcluding(dirty)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLruCache_Discard_Recycles_Slots(t *testing.T) {
	c := NewLruCache(2)
	for round := 0; round < 10; round++ {
		for i := 0; i < 2; i++ {
			p := testPage(t, round*2+i)
			require.NoError(t, c.Put(p.GetPageId(), p))
		}
		assert.True(t, c.Discard(pages.NewPageID(1, round*2)))
		assert.True(t, c.Discard(pages.NewPageID(1, round*2+1)))
		assert.False(t, c.Discard(pages.NewPageID(1, round*2+1)))
		assert.Zero(t, c.Len())
		assert.Empty(t, c.Keys())
	}
}

func TestLruCache_ForEach_Stops_Early(t *testing.T) {
	c := NewLruCache(4)
	for i := 0; i < 4; i++ {
		p := testPage(t, i)
		require.NoError(t, c.Put(p.GetPageId(), p))
	}

	visited := 0
	c.ForEachFromLRU(func(pages.PageID, *pages.HeapPage) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}
