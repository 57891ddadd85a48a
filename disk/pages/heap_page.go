package pages

import (
	"errors"
	"fmt"
	"heapdb/common"
	"heapdb/transaction"
)

/**
 * Heap page format:
 *  ------------------------------------------------------------
 *  | HEADER BITMAP | SLOT_0 | SLOT_1 | ... | SLOT_N-1 | unused |
 *  ------------------------------------------------------------
 *
 *  Every slot is exactly tupleSize bytes long. Bit i of the header (byte i/8, bit i%8, least significant bit
 *  first) is set when slot i holds a tuple. The number of slots is the largest N such that N tuples plus N header
 *  bits fit into the page:
 *
 *      N = floor(pageSize*8 / (tupleSize*8 + 1))
 */

var (
	ErrNoPage         = errors.New("page does not exist")
	ErrPageFull       = errors.New("no empty slot in page")
	ErrSlotEmpty      = errors.New("slot is not in use")
	ErrSlotOutOfRange = errors.New("slot index out of range")
	ErrTupleSize      = errors.New("tuple size does not match page slot size")
)

// SlotTuple is a tuple's raw bytes together with the slot it was read from.
type SlotTuple struct {
	Slot int
	Data []byte
}

type HeapPage struct {
	RawPage
	tupleSize  int
	numSlots   int
	headerSize int
}

// NumSlots returns how many tuples of tupleSize bytes a page of pageSize bytes can hold.
func NumSlots(pageSize, tupleSize int) int {
	if tupleSize <= 0 {
		return 0
	}
	return (pageSize * 8) / (tupleSize*8 + 1)
}

func HeaderSize(numSlots int) int {
	return common.CeilDiv(numSlots, 8)
}

// NewEmptyPageData returns the bytes of a page without any tuples.
func NewEmptyPageData(pageSize int) []byte {
	return make([]byte, pageSize)
}

// NewHeapPage interprets data as a heap page holding fixed size tuples. It takes ownership of data.
func NewHeapPage(pageId PageID, data []byte, tupleSize int) (*HeapPage, error) {
	numSlots := NumSlots(len(data), tupleSize)
	if numSlots == 0 {
		return nil, fmt.Errorf("tuple of %d bytes cannot fit into a %d byte page: %w", tupleSize, len(data), ErrTupleSize)
	}

	before := make([]byte, len(data))
	copy(before, data)
	return &HeapPage{
		RawPage: RawPage{
			pageId:  pageId,
			dirtier: transaction.NoTxn,
			data:    data,
			before:  before,
		},
		tupleSize:  tupleSize,
		numSlots:   numSlots,
		headerSize: HeaderSize(numSlots),
	}, nil
}

func (hp *HeapPage) NumSlots() int {
	return hp.numSlots
}

func (hp *HeapPage) TupleSize() int {
	return hp.tupleSize
}

func (hp *HeapPage) NumEmptySlots() int {
	hp.RLatch()
	defer hp.RUnLatch()

	empty := 0
	for i := 0; i < hp.numSlots; i++ {
		if !hp.isSlotUsed(i) {
			empty++
		}
	}
	return empty
}

func (hp *HeapPage) IsSlotUsed(slot int) bool {
	hp.RLatch()
	defer hp.RUnLatch()

	if slot < 0 || slot >= hp.numSlots {
		return false
	}
	return hp.isSlotUsed(slot)
}

// InsertTuple copies data into the first empty slot and marks the page dirty on behalf of txnID. Marking happens
// under the same latch as the write so the buffer pool never sees a modified page that looks clean.
func (hp *HeapPage) InsertTuple(txnID transaction.TxnID, data []byte) (int, error) {
	if len(data) != hp.tupleSize {
		return 0, fmt.Errorf("got %d bytes, slot size is %d: %w", len(data), hp.tupleSize, ErrTupleSize)
	}

	hp.WLatch()
	defer hp.WUnlatch()

	for i := 0; i < hp.numSlots; i++ {
		if hp.isSlotUsed(i) {
			continue
		}

		copy(hp.data[hp.slotOffset(i):], data)
		hp.setSlotUsed(i, true)
		hp.dirtier = txnID
		return i, nil
	}

	return 0, ErrPageFull
}

// DeleteTuple frees the slot and zeroes its bytes.
func (hp *HeapPage) DeleteTuple(txnID transaction.TxnID, slot int) error {
	hp.WLatch()
	defer hp.WUnlatch()

	if slot < 0 || slot >= hp.numSlots {
		return fmt.Errorf("slot %d of %v: %w", slot, hp.pageId, ErrSlotOutOfRange)
	}
	if !hp.isSlotUsed(slot) {
		return fmt.Errorf("slot %d of %v: %w", slot, hp.pageId, ErrSlotEmpty)
	}

	off := hp.slotOffset(slot)
	clear(hp.data[off : off+hp.tupleSize])
	hp.setSlotUsed(slot, false)
	hp.dirtier = txnID
	return nil
}

func (hp *HeapPage) GetTuple(slot int) ([]byte, error) {
	hp.RLatch()
	defer hp.RUnLatch()

	if slot < 0 || slot >= hp.numSlots {
		return nil, ErrSlotOutOfRange
	}
	if !hp.isSlotUsed(slot) {
		return nil, ErrSlotEmpty
	}

	off := hp.slotOffset(slot)
	res := make([]byte, hp.tupleSize)
	copy(res, hp.data[off:off+hp.tupleSize])
	return res, nil
}

// Tuples returns a snapshot of every used slot in slot order.
func (hp *HeapPage) Tuples() []SlotTuple {
	hp.RLatch()
	defer hp.RUnLatch()

	res := make([]SlotTuple, 0)
	for i := 0; i < hp.numSlots; i++ {
		if !hp.isSlotUsed(i) {
			continue
		}
		off := hp.slotOffset(i)
		d := make([]byte, hp.tupleSize)
		copy(d, hp.data[off:off+hp.tupleSize])
		res = append(res, SlotTuple{Slot: i, Data: d})
	}
	return res
}

func (hp *HeapPage) slotOffset(slot int) int {
	return hp.headerSize + slot*hp.tupleSize
}

func (hp *HeapPage) isSlotUsed(slot int) bool {
	return hp.data[slot/8]&(1<<(slot%8)) != 0
}

func (hp *HeapPage) setSlotUsed(slot int, used bool) {
	if used {
		hp.data[slot/8] |= 1 << (slot % 8)
	} else {
		hp.data[slot/8] &^= 1 << (slot % 8)
	}
}
