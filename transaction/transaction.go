package transaction

import (
	"fmt"
	"heapdb/common"
	"sync/atomic"
	"time"
)

// Permissions is the access intent a transaction declares when it asks for a page. ReadOnly maps to a shared
// lock and ReadWrite maps to an exclusive lock.
type Permissions int

const (
	ReadOnly Permissions = iota
	ReadWrite
)

func (p Permissions) String() string {
	return common.Ternary(p == ReadWrite, "READ_WRITE", "READ_ONLY")
}

type TxnID uint64

// NoTxn is never handed out by Begin. It marks the absence of a transaction, e.g. a clean page's dirtier.
const NoTxn TxnID = 0

type Transaction interface {
	GetID() TxnID
	StartTime() time.Time
}

var txnCounter atomic.Uint64

var _ Transaction = &txn{}

type txn struct {
	id    TxnID
	start time.Time
}

func (t *txn) GetID() TxnID {
	return t.id
}

func (t *txn) StartTime() time.Time {
	return t.start
}

func (t *txn) String() string {
	return fmt.Sprintf("txn{id=%d}", t.id)
}

// Begin creates a transaction with a process-wide unique, monotonically increasing id.
func Begin() Transaction {
	return &txn{
		id:    TxnID(txnCounter.Add(1)),
		start: time.Now(),
	}
}

// WithID wraps an already known id, for example one read back from the log. It does not advance the counter, so
// the caller is responsible for not mixing it with live transactions that may share the id.
func WithID(id TxnID) Transaction {
	return &txn{id: id}
}
