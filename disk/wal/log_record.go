package wal

import (
	"fmt"
	"heapdb/disk/pages"
	"heapdb/transaction"
)

type LSN uint64

const ZeroLSN LSN = 0

type LogRecordType uint8

const (
	TypeInvalid LogRecordType = iota
	TypeBegin
	TypeUpdate
	TypeCommit
	TypeAbort
	TypeCheckpoint
)

func (t LogRecordType) String() string {
	switch t {
	case TypeBegin:
		return "BEGIN"
	case TypeUpdate:
		return "UPDATE"
	case TypeCommit:
		return "COMMIT"
	case TypeAbort:
		return "ABORT"
	case TypeCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("INVALID(%d)", uint8(t))
	}
}

type LogRecord struct {
	T     LogRecordType
	TxnID transaction.TxnID
	Lsn   LSN

	// for update, full page images
	PageID pages.PageID
	Before []byte
	After  []byte
}

func (l *LogRecord) Type() LogRecordType {
	return l.T
}

func (l *LogRecord) GetTxnID() transaction.TxnID {
	return l.TxnID
}

func (l *LogRecord) String() string {
	if l.T == TypeUpdate {
		return fmt.Sprintf("lsn=%d %v txn=%d page=%v before=%dB after=%dB", l.Lsn, l.T, l.TxnID, l.PageID, len(l.Before), len(l.After))
	}
	return fmt.Sprintf("lsn=%d %v txn=%d", l.Lsn, l.T, l.TxnID)
}

func NewBeginLogRecord(txnID transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeBegin, TxnID: txnID}
}

// NewUpdateLogRecord logs a page write with both images so that it can be undone or redone.
func NewUpdateLogRecord(txnID transaction.TxnID, pageID pages.PageID, before, after []byte) *LogRecord {
	return &LogRecord{T: TypeUpdate, TxnID: txnID, PageID: pageID, Before: before, After: after}
}

func NewCommitLogRecord(txnID transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeCommit, TxnID: txnID}
}

func NewAbortLogRecord(txnID transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeAbort, TxnID: txnID}
}

func NewCheckpointLogRecord() *LogRecord {
	return &LogRecord{T: TypeCheckpoint}
}
