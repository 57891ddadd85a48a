package common

import "time"

const (
	// DefaultPageSize is the size of every page of a table file unless configured otherwise.
	DefaultPageSize = 4096

	// DefaultPoolPages is the number of pages a buffer pool caches by default.
	DefaultPoolPages = 50

	// DefaultLockWaitMax is the upper bound of the randomized window a transaction spends polling for a page lock
	// before it gives up and is aborted.
	DefaultLockWaitMax = time.Second * 2

	// DefaultLockPollInterval is the sleep between two consecutive lock acquisition attempts.
	DefaultLockPollInterval = time.Millisecond
)
