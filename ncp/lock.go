package ncp

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// goid returns the id of the calling goroutine, read from the header line
// of its stack trace ("goroutine 18 [running]:").
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseInt(s[:i], 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// txnLock is the command transaction lock. It is a one slot semaphore
// rather than a sync.Mutex so acquisition can be bounded by a context.
type txnLock struct {
	sem chan struct{}

	// Goroutine ids of the running workers, 0 when stopped. Neither may
	// ever hold the lock.
	ingestID   atomic.Int64
	dispatchID atomic.Int64
}

func newTxnLock() *txnLock {
	return &txnLock{sem: make(chan struct{}, 1)}
}

// onWorker reports whether the caller is the ingestion or the event
// dispatch goroutine.
func (l *txnLock) onWorker() bool {
	id := goid()
	if id == 0 {
		return false
	}
	return id == l.ingestID.Load() || id == l.dispatchID.Load()
}

// acquire waits for the lock until ctx is done or, when ctx has no
// deadline, for at most timeout.
func (l *txnLock) acquire(ctx context.Context, timeout time.Duration) bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
	}

	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case l.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *txnLock) release() {
	<-l.sem
}
