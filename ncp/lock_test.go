package ncp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoid(t *testing.T) {
	self := goid()
	assert.NotZero(t, self)
	assert.Equal(t, self, goid())

	other := make(chan int64)
	go func() { other <- goid() }()
	assert.NotEqual(t, self, <-other)
}

func TestTxnLock(t *testing.T) {
	t.Run("Worker goroutines are recognized", func(t *testing.T) {
		l := newTxnLock()
		assert.False(t, l.onWorker())

		l.dispatchID.Store(goid())
		assert.True(t, l.onWorker())
		l.dispatchID.Store(0)

		l.ingestID.Store(goid())
		assert.True(t, l.onWorker())
	})

	t.Run("Acquire bounded by timeout", func(t *testing.T) {
		l := newTxnLock()
		assert.True(t, l.acquire(context.Background(), time.Second))

		start := time.Now()
		assert.False(t, l.acquire(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

		l.release()
		assert.True(t, l.acquire(context.Background(), time.Second))
	})

	t.Run("Caller deadline replaces timeout", func(t *testing.T) {
		l := newTxnLock()
		l.acquire(context.Background(), 0)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		start := time.Now()
		assert.False(t, l.acquire(ctx, time.Hour))
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestClipped(t *testing.T) {
	short := clipped{p: []byte("OK\r\n"), max: 30}
	assert.Equal(t, `"OK\r\n"`, short.LogValue().String())

	long := clipped{p: []byte("+CWLAP:(3,\"some-network\",-71,\"aa:bb\")\r\n"), max: 10}
	assert.Equal(t, `"+CWLAP:(3,"...`, long.LogValue().String())
}
