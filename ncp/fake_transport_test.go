package ncp

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// Reads block until data is fed, like a real serial port would, and return io.EOF
// once the transport is closed.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	closed   bool
	written  bytes.Buffer
	onWrite  func(p []byte)
}

// NewTestTransport creates a new test transport for testing.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
	}
}

// OnWrite installs fn to be called with every written chunk, after it has been
// recorded. fn may call Feed to script the co-processor's answer.
func (t *TestTransport) OnWrite(fn func(p []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = fn
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	t.written.Write(p)
	fn := t.onWrite
	t.mu.Unlock()

	if fn != nil {
		fn(bytes.Clone(p))
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// Feed queues data to be read by the transport, one read per call.
// This simulates receiving data from the co-processor.
func (t *TestTransport) Feed(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Written returns everything written so far.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// TestDialer hands out a fixed transport.
type TestDialer struct {
	Transport Transport
}

func (d TestDialer) Dial(context.Context) (Transport, error) {
	return d.Transport, nil
}
