package ncp

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/ncpctl/at"
)

type event struct {
	category at.Category
	text     string
}

// harness drives a reassembler the way the ingestion worker does, through
// an rxBuffer, without any goroutine.
type harness struct {
	r      *reassembler
	rx     rxBuffer
	frames []event
	reg    *prometheus.Registry
}

func newHarness(t *testing.T, queueSize int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	h := &harness{
		rx:  rxBuffer{buf: make([]byte, DefaultRxBufferSize)},
		reg: reg,
	}
	h.r = &reassembler{
		logger:    logger,
		metrics:   m,
		pool:      newEnvelopePool(),
		responses: newQueue("response", queueSize, logger, m),
		events:    newQueue("event", queueSize, logger, m),
		recv:      &recvContexts{},
		handlers:  &registry{metrics: m},
	}
	record := HandlerFunc(func(cat at.Category, payload []byte) {
		h.frames = append(h.frames, event{cat, string(payload)})
	})
	h.r.handlers.set(at.CategoryMQTT, record)
	h.r.handlers.set(at.CategoryBLE, record)
	return h
}

func (h *harness) feed(t *testing.T, chunk string) {
	t.Helper()
	n := copy(h.rx.buf[h.rx.filled:], chunk)
	require.Equal(t, len(chunk), n, "chunk does not fit the receive buffer")
	h.rx.filled += n
	h.rx.keep(h.r.process(h.rx.buf[h.rx.consumed:h.rx.filled]))
}

// counter reads the value of an unlabelled counter.
func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func (h *harness) responses() []string {
	var out []string
	for h.r.responses.len() > 0 {
		e := <-h.r.responses.ch
		out = append(out, string(e.payload))
		e.release()
	}
	return out
}

func (h *harness) events() []event {
	var out []event
	for h.r.events.len() > 0 {
		e := <-h.r.events.ch
		out = append(out, event{e.category, string(e.payload)})
		e.release()
	}
	return out
}

type outcome struct {
	responses []string
	events    []event
	frames    []event
	netBuf    string
	mqttBuf   string
	pending   int
}

func run(t *testing.T, chunks []string) outcome {
	t.Helper()
	h := newHarness(t, DefaultQueueSize)
	net := make([]byte, 32)
	mqtt := make([]byte, 32)
	h.r.recv.set(at.CategoryNet, net)
	h.r.recv.set(at.CategoryMQTT, mqtt)

	for _, c := range chunks {
		h.feed(t, c)
	}
	return outcome{
		responses: h.responses(),
		events:    h.events(),
		frames:    h.frames,
		netBuf:    string(net[:h.lastLen(at.CategoryNet)]),
		mqttBuf:   string(mqtt[:h.lastLen(at.CategoryMQTT)]),
		pending:   h.rx.filled - h.rx.consumed,
	}
}

// lastLen is the payload length of the last frame of cat, capped to 32.
func (h *harness) lastLen(cat at.Category) int {
	if h.r.frame.category != cat {
		return 0
	}
	return min(h.r.frame.payloadLen, 32)
}

var framingCases = []struct {
	name      string
	input     string
	responses []string
	events    []event
	frames    []event
	netBuf    string
	mqttBuf   string
}{
	{
		name:      "Status line",
		input:     "OK\r\n",
		responses: []string{"OK\r\n"},
	},
	{
		name:      "Leading terminator skipped",
		input:     "\r\nOK\r\n",
		responses: []string{"OK\r\n"},
	},
	{
		name:      "Query reply and status",
		input:     "\r\n+CWMODE:1\r\n\r\nOK\r\n",
		responses: []string{"+CWMODE:1\r\n", "OK\r\n"},
	},
	{
		name:      "Prompt",
		input:     "\r\n>",
		responses: []string{"\r\n>"},
	},
	{
		name:      "Prompt after status",
		input:     "OK\r\n\r\n>",
		responses: []string{"OK\r\n", "\r\n>"},
	},
	{
		name:      "Send outcomes suppressed",
		input:     "\r\nSEND OK\r\nRecv 5 bytes\r\n\r\nSEND FAIL\r\n",
		responses: []string{"Recv 5 bytes\r\n"},
	},
	{
		name:   "Events by category",
		input:  "+CW:CONNECTED\r\n+CWLAP:(3,\"ap\",-50)\r\n+CIP:0,CONNECTED\r\n+IPD:0,5\r\n+MQTT:CONNECTED,0\r\n+BLE:CONNECTED,0\r\n",
		events: []event{
			{at.CategoryWiFi, "+CW:CONNECTED\r\n"},
			{at.CategoryWiFi, "+CWLAP:(3,\"ap\",-50)\r\n"},
			{at.CategoryNet, "+CIP:0,CONNECTED\r\n"},
			{at.CategoryNet, "+IPD:0,5\r\n"},
			{at.CategoryMQTT, "+MQTT:CONNECTED,0\r\n"},
			{at.CategoryBLE, "+BLE:CONNECTED,0\r\n"},
		},
	},
	{
		name:      "Events interleaved with responses",
		input:     "+CIP:0,CLOSED\r\n+CIPSTATE:0\r\nOK\r\n",
		responses: []string{"+CIPSTATE:0\r\n", "OK\r\n"},
		events:    []event{{at.CategoryNet, "+CIP:0,CLOSED\r\n"}},
	},
	{
		name:      "Socket payload",
		input:     "+CIPRECVDATA:5,hello\r\n\r\nOK\r\n",
		responses: []string{"+CIPRECVDATA:5,", "OK\r\n"},
		netBuf:    "hello",
	},
	{
		name:      "Socket payload with terminators inside",
		input:     "+CIPRECVDATA:8,a\r\nOK\r\n>\r\n\r\nOK\r\n",
		responses: []string{"+CIPRECVDATA:8,", "OK\r\n"},
		netBuf:    "a\r\nOK\r\n>",
	},
	{
		name:    "MQTT payload",
		input:   "+MQTT:SUBRECV:0,3,2,\"t/a\",hi\r\n+MQTT:DISCONNECTED,0\r\n",
		events:  []event{{at.CategoryMQTT, "+MQTT:DISCONNECTED,0\r\n"}},
		frames:  []event{{at.CategoryMQTT, "+MQTT:SUBRECV:0,3,2,"}},
		mqttBuf: "\"t/a\",hi",
	},
	{
		name:      "Data header that never completes is a line",
		input:     "+CIPRECVDATA:x\r\nERROR\r\n",
		responses: []string{"+CIPRECVDATA:x\r\n", "ERROR\r\n"},
	},
}

func TestReassemblerFraming(t *testing.T) {
	for _, tt := range framingCases {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, []string{tt.input})

			assert.Equal(t, tt.responses, got.responses)
			assert.Equal(t, tt.events, got.events)
			assert.Equal(t, tt.frames, got.frames)
			if tt.netBuf != "" {
				assert.Equal(t, tt.netBuf, got.netBuf)
			}
			if tt.mqttBuf != "" {
				assert.Equal(t, tt.mqttBuf, got.mqttBuf)
			}
			assert.Zero(t, got.pending)
		})
	}
}

func TestReassemblerSplitReads(t *testing.T) {
	for _, tt := range framingCases {
		t.Run(tt.name, func(t *testing.T) {
			whole := run(t, []string{tt.input})

			var bytewise []string
			for i := range len(tt.input) {
				bytewise = append(bytewise, tt.input[i:i+1])
			}
			assert.Equal(t, whole, run(t, bytewise), "byte by byte")

			rng := rand.New(rand.NewPCG(1, uint64(len(tt.input))))
			for range 20 {
				var chunks []string
				for rest := tt.input; rest != ""; {
					n := 1 + rng.IntN(len(rest))
					chunks = append(chunks, rest[:n])
					rest = rest[n:]
				}
				assert.Equal(t, whole, run(t, chunks), "chunks %q", chunks)
			}
		})
	}
}

func TestReassemblerIncompleteUnits(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "Lone terminator", input: "\r\n"},
		{name: "Line without terminator", input: "+CWMODE:1"},
		{name: "Line with bare CR", input: "OK\r"},
		{name: "Header prefix", input: "+CIPRECV"},
		{name: "Header without separator", input: "+CIPRECVDATA:12"},
		{name: "MQTT header missing message length", input: "+MQTT:SUBRECV:0,3,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultQueueSize)
			h.feed(t, tt.input)

			assert.Empty(t, h.responses())
			assert.Empty(t, h.events())
			assert.False(t, h.r.frame.active)
			assert.Equal(t, len(tt.input), h.rx.filled-h.rx.consumed)
		})
	}
}

func TestReassemblerPayloadBuffer(t *testing.T) {
	t.Run("Truncated to buffer capacity", func(t *testing.T) {
		h := newHarness(t, DefaultQueueSize)
		buf := make([]byte, 3)
		h.r.recv.set(at.CategoryNet, buf)

		h.feed(t, "+CIPRECVDATA:5,hello\r\nOK\r\n")

		assert.Equal(t, "hel", string(buf))
		assert.Equal(t, []string{"+CIPRECVDATA:5,", "OK\r\n"}, h.responses())
		assert.False(t, h.r.frame.active)
	})

	t.Run("Dropped without buffer", func(t *testing.T) {
		h := newHarness(t, DefaultQueueSize)

		h.feed(t, "+CIPRECVDATA:5,hello\r\nOK\r\n")

		assert.Equal(t, []string{"+CIPRECVDATA:5,", "OK\r\n"}, h.responses())
	})

	t.Run("No leakage into other categories", func(t *testing.T) {
		h := newHarness(t, DefaultQueueSize)
		net := make([]byte, 8)
		ble := make([]byte, 8)
		h.r.recv.set(at.CategoryNet, net)
		h.r.recv.set(at.CategoryBLE, ble)

		h.feed(t, "+BLE:NOTIDATA:1,4,ping\r\n")

		assert.Equal(t, "ping", string(ble[:4]))
		assert.Equal(t, make([]byte, 8), net)
		assert.Equal(t, []event{{at.CategoryBLE, "+BLE:NOTIDATA:1,4,"}}, h.frames)
		assert.Empty(t, h.responses())
	})

	t.Run("Cleared buffer receives nothing further", func(t *testing.T) {
		h := newHarness(t, DefaultQueueSize)
		buf := make([]byte, 8)
		h.r.recv.set(at.CategoryNet, buf)

		h.feed(t, "+CIPRECVDATA:6,abc")
		h.r.recv.clear(at.CategoryNet)
		h.feed(t, "def\r\n")

		assert.Equal(t, "abc\x00\x00\x00", string(buf[:6]))
		assert.False(t, h.r.frame.active)
	})
}

func TestReassemblerQueueOverflow(t *testing.T) {
	h := newHarness(t, 2)

	h.feed(t, "OK\r\nOK\r\nERROR\r\n+CW:A\r\n+CW:B\r\n+CW:C\r\n")

	assert.EqualValues(t, 4, h.r.pool.inUse())
	assert.Equal(t, []string{"OK\r\n", "OK\r\n"}, h.responses())
	assert.Equal(t, []event{
		{at.CategoryWiFi, "+CW:A\r\n"},
		{at.CategoryWiFi, "+CW:B\r\n"},
	}, h.events())
	assert.Zero(t, h.r.pool.inUse())
}

func TestReassemblerLongRead(t *testing.T) {
	input := strings.Repeat("OK\r\n", 1100)

	for _, size := range []int{len(input), 40, 7} {
		h := newHarness(t, 2048)
		for rest := input; rest != ""; {
			n := min(size, len(rest))
			h.feed(t, rest[:n])
			rest = rest[n:]
		}

		assert.Len(t, h.responses(), 1100, "read size %d", size)
		assert.Zero(t, h.counter(t, "ncp_parser_aborts_total"))
		assert.Zero(t, h.rx.filled)
	}
}

func TestReassemblerLoopLimit(t *testing.T) {
	h := newHarness(t, DefaultQueueSize)
	h.r.loopLimit = 2

	h.feed(t, "OK\r\nERROR\r\n+CWMODE:1\r\n")

	assert.Equal(t, []string{"OK\r\n", "ERROR\r\n"}, h.responses())
	assert.Equal(t, 1.0, h.counter(t, "ncp_parser_aborts_total"))
	assert.Zero(t, h.rx.filled, "unparsed input is dropped")

	h.r.loopLimit = 0
	h.feed(t, "OK\r\n")
	assert.Equal(t, []string{"OK\r\n"}, h.responses())
}

func TestRxBufferKeep(t *testing.T) {
	t.Run("Everything consumed", func(t *testing.T) {
		rx := rxBuffer{buf: make([]byte, 8), filled: 6}
		assert.False(t, rx.keep(0))
		assert.Zero(t, rx.filled)
		assert.Zero(t, rx.consumed)
	})

	t.Run("Remainder kept in place while room is left", func(t *testing.T) {
		rx := rxBuffer{buf: make([]byte, 8), filled: 6}
		assert.False(t, rx.keep(2))
		assert.Equal(t, 6, rx.filled)
		assert.Equal(t, 4, rx.consumed)
	})

	t.Run("Remainder moved to the front when full", func(t *testing.T) {
		rx := rxBuffer{buf: []byte("OK\r\n+CWM"), filled: 8}
		assert.False(t, rx.keep(4))
		assert.Equal(t, 4, rx.filled)
		assert.Zero(t, rx.consumed)
		assert.Equal(t, "+CWM", string(rx.buf[:4]))
	})

	t.Run("Full buffer with nothing consumed is discarded", func(t *testing.T) {
		rx := rxBuffer{buf: make([]byte, 8), filled: 8}
		assert.True(t, rx.keep(8))
		assert.Zero(t, rx.filled)
	})
}
