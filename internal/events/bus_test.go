package events

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietBus(t *testing.T) (*Bus, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger := log.New()
	logger.SetOutput(buf)
	bus := NewBus(16)
	bus.SetLogger(logger)
	t.Cleanup(bus.Shutdown)
	return bus, buf
}

func TestBus_LogEventDeliversToSubscribers(t *testing.T) {
	bus, buf := quietBus(t)

	var mu sync.Mutex
	var got []*Event
	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(func(e *Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		wg.Done()
	})

	bus.LogEvent("flow", "Flow execution started", "t-1", map[string]any{"flow_key": "generate_code"})
	bus.LogEvent("flow", "Flow execution completed", "t-1", nil)
	wg.Wait()

	require.Len(t, got, 2)
	assert.Equal(t, "flow", got[0].Engine)
	assert.Equal(t, "t-1", got[0].TraceID)
	assert.Equal(t, "generate_code", got[0].Extra["flow_key"])
	assert.Contains(t, buf.String(), "Flow execution started")
}

func TestBus_FilterAndUnsubscribe(t *testing.T) {
	bus, _ := quietBus(t)

	var count int32
	sub := bus.SubscribeWithFilter(func(*Event) {
		atomic.AddInt32(&count, 1)
	}, func(e *Event) bool {
		return e.Engine == "sandbox"
	})

	bus.Publish(&Event{Engine: "router", Message: "x"})
	bus.Publish(&Event{Engine: "sandbox", Message: "y"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	sub.Unsubscribe()
	bus.Publish(&Event{Engine: "sandbox", Message: "z"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestBus_SubscriberPanicIsContained(t *testing.T) {
	bus, _ := quietBus(t)

	var called int32
	bus.Subscribe(func(*Event) { panic("boom") })
	bus.Subscribe(func(*Event) { atomic.AddInt32(&called, 1) })

	assert.NotPanics(t, func() {
		bus.Publish(&Event{Engine: "audit", Message: "m"})
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}

func TestBus_ShutdownDrainsQueue(t *testing.T) {
	bus, _ := quietBus(t)

	var count int32
	bus.Subscribe(func(*Event) { atomic.AddInt32(&count, 1) })
	for i := 0; i < 10; i++ {
		bus.LogEvent("teaching", "Recorded failure", "", nil)
	}
	bus.Shutdown()
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))

	// Events after shutdown are dropped silently.
	bus.LogEvent("teaching", "late", "", nil)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	extra := map[string]any{"k": 1}
	r.LogEvent("router", "Selected engine", "t", extra)
	extra["k"] = 2

	assert.True(t, r.Has("router", "Selected engine"))
	assert.False(t, r.Has("flow", "Selected engine"))
	assert.Equal(t, 1, r.Events()[0].Extra["k"])
}
