package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most one holder, saw %d", maxActive)
	}
	if km.Len() != 0 {
		t.Errorf("expected lock table to drain, got %d entries", km.Len())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
	unlockA()
	unlockA() // release is idempotent
}

func TestNewTraceID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTraceID()
		if seen[id] {
			t.Fatalf("duplicate trace id %s", id)
		}
		seen[id] = true
	}
}
