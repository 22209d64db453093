// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Callback    func(*Event)
	Filter      func(*Event) bool
	Unsubscribe func()
}

// Bus logs events through logrus and distributes them to subscribers.
type Bus struct {
	subscribers  []*Subscription
	mu           sync.RWMutex
	eventQueue   chan *Event
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdown     bool
	done         chan struct{}
	nextID       atomic.Int64
	logger       *log.Logger
}

// NewBus creates a bus with the given queue size. A non-positive size uses 1000.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		eventQueue: make(chan *Event, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     log.StandardLogger(),
	}
	go bus.processQueue()
	return bus
}

// SetLogger replaces the logrus logger used for event lines.
func (b *Bus) SetLogger(l *log.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l != nil {
		b.logger = l
	}
}

// LogEvent implements Sink. The event is logged synchronously and delivered
// to subscribers asynchronously. It never panics.
func (b *Bus) LogEvent(engine, message, traceID string, extra map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while logging event %q: %v", message, r)
		}
	}()

	evt := &Event{
		Timestamp: time.Now(),
		Engine:    engine,
		Message:   message,
		TraceID:   traceID,
		Extra:     copyExtra(extra),
	}

	b.mu.RLock()
	logger := b.logger
	b.mu.RUnlock()

	fields := log.Fields{"engine": engine, "trace_id": traceID}
	for k, v := range evt.Extra {
		if k == "engine" || k == "trace_id" {
			continue
		}
		fields[k] = v
	}
	entry := logger.WithFields(fields)
	if _, failed := evt.Extra["error"]; failed {
		entry.Warn(message)
	} else {
		entry.Info(message)
	}

	b.PublishAsync(evt)
}

// Subscribe registers a callback for every event.
func (b *Bus) Subscribe(callback func(*Event)) *Subscription {
	return b.SubscribeWithFilter(callback, nil)
}

// SubscribeWithFilter registers a callback with an optional filter function.
func (b *Bus) SubscribeWithFilter(callback func(*Event), filter func(*Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:       fmt.Sprintf("sub-%d", b.nextID.Add(1)),
		Callback: callback,
		Filter:   filter,
	}
	sub.Unsubscribe = func() {
		b.unsubscribe(sub)
	}
	b.subscribers = append(b.subscribers, sub)
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.ID == sub.ID {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
}

// Publish distributes an event to all subscribers synchronously.
func (b *Bus) Publish(evt *Event) {
	b.mu.RLock()
	activeSubs := make([]*Subscription, len(b.subscribers))
	copy(activeSubs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range activeSubs {
		if sub.Filter != nil && !sub.Filter(evt) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in event subscriber for %s: %v", evt.Message, r)
				}
			}()
			sub.Callback(evt)
		}()
	}
}

// PublishAsync queues an event for delivery. Events are dropped when the
// queue is full or the bus is shut down.
func (b *Bus) PublishAsync(evt *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.shutdown {
		return
	}

	select {
	case b.eventQueue <- evt:
	default:
		log.Warnf("Event queue full, dropping event: %s", evt.Message)
	}
}

func (b *Bus) processQueue() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case evt := <-b.eventQueue:
					b.Publish(evt)
				default:
					return
				}
			}
		case evt := <-b.eventQueue:
			if evt != nil {
				b.Publish(evt)
			}
		}
	}
}

// Shutdown stops accepting events, delivers the queued ones and waits for
// the processor to exit.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.shutdown = true
		b.mu.Unlock()

		b.cancel()
		<-b.done
	})
}
