package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var got int32
	unsub := b.Subscribe(func(ctx context.Context, e Event) {
		atomic.AddInt32(&got, 1)
	}, TemplateSet)
	defer unsub()

	b.Publish(Event{ID: "1", Type: TemplateSet})
	b.Publish(Event{ID: "2", Type: InstanceSet})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&got) == 1 }, time.Second, time.Millisecond)
}

func TestDuplicateEventIDsNotRedelivered(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var count int32
	unsub := b.Subscribe(func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
	})
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{ID: "dup", Type: TemplateSet})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestHandlerPanicDoesNotPreventOtherDelivery(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	unsubPanic := b.Subscribe(func(ctx context.Context, e Event) {
		panic("boom")
	})
	defer unsubPanic()

	var delivered int32
	unsubOK := b.Subscribe(func(ctx context.Context, e Event) {
		atomic.StoreInt32(&delivered, 1)
		wg.Done()
	})
	defer unsubOK()

	b.Publish(Event{ID: "x", Type: TemplateSet})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber never received event after sibling panicked")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var count int32
	unsub := b.Subscribe(func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
	})

	b.Publish(Event{ID: "1", Type: TemplateSet})
	time.Sleep(50 * time.Millisecond)
	unsub()
	b.Publish(Event{ID: "2", Type: TemplateSet})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestOverflowDropsSilently(t *testing.T) {
	b := New(Config{BufferSize: 1, HandlerTimeout: time.Second})
	defer b.Close()

	block := make(chan struct{})
	var delivered int32
	unsub := b.Subscribe(func(ctx context.Context, e Event) {
		atomic.AddInt32(&delivered, 1)
		<-block
	})
	defer func() {
		close(block)
		unsub()
	}()

	for i := 0; i < 10; i++ {
		b.Publish(Event{ID: string(rune('a' + i)), Type: TemplateSet})
	}

	time.Sleep(100 * time.Millisecond)
	// Exactly one is in flight and at most one more is buffered; the rest
	// were dropped rather than blocking the publisher.
	assert.LessOrEqual(t, atomic.LoadInt32(&delivered), int32(2))
}
