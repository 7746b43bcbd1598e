// internal/dispatch/queue_test.go
package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableturn/internal/transport"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Push(Action{Kind: Open, Handle: 1})
	q.Push(Action{Kind: Message, Handle: 1, Payload: []byte("a")})
	q.Push(Action{Kind: Close, Handle: 1})

	a, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, Open, a.Kind)

	a, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, Message, a.Kind)
	assert.Equal(t, []byte("a"), a.Payload)

	a, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, Close, a.Kind)
	assert.Equal(t, 0, q.Len())
}

// TestQueuePerHandleOrdering checks that concurrent producers cannot
// reorder the actions of a single handle.
func TestQueuePerHandleOrdering(t *testing.T) {
	q := NewQueue()
	const perHandle = 200
	handles := []transport.Handle{1, 2, 3}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h transport.Handle) {
			defer wg.Done()
			for i := 0; i < perHandle; i++ {
				q.Push(Action{Kind: Message, Handle: h, Payload: []byte{byte(i)}})
			}
		}(h)
	}
	wg.Wait()

	seen := make(map[transport.Handle]int)
	for i := 0; i < perHandle*len(handles); i++ {
		a, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, byte(seen[a.Handle]), a.Payload[0], "handle %d out of order", a.Handle)
		seen[a.Handle]++
	}
	for _, h := range handles {
		assert.Equal(t, perHandle, seen[h])
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue()
	q.Push(Action{Kind: Open, Handle: 7})
	q.Close()

	// queued actions still pop after Close
	a, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, transport.Handle(7), a.Handle)

	_, ok = q.Pop()
	assert.False(t, ok)

	// pushes after Close are discarded
	q.Push(Action{Kind: Open, Handle: 8})
	_, ok = q.Pop()
	assert.False(t, ok)
}

// TestQueueCloseWakesBlockedConsumer makes sure a consumer parked in Pop
// observes Close.
func TestQueueCloseWakesBlockedConsumer(t *testing.T) {
	q := NewQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	q.Close()
	assert.False(t, <-done)
}
