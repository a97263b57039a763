package worq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0x5487/matching-core/event"
	"github.com/0x5487/matching-core/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestEvent struct {
	ID    int64
	Value int64
}

func TestQueue_InvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[TestEvent](0) })
	assert.Panics(t, func() { New[TestEvent](12) })
	assert.NotPanics(t, func() { New[TestEvent](16) })
}

func TestQueue_FIFO(t *testing.T) {
	q := New[TestEvent](8)

	for i := int64(1); i <= 5; i++ {
		c, ok := q.Claim()
		require.True(t, ok)
		c.Value().ID = i
		c.Publish()
	}
	assert.Equal(t, uint64(5), q.Len())

	for i := int64(1); i <= 5; i++ {
		p, ok := q.Pop(NonBlock)
		require.True(t, ok)
		assert.Equal(t, i, p.Value().ID)
		p.Complete()
	}

	_, ok := q.Pop(NonBlock)
	assert.False(t, ok)
	_, ok = q.Pop(BlockSlot)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), q.Len())
}

func TestQueue_FullAtCapacity(t *testing.T) {
	q := New[TestEvent](4)

	for i := 0; i < 4; i++ {
		require.True(t, q.Put(TestEvent{ID: int64(i)}))
	}

	_, ok := q.Claim()
	assert.False(t, ok, "claim must fail when produce-consume == capacity")
	assert.Equal(t, q.Capacity(), q.ProducerSequence()-q.ConsumerSequence())

	p, ok := q.Pop(NonBlock)
	require.True(t, ok)
	assert.Equal(t, int64(0), p.Value().ID)
	p.Complete()

	c, ok := q.Claim()
	require.True(t, ok)
	// the completed slot is reused after capacity further claims
	assert.Equal(t, uint64(4), c.Seq())
	assert.Same(t, &q.slots[0], c.s)
	c.Publish()
}

func TestQueue_UnpublishedSlot(t *testing.T) {
	q := New[TestEvent](4)

	c, ok := q.Claim()
	require.True(t, ok)

	_, ok = q.Pop(NonBlock)
	assert.False(t, ok, "claimed but unpublished slot is not visible")

	got := make(chan int64, 1)
	go func() {
		p, ok := q.Pop(BlockSlot)
		if ok {
			got <- p.Value().ID
			p.Complete()
		}
	}()

	time.Sleep(10 * time.Millisecond)
	c.Value().ID = 42
	c.Publish()

	select {
	case id := <-got:
		assert.Equal(t, int64(42), id)
	case <-time.After(time.Second):
		t.Fatal("BlockSlot did not observe the publish")
	}
}

func TestQueue_BlockWaitsForProduction(t *testing.T) {
	q := New[TestEvent](4, WithStrategy(wait.NewPark(time.Millisecond)))

	got := make(chan int64, 1)
	go func() {
		p, _ := q.Pop(Block)
		got <- p.Value().ID
		p.Complete()
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Put(TestEvent{ID: 7}))

	select {
	case id := <-got:
		assert.Equal(t, int64(7), id)
	case <-time.After(time.Second):
		t.Fatal("Block pop never returned")
	}
}

func TestQueue_HandleInvalidAfterTransition(t *testing.T) {
	q := New[TestEvent](2)

	c, ok := q.Claim()
	require.True(t, ok)
	c.Publish()
	assert.Panics(t, func() { _ = c.Value().ID })

	p, ok := q.Pop(NonBlock)
	require.True(t, ok)
	p.Complete()
	assert.Panics(t, func() { _ = p.Value().ID })
}

func TestQueue_Notifier(t *testing.T) {
	m := event.NewManager()
	var drained atomic.Int64

	var q *Queue[TestEvent]
	e := m.AddManaged("drain", func() {
		for {
			p, ok := q.Pop(BlockSlot)
			if !ok {
				return
			}
			drained.Add(1)
			p.Complete()
		}
	})
	q = New[TestEvent](16, WithNotifier(e))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = m.Run(ctx)
	}()

	for i := 0; i < 10; i++ {
		require.True(t, q.Put(TestEvent{ID: int64(i)}))
	}

	assert.Eventually(t, func() bool {
		return drained.Load() == 10
	}, time.Second, time.Millisecond)
}

func TestQueue_MultiProducer(t *testing.T) {
	const (
		producers = 8
		perProd   = 2_000
	)

	q := New[TestEvent](256)
	var wg sync.WaitGroup

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				for !q.Put(TestEvent{ID: int64(p), Value: int64(i)}) {
					time.Sleep(time.Microsecond)
				}
			}
		}(p)
	}

	last := make([]int64, producers)
	for i := range last {
		last[i] = -1
	}

	received := 0
	deadline := time.Now().Add(10 * time.Second)
	for received < producers*perProd && time.Now().Before(deadline) {
		p, ok := q.Pop(BlockSlot)
		if !ok {
			continue
		}
		ev := *p.Value()
		p.Complete()

		// per-producer publish order is preserved
		assert.Equal(t, last[ev.ID]+1, ev.Value)
		last[ev.ID] = ev.Value
		received++
	}
	wg.Wait()

	assert.Equal(t, producers*perProd, received)
}

func BenchmarkQueue_PutPop(b *testing.B) {
	q := New[TestEvent](1024)
	for i := 0; i < b.N; i++ {
		q.Put(TestEvent{ID: int64(i)})
		p, _ := q.Pop(NonBlock)
		p.Complete()
	}
}
