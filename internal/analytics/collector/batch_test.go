package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pucknotes/note-discovery/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (p *fakePublisher) Publish(ctx context.Context, ev kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{ev})
}

func (p *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestFlushOnBatchSize(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 3, time.Hour)
	for i := 0; i < 3; i++ {
		bc.Track("k", i)
	}
	require.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, bc.BufferLen())
}

func TestFinalFlushOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)
	bc.Track("a", 1)
	bc.Track("b", 2)
	cancel()
	bc.Close()
	assert.Equal(t, 2, pub.count())
}

func TestFailedFlushRequeuesAndDrops(t *testing.T) {
	pub := &fakePublisher{fail: true}
	bc := NewBatchCollector(pub, 2, time.Hour)
	bc.maxBuffered = 3

	bc.buffer = append(bc.buffer, kafka.Event{Key: "a"}, kafka.Event{Key: "b"})
	bc.Flush(context.Background())
	assert.Equal(t, 2, bc.BufferLen())

	bc.buffer = append(bc.buffer, kafka.Event{Key: "c"})
	bc.Track("d", nil)
	assert.EqualValues(t, 1, bc.Dropped())

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()
	bc.Flush(context.Background())
	require.Len(t, pub.batches, 1)
	keys := make([]string, 0, 3)
	for _, ev := range pub.batches[0] {
		keys = append(keys, ev.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
