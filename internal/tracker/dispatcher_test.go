package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardForIsStable(t *testing.T) {
	for _, tag := range []string{"badge-1", "badge-2", "pump-3", ""} {
		first := shardFor(tag, 8)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		assert.Equal(t, first, shardFor(tag, 8))
	}
	assert.Equal(t, 0, shardFor("anything", 1))
}

func TestDispatcherKeepsPerTagOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}

	d := NewDispatcher(4, func(ctx context.Context, msg *ZoneMessage) {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.TagID] = append(seen[msg.TagID], msg.ZoneID)
	}, testLogger())
	d.Start(context.Background())

	for i := 0; i < 100; i++ {
		for tag := 0; tag < 10; tag++ {
			ok := d.Dispatch(&ZoneMessage{TagID: fmt.Sprintf("tag-%d", tag), ZoneID: fmt.Sprint(i)})
			assert.True(t, ok)
		}
	}
	d.Stop()

	for tag := 0; tag < 10; tag++ {
		zones := seen[fmt.Sprintf("tag-%d", tag)]
		if assert.Len(t, zones, 100) {
			for i, z := range zones {
				assert.Equal(t, fmt.Sprint(i), z)
			}
		}
	}
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := NewDispatcher(2, func(context.Context, *ZoneMessage) {}, testLogger())
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	assert.False(t, d.Dispatch(&ZoneMessage{TagID: "badge-1"}))
}

func TestDispatcherRejectsAfterCancel(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(1, func(context.Context, *ZoneMessage) { <-block }, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	// Fill the worker and its queue.
	for i := 0; i < queueSize+1; i++ {
		d.Dispatch(&ZoneMessage{TagID: "badge-1"})
	}
	cancel()
	assert.False(t, d.Dispatch(&ZoneMessage{TagID: "badge-1"}))

	close(block)
	d.Stop()
}

func TestDispatcherDrainsQueuedMessagesAfterCancel(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var handled []string
	var ctxErrs []error

	d := NewDispatcher(1, func(ctx context.Context, msg *ZoneMessage) {
		<-release
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, msg.ZoneID)
		ctxErrs = append(ctxErrs, ctx.Err())
	}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	assert.True(t, d.Dispatch(&ZoneMessage{TagID: "badge-1", ZoneID: "A"}))
	assert.True(t, d.Dispatch(&ZoneMessage{TagID: "badge-1", ZoneID: "B"}))
	cancel()
	close(release)
	d.Stop()

	assert.Equal(t, []string{"A", "B"}, handled)
	for _, err := range ctxErrs {
		assert.NoError(t, err, "handlers run with a live context while draining")
	}
}
