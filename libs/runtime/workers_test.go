package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkersStopWaitsForLoops(t *testing.T) {
	w := NewWorkers(context.Background())
	var exited atomic.Int32
	for i := 0; i < 3; i++ {
		w.Go(func(ctx context.Context) {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			exited.Add(1)
		})
	}
	w.Stop()
	if got := exited.Load(); got != 3 {
		t.Fatalf("Stop returned with %d of 3 loops finished", got)
	}
}

func TestWorkersFollowParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	w := NewWorkers(parent)
	done := make(chan struct{})
	w.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not observe parent cancellation")
	}
	w.Stop()
}
