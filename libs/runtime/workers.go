package runtime

import (
	"context"
	"sync"
)

// Workers runs background loops that share one cancellable context. Stop
// cancels them and returns once every loop has exited, so resources the
// loops use can be closed afterwards.
type Workers struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkers(parent context.Context) *Workers {
	ctx, cancel := context.WithCancel(parent)
	return &Workers{ctx: ctx, cancel: cancel}
}

func (w *Workers) Go(run func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		run(w.ctx)
	}()
}

func (w *Workers) Stop() {
	w.cancel()
	w.wg.Wait()
}
