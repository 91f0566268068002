package playback

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const persistTimeout = 10 * time.Second

// persistJob is one queued write. A job with a nil fn is a flush marker.
type persistJob struct {
	name    string
	fn      func(ctx context.Context) error
	flushed chan struct{}
}

// persister executes store writes on one goroutine in submission order.
// Submit blocks when the queue is full so no write is ever dropped.
// Flush may be called from any goroutine, also after Close.
type persister struct {
	jobs chan persistJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newPersister(size int) *persister {
	if size <= 0 {
		size = 1
	}
	p := &persister{
		jobs: make(chan persistJob, size),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		if job.fn == nil {
			close(job.flushed)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.fn(ctx); err != nil {
			zlog.Error().Err(err).Msgf("playback: persist failed: job=%s", job.name)
		}
		cancel()
	}
}

// Submit queues a write. Writes submitted after Close are discarded.
func (p *persister) Submit(name string, fn func(ctx context.Context) error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		zlog.Warn().Msgf("playback: persist after close discarded: job=%s", name)
		return
	}
	p.jobs <- persistJob{name: name, fn: fn}
}

// Flush waits until every write submitted so far has been executed.
func (p *persister) Flush(ctx context.Context) error {
	marker := persistJob{name: "flush", flushed: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		select {
		case <-p.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case p.jobs <- marker:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close executes the remaining writes and stops the worker.
func (p *persister) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	<-p.done
}
