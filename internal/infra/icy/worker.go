package icy

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Title is a metadata event tagged with the playlist index it was read for.
type Title struct {
	Index int
	URL   string
	Raw   string
}

// Worker runs a Reader on its own goroutine and delivers titles on a bounded channel.
// Delivery never blocks the reader: when the channel is full the oldest pending
// title is dropped.
type Worker struct {
	reader *Reader
	index  int
	url    string
	events chan Title
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// StartWorker starts reading url in the background.
func StartWorker(ctx context.Context, index int, url string, capacity int, opts ...Option) *Worker {
	if capacity <= 0 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		index:  index,
		url:    url,
		events: make(chan Title, capacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.reader = NewReader(w.deliver, opts...)

	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	err := w.reader.Run(ctx, w.url)
	if err != nil {
		// The side channel dies quietly; playback is unaffected.
		zlog.Warn().Err(err).Msgf("icy: metadata reader stopped: index=%d url=%s", w.index, w.url)
	} else {
		zlog.Debug().Msgf("icy: metadata reader finished: index=%d url=%s", w.index, w.url)
	}

	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func (w *Worker) deliver(raw string) {
	t := Title{Index: w.index, URL: w.url, Raw: raw}
	for {
		select {
		case w.events <- t:
			return
		default:
		}
		select {
		case <-w.events:
		default:
		}
	}
}

// Events returns the title channel.
func (w *Worker) Events() <-chan Title {
	return w.events
}

// Index returns the playlist index this worker reads for.
func (w *Worker) Index() int {
	return w.index
}

// Done is closed when the read loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that ended the read loop, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stop clears the running flag, cancels the connection context and waits for
// the read loop to exit.
func (w *Worker) Stop() {
	w.reader.Stop()
	w.cancel()
	<-w.done
}
