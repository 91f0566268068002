// Package notification broadcasts playback notices to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/domain/track"
)

// Type identifies the kind of notice.
type Type string

const (
	TypeInitialState Type = "initial_state"
	TypeState        Type = "state"
	TypeNowPlaying   Type = "now_playing"
	TypeWarning      Type = "warning"
	TypeError        Type = "error"
	TypeBackground   Type = "background"
)

// Notice is a user-visible playback event.
type Notice struct {
	Type       Type        `json:"type"`
	SequenceNo uint64      `json:"sequenceNo"`
	Time       time.Time   `json:"time"`
	State      string      `json:"state,omitempty"`
	Index      int         `json:"index"`
	StreamName string      `json:"streamName,omitempty"`
	RawTitle   string      `json:"rawTitle,omitempty"`
	Info       *track.Info `json:"info,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Stream represents a notice stream for a subscriber.
type Stream interface {
	Send(*Notice) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

const (
	sendTimeout      = 500 * time.Millisecond
	defaultQueueSize = 64
)

// Manager manages subscriptions and delivers notices.
// Post queues a notice for in-order delivery by a background dispatcher, so
// callers are never held up by slow subscribers.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription

	sequenceNo   uint64
	sequenceNoMu sync.Mutex

	queueMu sync.RWMutex
	queue   chan *Notice
	closed  bool
	done    chan struct{}
}

// NewManager creates a manager and starts its dispatcher.
func NewManager() *Manager {
	m := &Manager{
		subscriptions: make(map[string]*subscription),
		queue:         make(chan *Notice, defaultQueueSize),
		done:          make(chan struct{}),
	}
	go m.dispatch()
	return m
}

func (m *Manager) dispatch() {
	defer close(m.done)
	for n := range m.queue {
		m.Broadcast(n)
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Post queues a notice for delivery. When the queue is full the notice is dropped.
func (m *Manager) Post(n *Notice) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- n:
	default:
		zlog.Warn().Msgf("notification: queue full, dropping notice: type=%s", n.Type)
	}
}

// Broadcast sends a notice to all subscribers and waits for every send to
// finish or time out.
func (m *Manager) Broadcast(n *Notice) {
	n.SequenceNo = m.NextSequenceNo()
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send failed: subscription=%s", s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: subscription=%s", s.id)
			}
		}(sub)
	}
	wg.Wait()
}

// Send sends a notice to a specific subscriber.
func (m *Manager) Send(subscriptionID string, n *Notice) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return sub.stream.Send(n)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close drains queued notices, stops the dispatcher and removes all subscriptions.
func (m *Manager) Close() {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.queueMu.Unlock()

	<-m.done

	m.mu.Lock()
	m.subscriptions = make(map[string]*subscription)
	m.mu.Unlock()
}
