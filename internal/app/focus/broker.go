package focus

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Broker is an in-process focus host shared by several local clients.
// Granting focus to one client revokes it from the previous holder.
type Broker struct {
	mu     sync.Mutex
	holder *Client
	deny   bool
}

// Client is one party competing for focus through a Broker.
type Client struct {
	broker    *Broker
	name      string
	transient bool
	onChange  func(Change)
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Client registers a client that takes focus durably.
func (b *Broker) Client(name string) *Client {
	return &Client{broker: b, name: name}
}

// TransientClient registers a client whose grants are short-lived, so the
// previous holder sees LossTransient instead of Loss.
func (b *Broker) TransientClient(name string) *Client {
	return &Client{broker: b, name: name, transient: true}
}

// Deny makes the broker refuse (or accept again) all requests.
func (b *Broker) Deny(deny bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deny = deny
}

// Holder returns the name of the current holder, or "".
func (b *Broker) Holder() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holder == nil {
		return ""
	}
	return b.holder.name
}

// Notify delivers a host-originated change to the current holder.
func (b *Broker) Notify(c Change) {
	b.mu.Lock()
	h := b.holder
	var cb func(Change)
	if h != nil {
		cb = h.onChange
		if c.IsLoss() {
			b.holder = nil
			h.onChange = nil
		}
	}
	b.mu.Unlock()

	if cb != nil {
		cb(c)
	}
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.name
}

// RequestFocus implements Host.
func (c *Client) RequestFocus(usage Usage, onChange func(Change)) bool {
	b := c.broker
	b.mu.Lock()
	if b.deny {
		b.mu.Unlock()
		zlog.Debug().Msgf("focus: broker denied: client=%s usage=%s", c.name, usage)
		return false
	}

	prev := b.holder
	c.onChange = onChange
	b.holder = c

	var revoke func(Change)
	if prev != nil && prev != c {
		revoke = prev.onChange
		prev.onChange = nil
	}
	b.mu.Unlock()

	if revoke != nil {
		change := Loss
		if c.transient {
			change = LossTransient
		}
		zlog.Debug().Msgf("focus: broker revoked: from=%s to=%s change=%s", prev.name, c.name, change)
		revoke(change)
	}
	return true
}

// AbandonFocus implements Host.
func (c *Client) AbandonFocus() {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holder == c {
		b.holder = nil
	}
	c.onChange = nil
}
