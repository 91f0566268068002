// Package focus arbitrates exclusive audio output rights.
package focus

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Usage describes what the audio output is used for.
type Usage int

const (
	// UsageMedia is music or other media playback.
	UsageMedia Usage = iota
	// UsageAlarm is alarm or alert playback.
	UsageAlarm
)

// String returns the string representation of Usage.
func (u Usage) String() string {
	switch u {
	case UsageMedia:
		return "media"
	case UsageAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// Change is a focus change delivered by the host.
type Change int

const (
	// Loss means focus was taken away for an unknown duration.
	Loss Change = iota
	// LossTransient means focus was taken away briefly.
	LossTransient
	// CanDuck means playback may continue at reduced volume.
	CanDuck
	// Gain means focus was granted back.
	Gain
)

// String returns the string representation of Change.
func (c Change) String() string {
	switch c {
	case Loss:
		return "loss"
	case LossTransient:
		return "loss_transient"
	case CanDuck:
		return "can_duck"
	case Gain:
		return "gain"
	default:
		return "unknown"
	}
}

// IsLoss reports whether the change revokes focus.
func (c Change) IsLoss() bool {
	return c == Loss || c == LossTransient
}

// Host is the host audio system's focus API.
type Host interface {
	// RequestFocus asks for focus; onChange receives later changes for this grant.
	RequestFocus(usage Usage, onChange func(Change)) bool
	// AbandonFocus gives up the current grant.
	AbandonFocus()
}

// LossFunc is invoked synchronously when the host revokes focus.
type LossFunc func(Change)

// Arbiter tracks whether focus is held and turns involuntary loss into a pause callback.
type Arbiter struct {
	host    Host
	enabled bool
	onLoss  LossFunc

	mu   sync.Mutex
	held bool
}

// NewArbiter creates an arbiter. When enabled is false every request succeeds
// without touching the host.
func NewArbiter(host Host, enabled bool, onLoss LossFunc) *Arbiter {
	return &Arbiter{
		host:    host,
		enabled: enabled,
		onLoss:  onLoss,
	}
}

// Enabled reports whether arbitration is active.
func (a *Arbiter) Enabled() bool {
	return a.enabled
}

// RequestFocus requests media focus and reports whether it was granted.
func (a *Arbiter) RequestFocus() bool {
	if !a.enabled || a.host == nil {
		return true
	}

	a.mu.Lock()
	if a.held {
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	// The host may call back synchronously, so it is called without the lock.
	granted := a.host.RequestFocus(UsageMedia, a.handleChange)

	a.mu.Lock()
	a.held = granted
	a.mu.Unlock()

	zlog.Debug().Msgf("focus: request: granted=%t", granted)
	return granted
}

// ReleaseFocus abandons any held grant. Safe to call when nothing is held.
func (a *Arbiter) ReleaseFocus() {
	if !a.enabled || a.host == nil {
		return
	}

	a.mu.Lock()
	if !a.held {
		a.mu.Unlock()
		return
	}
	a.held = false
	a.mu.Unlock()

	a.host.AbandonFocus()
	zlog.Debug().Msg("focus: released")
}

// Held reports whether a grant is currently held.
func (a *Arbiter) Held() bool {
	if !a.enabled {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}

func (a *Arbiter) handleChange(c Change) {
	if !c.IsLoss() {
		// Ducking and regain are accepted but change nothing.
		zlog.Debug().Msgf("focus: change ignored: change=%s", c)
		return
	}

	a.mu.Lock()
	a.held = false
	a.mu.Unlock()

	zlog.Info().Msgf("focus: lost: change=%s", c)
	if a.onLoss != nil {
		a.onLoss(c)
	}
}
