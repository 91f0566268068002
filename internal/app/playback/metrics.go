package playback

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	stateTransitions *prometheus.CounterVec
	trackChanges     prometheus.Counter
	metadataEvents   *prometheus.CounterVec
	tracklogAppends  prometheus.Counter
	engineErrors     prometheus.Counter
	focusDenials     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "webstream_state_transitions_total", Help: "Playback state transitions"},
			[]string{"from", "to"},
		),
		trackChanges: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "webstream_track_changes_total", Help: "Confirmed playlist index changes"},
		),
		metadataEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "webstream_metadata_events_total", Help: "Deduplicated title changes"},
			[]string{"source"},
		),
		tracklogAppends: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "webstream_tracklog_appends_total", Help: "Track-log entries written"},
		),
		engineErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "webstream_engine_errors_total", Help: "Errors reported by the player engine"},
		),
		focusDenials: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "webstream_focus_denials_total", Help: "Play requests refused for lack of audio focus"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.stateTransitions, m.trackChanges, m.metadataEvents,
		m.tracklogAppends, m.engineErrors, m.focusDenials,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
	}
	return m, nil
}
