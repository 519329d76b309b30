// Package metrics exports Prometheus counters for the control protocol
// core: commands processed, replies sent, and events emitted. Registration
// happens once per process; handlers are safe for concurrent read from the
// administrative HTTP surface while the core itself stays single-threaded.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controld",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Commands decoded and dispatched, by kind.",
		},
		[]string{"kind"},
	)
	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controld",
			Subsystem: "dispatch",
			Name:      "replies_total",
			Help:      "Replies written to connections, by kind.",
		},
		[]string{"kind"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controld",
			Subsystem: "event",
			Name:      "emitted_total",
			Help:      "Info events emitted, by kind, counted once per event regardless of how many connections receive it.",
		},
		[]string{"kind"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "controld",
			Subsystem: "conn",
			Name:      "active",
			Help:      "Connections currently owned by the controller.",
		},
	)
	connectionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "controld",
			Subsystem: "conn",
			Name:      "closed_total",
			Help:      "Connections closed, by reason.",
		},
		[]string{"reason"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			commandsTotal,
			repliesTotal,
			eventsTotal,
			connectionsActive,
			connectionsClosedTotal,
		)
	})
}

func RecordCommand(kind uint8) {
	Register()
	commandsTotal.WithLabelValues(kindLabel(kind)).Inc()
}

func RecordReply(kind uint8) {
	Register()
	repliesTotal.WithLabelValues(kindLabel(kind)).Inc()
}

func RecordEvent(kind uint8) {
	Register()
	eventsTotal.WithLabelValues(kindLabel(kind)).Inc()
}

func ConnectionOpened() {
	Register()
	connectionsActive.Inc()
}

func ConnectionClosed(reason string) {
	Register()
	connectionsActive.Dec()
	connectionsClosedTotal.WithLabelValues(reason).Inc()
}

func kindLabel(kind uint8) string {
	return strconv.Itoa(int(kind))
}
