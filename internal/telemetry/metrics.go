package telemetry

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/session"
)

// BotSource reports the bots currently managed.
type BotSource interface {
	Statuses() []session.Status
	Uptime() time.Duration
}

// Metrics holds the Prometheus collectors for the bot manager.
type Metrics struct {
	source   BotSource
	registry *prometheus.Registry

	botsByPhase     *prometheus.GaugeVec
	playersSeen     prometheus.Gauge
	pingMillis      *prometheus.GaugeVec
	gems            *prometheus.GaugeVec
	eventsTotal     *prometheus.CounterVec
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry and counts every
// event emitted on bus.
func NewMetrics(source BotSource, bus *events.EventBus) *Metrics {
	m := &Metrics{
		source:   source,
		registry: prometheus.NewRegistry(),
		botsByPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mori_bots",
			Help: "Number of bots by connection phase.",
		}, []string{"phase"}),
		playersSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mori_players_visible",
			Help: "Players visible across all bots' worlds.",
		}),
		pingMillis: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mori_bot_ping_milliseconds",
			Help: "Last measured round trip per bot.",
		}, []string{"bot"}),
		gems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mori_bot_gems",
			Help: "Gem balance per bot.",
		}, []string{"bot"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mori_events_total",
			Help: "Session events emitted since start, by type.",
		}, []string{"type"}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mori_uptime_seconds",
			Help: "Manager uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mori_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mori_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.botsByPhase,
		m.playersSeen,
		m.pingMillis,
		m.gems,
		m.eventsTotal,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	if bus != nil {
		bus.SubscribeAll("metrics.events", func(_ context.Context, ev events.Event) error {
			m.eventsTotal.WithLabelValues(string(ev.Type)).Inc()
			return nil
		})
	}
	return m
}

// Update refreshes all gauges from the current bots.
func (m *Metrics) Update() {
	m.botsByPhase.Reset()
	m.pingMillis.Reset()
	m.gems.Reset()

	players := 0
	for _, st := range m.source.Statuses() {
		m.botsByPhase.WithLabelValues(st.Phase.String()).Inc()
		m.pingMillis.WithLabelValues(st.ID).Set(float64(st.Ping))
		m.gems.WithLabelValues(st.ID).Set(float64(st.Gems))
		players += st.Players
	}
	m.playersSeen.Set(float64(players))
	m.uptimeSeconds.Set(m.source.Uptime().Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}
