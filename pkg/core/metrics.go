package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики ядра для внешнего мониторинга.
type Metrics struct {
	eventsTotal     *prometheus.CounterVec
	eventDuration   prometheus.Histogram
	callsTotal      *prometheus.CounterVec
	callsActive     prometheus.Gauge
	declinesTotal   *prometheus.CounterVec
	conferencesLive prometheus.Gauge
	deferredTasks   prometheus.Counter
}

// NewMetrics регистрирует метрики ядра в реестре reg. При nil
// используется глобальный реестр по умолчанию.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "events_total",
			Help:      "Processed signaling events by kind",
		}, []string{"kind"}),
		eventDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "event_duration_seconds",
			Help:      "Duration of one event-processing turn",
			Buckets:   prometheus.DefBuckets,
		}),
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "calls_total",
			Help:      "Created call sessions by direction",
		}, []string{"direction"}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "calls_active",
			Help:      "Currently registered calls",
		}),
		declinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "declines_total",
			Help:      "Locally declined transactions by reason",
		}, []string{"reason"}),
		conferencesLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "conferences_live",
			Help:      "Currently registered conferences",
		}),
		deferredTasks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtc",
			Subsystem: "core",
			Name:      "deferred_tasks_total",
			Help:      "Actions postponed to a later processing turn",
		}),
	}
}
