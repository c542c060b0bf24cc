package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tinglebot_weather"

// Metrics holds the Prometheus counters and histograms for the weather service.
type Metrics struct {
	// Generation metrics.
	WeatherGenerated   *prometheus.CounterVec // labels: village
	GenerationDuration prometheus.Histogram
	SmoothingFallbacks *prometheus.CounterVec // labels: dimension={temperature,wind,precipitation}
	SpecialWeather     *prometheus.CounterVec // labels: special

	// Persistence metrics.
	DuplicateRecoveries prometheus.Counter
	DurabilityFailures  prometheus.Counter
	ScheduleRejections  prometheus.Counter

	// Announcement metrics.
	AnnouncementsPublished *prometheus.CounterVec // labels: kind={am,pm}
	AnnouncementsFailed    *prometheus.CounterVec // labels: kind={am,pm}
	AnnouncerRunning       prometheus.Gauge
}

// NewMetrics creates and registers all weather metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.WeatherGenerated,
		m.GenerationDuration,
		m.SmoothingFallbacks,
		m.SpecialWeather,
		m.DuplicateRecoveries,
		m.DurabilityFailures,
		m.ScheduleRejections,
		m.AnnouncementsPublished,
		m.AnnouncementsFailed,
		m.AnnouncerRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// NewUnregisteredMetrics creates Metrics for processes with no /metrics
// endpoint, such as the CLI.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics(true)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		WeatherGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_generated_total",
			Help:      help("Weather records generated, by village."),
		}, []string{"village"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      help("Time spent rolling a single weather record."),
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		SmoothingFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smoothing_fallbacks_total",
			Help:      help("Rolls where smoothing filtered out every candidate and the full season list was used."),
		}, []string{"dimension"}),
		SpecialWeather: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "special_weather_total",
			Help:      help("Special weather rolled, by label."),
		}, []string{"special"}),
		DuplicateRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_recoveries_total",
			Help:      help("Concurrent generations resolved by reading the winning record."),
		}),
		DurabilityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durability_failures_total",
			Help:      help("Saved records that could not be read back."),
		}),
		ScheduleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_rejections_total",
			Help:      help("Special weather schedules refused because one was already set."),
		}),
		AnnouncementsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_published_total",
			Help:      help("Weather announcements written to Kafka, by kind."),
		}, []string{"kind"}),
		AnnouncementsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_failed_total",
			Help:      help("Weather announcements abandoned after retries, by kind."),
		}, []string{"kind"}),
		AnnouncerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "announcer_running",
			Help:      help("1 while the announcer loop is active, 0 when shut down."),
		}),
	}
}
