package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryStats is a snapshot of cumulative delivery outcomes.
type DeliveryStats struct {
	Delivered uint64
	Failed    uint64
	Expired   uint64
	Retries   uint64
}

// DeliveryStatsProvider exposes the dispatcher's outcome counters.
type DeliveryStatsProvider interface {
	Stats() DeliveryStats
}

// TokenCounter returns the number of device tokens in storage.
type TokenCounter interface {
	Count(ctx context.Context) (int64, error)
}

// ApplicationCounter exposes the state of the application registry.
type ApplicationCounter interface {
	ApplicationCount() int
	InvalidApplicationCount() int
}

// Collector is a prometheus.Collector that gathers pushbridge metrics at scrape time.
type Collector struct {
	delivery     DeliveryStatsProvider
	tokens       TokenCounter
	applications ApplicationCounter
	startTime    time.Time

	// Metric descriptors.
	deliveredDesc   *prometheus.Desc
	failedDesc      *prometheus.Desc
	expiredDesc     *prometheus.Desc
	retriesDesc     *prometheus.Desc
	tokensDesc      *prometheus.Desc
	appsDesc        *prometheus.Desc
	appsInvalidDesc *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	delivery DeliveryStatsProvider,
	tokens TokenCounter,
	applications ApplicationCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		delivery:     delivery,
		tokens:       tokens,
		applications: applications,
		startTime:    startTime,

		deliveredDesc: prometheus.NewDesc(
			"pushbridge_notifications_delivered_total",
			"Push notifications accepted by the vendor",
			nil, nil,
		),
		failedDesc: prometheus.NewDesc(
			"pushbridge_notifications_failed_total",
			"Push notifications the vendor rejected or that exhausted retries",
			nil, nil,
		),
		expiredDesc: prometheus.NewDesc(
			"pushbridge_notifications_expired_total",
			"Deliveries refused because the device token expired",
			nil, nil,
		),
		retriesDesc: prometheus.NewDesc(
			"pushbridge_delivery_retries_total",
			"Delivery attempts repeated after a retriable vendor error",
			nil, nil,
		),
		tokensDesc: prometheus.NewDesc(
			"pushbridge_registered_tokens",
			"Device tokens currently held in storage",
			nil, nil,
		),
		appsDesc: prometheus.NewDesc(
			"pushbridge_applications",
			"Application bindings currently loaded",
			nil, nil,
		),
		appsInvalidDesc: prometheus.NewDesc(
			"pushbridge_applications_invalid",
			"Configuration sections rejected during the last reload",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"pushbridge_uptime_seconds",
			"Seconds since the pushbridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deliveredDesc
	ch <- c.failedDesc
	ch <- c.expiredDesc
	ch <- c.retriesDesc
	ch <- c.tokensDesc
	ch <- c.appsDesc
	ch <- c.appsInvalidDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Delivery outcome counters.
	if c.delivery != nil {
		stats := c.delivery.Stats()
		ch <- prometheus.MustNewConstMetric(
			c.deliveredDesc, prometheus.CounterValue, float64(stats.Delivered),
		)
		ch <- prometheus.MustNewConstMetric(
			c.failedDesc, prometheus.CounterValue, float64(stats.Failed),
		)
		ch <- prometheus.MustNewConstMetric(
			c.expiredDesc, prometheus.CounterValue, float64(stats.Expired),
		)
		ch <- prometheus.MustNewConstMetric(
			c.retriesDesc, prometheus.CounterValue, float64(stats.Retries),
		)
	}

	// Registered token gauge.
	if c.tokens != nil {
		count, err := c.tokens.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count tokens", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.tokensDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	// Application registry gauges.
	if c.applications != nil {
		ch <- prometheus.MustNewConstMetric(
			c.appsDesc, prometheus.GaugeValue,
			float64(c.applications.ApplicationCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.appsInvalidDesc, prometheus.GaugeValue,
			float64(c.applications.InvalidApplicationCount()),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
