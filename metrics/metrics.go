// Package metrics exports the state of a data log as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/ecutune/datalog"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datalog"

// Metrics holds the collectors fed by one or more attached logs. All
// collectors are safe to update from the producer goroutine while being
// scraped.
type Metrics struct {
	readings         *prometheus.CounterVec
	channelValue     *prometheus.GaugeVec
	minValue         prometheus.Gauge
	maxValue         prometheus.Gauge
	maxTime          prometheus.Gauge
	subscriberErrors prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings added to the log, by channel.",
		}, []string{"channel"}),
		channelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Most recent reading of each channel.",
		}, []string{"channel"}),
		minValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_value",
			Help:      "Smallest value logged in the session.",
		}),
		maxValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_value",
			Help:      "Largest value logged in the session.",
		}),
		maxTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_time_ms",
			Help:      "Latest reading time in milliseconds since session start.",
		}),
		subscriberErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_errors_total",
			Help:      "Readings whose notification failed in a subscriber.",
		}),
	}

	collectors := []prometheus.Collector{
		m.readings, m.channelValue, m.minValue, m.maxValue, m.maxTime, m.subscriberErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register datalog metrics: %w", err)
		}
	}

	return m, nil
}

// Attach subscribes m to every reading added to dl. A nil name formats the
// channel with fmt.
func Attach[C comparable](m *Metrics, dl *datalog.DataLog[C], name func(C) string) *datalog.Connection {
	if name == nil {
		name = func(ch C) string { return fmt.Sprint(ch) }
	}

	return dl.OnAdd(func(series *datalog.Series[C], entry datalog.Reading) error {
		channel := name(series.Channel)
		m.readings.WithLabelValues(channel).Inc()
		m.channelValue.WithLabelValues(channel).Set(entry.Value)
		m.minValue.Set(dl.MinValue())
		m.maxValue.Set(dl.MaxValue())
		m.maxTime.Set(float64(dl.MaxTime()))
		return nil
	})
}

// RecordSubscriberError counts a failed notification reported by Add.
func (m *Metrics) RecordSubscriberError() {
	m.subscriberErrors.Inc()
}
