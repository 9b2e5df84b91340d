// Package bacmetrics exposes Prometheus metrics for a running bacstackd
// node: FDT/BDT table sizes, BVLL frame counters by function code,
// foreign-device registration outcomes, and BBMD redistribution fan-out
// counts.
package bacmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bacstack/bacstack/internal/bvll"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "bacstack"
	subsystem = "bip"
)

// Label names for bacstack metrics.
const (
	labelFunction = "function"
	labelOutcome  = "outcome"
	labelRole     = "role"
)

// Registration outcome label values, used with RegistrationOutcomes.
const (
	OutcomeRegistered   = "registered"
	OutcomeUnregistered = "unregistered"
	OutcomeNAK          = "nak"
	OutcomeTimeout      = "timeout"
)

// -------------------------------------------------------------------------
// Collector — Prometheus BACnet/IP Metrics
// -------------------------------------------------------------------------

// Collector holds all bacstack Prometheus metrics.
//
//   - FDTSize/BDTSize are gauges tracking current table sizes on a BBMD.
//   - FramesSent/FramesReceived count BVLL frames by function code, for
//     traffic-shape visibility.
//   - RegistrationOutcomes counts BIPForeign registration attempts by
//     their terminal outcome.
//   - RedistributionFanout counts how many recipients each broadcast a
//     BBMD redistributes is sent to, across BDT peers and registered
//     foreign devices.
type Collector struct {
	// FDTSize is the current Foreign Device Table row count on a BBMD.
	FDTSize prometheus.Gauge

	// BDTSize is the current Broadcast Distribution Table row count on a BBMD.
	BDTSize prometheus.Gauge

	// FramesSent counts BVLL frames transmitted, labeled by function code.
	FramesSent *prometheus.CounterVec

	// FramesReceived counts BVLL frames received, labeled by function code.
	FramesReceived *prometheus.CounterVec

	// RegistrationOutcomes counts BIPForeign registration attempts,
	// labeled by outcome (registered/unregistered/nak/timeout).
	RegistrationOutcomes *prometheus.CounterVec

	// RedistributionFanout counts BBMD broadcast redistribution targets,
	// labeled by recipient role ("bdt" or "fdt").
	RedistributionFanout *prometheus.CounterVec
}

// NewCollector creates a Collector with all bacstack metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FDTSize,
		c.BDTSize,
		c.FramesSent,
		c.FramesReceived,
		c.RegistrationOutcomes,
		c.RedistributionFanout,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	functionLabels := []string{labelFunction}
	outcomeLabels := []string{labelOutcome}
	fanoutLabels := []string{labelRole}

	return &Collector{
		FDTSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fdt_size",
			Help:      "Current number of rows in the Foreign Device Table.",
		}),

		BDTSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bdt_size",
			Help:      "Current number of rows in the Broadcast Distribution Table.",
		}),

		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total BVLL frames transmitted, by function code.",
		}, functionLabels),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total BVLL frames received, by function code.",
		}, functionLabels),

		RegistrationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "registration_outcomes_total",
			Help:      "Total BIPForeign registration attempts, by outcome.",
		}, outcomeLabels),

		RedistributionFanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redistribution_fanout_total",
			Help:      "Total BBMD broadcast redistribution deliveries, by recipient role.",
		}, fanoutLabels),
	}
}

// -------------------------------------------------------------------------
// Table Size Gauges
// -------------------------------------------------------------------------

// SetFDTSize sets the Foreign Device Table size gauge. Called after every
// FDT mutation (register, delete, expiry tick).
func (c *Collector) SetFDTSize(n int) {
	c.FDTSize.Set(float64(n))
}

// SetBDTSize sets the Broadcast Distribution Table size gauge. Called
// after every BDT replacement.
func (c *Collector) SetBDTSize(n int) {
	c.BDTSize.Set(float64(n))
}

// -------------------------------------------------------------------------
// Frame Counters
// -------------------------------------------------------------------------

// IncFramesSent increments the transmitted-frames counter for fn.
func (c *Collector) IncFramesSent(fn bvll.Function) {
	c.FramesSent.WithLabelValues(fn.String()).Inc()
}

// IncFramesReceived increments the received-frames counter for fn.
func (c *Collector) IncFramesReceived(fn bvll.Function) {
	c.FramesReceived.WithLabelValues(fn.String()).Inc()
}

// -------------------------------------------------------------------------
// Registration Outcomes
// -------------------------------------------------------------------------

// IncRegistrationOutcome increments the registration-outcome counter for
// outcome (one of the Outcome* constants).
func (c *Collector) IncRegistrationOutcome(outcome string) {
	c.RegistrationOutcomes.WithLabelValues(outcome).Inc()
}

// -------------------------------------------------------------------------
// Redistribution Fan-out
// -------------------------------------------------------------------------

// AddRedistributionFanout adds n deliveries to the redistribution-fanout
// counter for role ("bdt" or "fdt").
func (c *Collector) AddRedistributionFanout(role string, n int) {
	if n <= 0 {
		return
	}
	c.RedistributionFanout.WithLabelValues(role).Add(float64(n))
}
