package bip

// MetricsReporter is the observation hook a daemon attaches to a Foreign
// or BBMD layer. The interface is package-local so internal/bip never
// imports a metrics backend; internal/metrics.Collector satisfies it
// directly. A nil reporter is replaced by noopMetrics at construction.
type MetricsReporter interface {
	// IncRegistrationOutcome records the terminal outcome of a foreign
	// registration attempt: "registered", "nak", or "timeout".
	IncRegistrationOutcome(outcome string)

	// AddRedistributionFanout records how many recipients a redistributed
	// broadcast was sent to, by recipient role ("bdt" or "fdt").
	AddRedistributionFanout(role string, n int)
}

// noopMetrics discards all observations. It is the default reporter so
// layer code never nil-checks before reporting.
type noopMetrics struct{}

func (noopMetrics) IncRegistrationOutcome(string)       {}
func (noopMetrics) AddRedistributionFanout(string, int) {}

// Registration outcome label values reported by Foreign.
const (
	outcomeRegistered = "registered"
	outcomeNAK        = "nak"
	outcomeTimeout    = "timeout"
)

// Redistribution fan-out recipient roles reported by BBMD.
const (
	fanoutRoleBDT = "bdt"
	fanoutRoleFDT = "fdt"
)
