package bacmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	bacmetrics "github.com/bacstack/bacstack/internal/metrics"

	"github.com/bacstack/bacstack/internal/bvll"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bacmetrics.NewCollector(reg)

	if c.FDTSize == nil {
		t.Error("FDTSize is nil")
	}
	if c.BDTSize == nil {
		t.Error("BDTSize is nil")
	}
	if c.FramesSent == nil {
		t.Error("FramesSent is nil")
	}
	if c.FramesReceived == nil {
		t.Error("FramesReceived is nil")
	}
	if c.RegistrationOutcomes == nil {
		t.Error("RegistrationOutcomes is nil")
	}
	if c.RedistributionFanout == nil {
		t.Error("RedistributionFanout is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestTableSizeGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bacmetrics.NewCollector(reg)

	c.SetFDTSize(3)
	c.SetBDTSize(2)

	if got := gaugeValue(t, c.FDTSize); got != 3 {
		t.Errorf("FDTSize = %v, want 3", got)
	}
	if got := gaugeValue(t, c.BDTSize); got != 2 {
		t.Errorf("BDTSize = %v, want 2", got)
	}

	c.SetFDTSize(0)
	if got := gaugeValue(t, c.FDTSize); got != 0 {
		t.Errorf("FDTSize after reset = %v, want 0", got)
	}
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bacmetrics.NewCollector(reg)

	c.IncFramesSent(bvll.FunctionOriginalUnicastNPDU)
	c.IncFramesSent(bvll.FunctionOriginalUnicastNPDU)
	c.IncFramesReceived(bvll.FunctionForwardedNPDU)

	sentCounter, err := c.FramesSent.GetMetricWithLabelValues(bvll.FunctionOriginalUnicastNPDU.String())
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, sentCounter); got != 2 {
		t.Errorf("FramesSent[OriginalUnicastNPDU] = %v, want 2", got)
	}

	recvCounter, err := c.FramesReceived.GetMetricWithLabelValues(bvll.FunctionForwardedNPDU.String())
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, recvCounter); got != 1 {
		t.Errorf("FramesReceived[ForwardedNPDU] = %v, want 1", got)
	}
}

func TestRegistrationOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bacmetrics.NewCollector(reg)

	c.IncRegistrationOutcome(bacmetrics.OutcomeRegistered)
	c.IncRegistrationOutcome(bacmetrics.OutcomeTimeout)
	c.IncRegistrationOutcome(bacmetrics.OutcomeRegistered)

	registered, err := c.RegistrationOutcomes.GetMetricWithLabelValues(bacmetrics.OutcomeRegistered)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, registered); got != 2 {
		t.Errorf("RegistrationOutcomes[registered] = %v, want 2", got)
	}
}

func TestRedistributionFanout(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := bacmetrics.NewCollector(reg)

	c.AddRedistributionFanout("bdt", 3)
	c.AddRedistributionFanout("fdt", 5)
	c.AddRedistributionFanout("fdt", 0) // no-op

	bdt, err := c.RedistributionFanout.GetMetricWithLabelValues("bdt")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, bdt); got != 3 {
		t.Errorf("RedistributionFanout[bdt] = %v, want 3", got)
	}

	fdt, err := c.RedistributionFanout.GetMetricWithLabelValues("fdt")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if got := counterValue(t, fdt); got != 5 {
		t.Errorf("RedistributionFanout[fdt] = %v, want 5", got)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
