package main

import (
	"context"
	"net/netip"

	"github.com/bacstack/bacstack/internal/bvll"
	bacmetrics "github.com/bacstack/bacstack/internal/metrics"
	"github.com/bacstack/bacstack/internal/vnet"
)

// countingConn wraps a vnet.PacketConn, incrementing the collector's
// frame counters on every read and write, labeled by BVLL function code.
// Decode failures are not counted as traffic; they surface to the caller
// unchanged and are left for the bound stack's own logging to report.
type countingConn struct {
	vnet.PacketConn

	collector *bacmetrics.Collector
}

func newCountingConn(conn vnet.PacketConn, collector *bacmetrics.Collector) vnet.PacketConn {
	if collector == nil {
		return conn
	}
	return &countingConn{PacketConn: conn, collector: collector}
}

func (c *countingConn) ReadPacket(ctx context.Context) ([]byte, vnet.PacketMeta, error) {
	data, meta, err := c.PacketConn.ReadPacket(ctx)
	if err != nil {
		return data, meta, err
	}
	if frame, decErr := bvll.Decode(data); decErr == nil {
		c.collector.IncFramesReceived(frame.Function)
	}
	return data, meta, nil
}

func (c *countingConn) WritePacket(data []byte, dst netip.AddrPort) error {
	if frame, decErr := bvll.Decode(data); decErr == nil {
		c.collector.IncFramesSent(frame.Function)
	}
	return c.PacketConn.WritePacket(data, dst)
}
