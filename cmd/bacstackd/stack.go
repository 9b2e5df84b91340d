package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bip"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/config"
	bacmetrics "github.com/bacstack/bacstack/internal/metrics"
	"github.com/bacstack/bacstack/internal/mux"
	"github.com/bacstack/bacstack/internal/netio"
	"github.com/bacstack/bacstack/internal/stack"
	"github.com/bacstack/bacstack/internal/timesource"
	"github.com/bacstack/bacstack/internal/vnet"
)

// node is the daemon's running Multiplexer+BIP stack bound to a real UDP
// socket, plus the role-specific handle (bbmd or foreign) needed for
// table maintenance and the inspection endpoint.
type node struct {
	own    bacaddr.Address
	prefix int

	mux   *mux.Multiplexer
	conn  vnet.PacketConn
	bound *stack.BoundStack

	bbmd    *bip.BBMD
	foreign *bip.Foreign

	ctl *control
}

// buildNode constructs the bound stack for cfg.Node.Role, opens the real
// UDP socket, and wraps it for metrics counting. It does not start any
// goroutines; call pump to begin the delivery pump.
func buildNode(cfg *config.Config, clock timesource.TimeSource, collector *bacmetrics.Collector, logger *slog.Logger) (*node, error) {
	hs, err := cfg.Node.NodeAddr()
	if err != nil {
		return nil, fmt.Errorf("node address: %w", err)
	}

	if cfg.Node.Promiscuous || cfg.Node.Spoofing {
		// These switches act on the virtual substrate; the real UDP
		// transport cannot honor them.
		logger.Warn("promiscuous/spoofing flags have no effect on the UDP transport",
			slog.Bool("promiscuous", cfg.Node.Promiscuous),
			slog.Bool("spoofing", cfg.Node.Spoofing),
		)
	}

	conn, err := netio.Listen(hs.AddrPort)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", hs.AddrPort, err)
	}
	wrapped := newCountingConn(conn, collector)

	m := mux.New(wrapped, hs.Addr, hs.PrefixLen, logger)

	var layer stack.Layer
	n := &node{own: hs.Addr, prefix: hs.PrefixLen, mux: m, conn: wrapped}

	switch cfg.Node.Role {
	case config.RoleSimple:
		layer = bip.NewSimple(hs.Addr, logger)

	case config.RoleForeign:
		bbmdAddr, err := cfg.Node.Foreign.BBMDAddr()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("foreign bbmd address: %w", err)
		}
		n.foreign = bip.NewForeign(hs.Addr, bbmdAddr, uint16(cfg.Node.Foreign.TTL), clock, logger,
			bip.WithForeignMetrics(collector))
		layer = n.foreign

	case config.RoleBBMD:
		n.bbmd = bip.NewBBMD(hs.Addr, hs.PrefixLen, clock, logger,
			bip.WithBBMDMetrics(collector))
		entries, err := bdtEntriesFromConfig(hs, cfg.Node.BDT)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("bbmd bdt entries: %w", err)
		}
		if err := n.bbmd.BDT().Replace(entries); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("seed bdt: %w", err)
		}
		layer = n.bbmd

	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unknown node role %q", cfg.Node.Role)
	}

	bound, err := stack.Bind(layer, m)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind stack: %w", err)
	}
	n.bound = bound
	n.ctl = newControl(wrapped)

	return n, nil
}

// bdtEntriesFromConfig parses cfg.Node.BDT host specs into BDTEntry rows and
// always prepends the node's own /32 entry, dropping any listed entry for
// the node's own address: the containing BBMD is always the first row,
// with a host mask so peers forward to it by unicast.
func bdtEntriesFromConfig(own bacaddr.HostSpec, specs []string) ([]bip.BDTEntry, error) {
	entries := make([]bip.BDTEntry, 0, len(specs)+1)
	entries = append(entries, bip.BDTEntry{Address: own.Addr, Mask: prefixMask(32)})

	for i, spec := range specs {
		hs, err := bacaddr.ParseHostSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("bdt[%d] %q: %w", i, spec, err)
		}
		if hs.Addr.Equal(own.Addr) {
			continue
		}
		entries = append(entries, bip.BDTEntry{Address: hs.Addr, Mask: prefixMask(hs.PrefixLen)})
	}

	return entries, nil
}

// prefixMask renders an IPv4 CIDR prefix length as a dotted-quad subnet
// mask, e.g. prefixMask(24) == {255, 255, 255, 0}.
func prefixMask(prefixLen int) [4]byte {
	var bits uint32 = 0xFFFFFFFF
	if prefixLen < 32 {
		bits <<= uint(32 - prefixLen)
	}
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], bits)
	return out
}

// pump reads packets off the node's transport and delivers them up
// through the Multiplexer until ctx is cancelled or the conn closes.
func (n *node) pump(ctx context.Context, logger *slog.Logger) {
	for {
		data, meta, err := n.conn.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "read packet failed", slog.String("error", err.Error()))
			return
		}
		if frame, decErr := bvll.Decode(data); decErr == nil {
			n.ctl.observe(frame.Function, frame)
		}

		if err := n.mux.Deliver(ctx, data, meta); err != nil {
			logger.WarnContext(ctx, "deliver failed", slog.String("error", err.Error()))
		}
	}
}

// close tears down the node's transport, unblocking pump.
func (n *node) close() error {
	return n.conn.Close()
}
