// Package integration exercises a fully bound multi-subnet BACnet/IP
// topology end to end: a broadcast originated on one vlan crossing a
// router into two peer BBMDs' networks, one of which has a foreign
// device registered — too large a setup for a single package's
// table-driven unit tests, built on the same internal/harness helpers
// those unit tests use.
package integration

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bip"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/harness"
	"github.com/bacstack/bacstack/internal/timesource"
	"github.com/bacstack/bacstack/internal/vnet"
)

func stationAddr(t *testing.T, ip string, port uint16) bacaddr.Address {
	t.Helper()
	a, err := bacaddr.LocalStationFromAddrPort(netip.AddrPortFrom(netip.MustParseAddr(ip), port))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// TestTwoBBMDRedistributionReachesPeerAndForeignDevice covers two-hop
// redistribution across a router: a local broadcast originated on vlan7
// must arrive exactly once at bbmd_8's upper layer (via ForwardedNPDU
// between the BBMDs) and exactly once at the foreign device registered
// to bbmd_8, with no loop back through either BBMD.
func TestTwoBBMDRedistributionReachesPeerAndForeignDevice(t *testing.T) {
	t.Parallel()

	vlan7 := vnet.NewNetwork(netip.MustParsePrefix("192.168.7.0/24"))
	vlan8 := vnet.NewNetwork(netip.MustParsePrefix("192.168.8.0/24"))
	vlan9 := vnet.NewNetwork(netip.MustParsePrefix("192.168.9.0/24"))

	router := vnet.NewRouter()
	router.AddNetwork(vlan7)
	router.AddNetwork(vlan8)
	router.AddNetwork(vlan9)

	clock := timesource.NewVirtualClock(time.Unix(0, 0))

	bbmd7Addr := stationAddr(t, "192.168.7.3", 47808)
	bbmd8Addr := stationAddr(t, "192.168.8.3", 47808)

	bdt := []bip.BDTEntry{
		{Address: bbmd7Addr, Mask: [4]byte{255, 255, 255, 0}},
		{Address: bbmd8Addr, Mask: [4]byte{255, 255, 255, 0}},
	}

	bbmd7Node, bbmd7 := harness.NewBBMDStation(t, vlan7, bbmd7Addr, 24, bdt, clock, nil)
	bbmd8Node, bbmd8 := harness.NewBBMDStation(t, vlan8, bbmd8Addr, 24, bdt, clock, nil)
	bbmd7.StartTick()
	bbmd8.StartTick()

	fd9Addr := stationAddr(t, "192.168.9.2", 47808)
	fd9 := harness.NewDriver(t, vlan9, fd9Addr)

	if err := fd9.SendFrame(bbmd8Addr, bvll.EncodeRegisterForeignDevice(30)); err != nil {
		t.Fatal(err)
	}
	fd9.ExpectResult(t, bvll.ResultSuccess, 0)
	if !bbmd8.FDT().Contains(fd9Addr) {
		t.Fatal("bbmd_8's FDT should contain fd_9 after registration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), harness.DefaultTimeout)
	defer cancel()

	payload := []byte{0xca, 0xfe, 0xba, 0xbe}
	if err := bbmd7Node.Send(ctx, bacaddr.LocalBroadcast(), payload); err != nil {
		t.Fatalf("bbmd_7 local broadcast: %v", err)
	}

	// The delivered NPDU's source must be the embedded origin, bbmd_7.
	got := bbmd8Node.ExpectMatch(t, bbmd7Addr, 0)
	if string(got.Data) != string(payload) {
		t.Fatalf("bbmd_8 upper layer payload = %x, want %x", got.Data, payload)
	}

	frame := fd9.ExpectFrame(t, 0)
	if frame.Function != bvll.FunctionForwardedNPDU {
		t.Fatalf("fd_9 received function = %v, want ForwardedNPDU", frame.Function)
	}
	_, npdu, err := bvll.DecodeForwardedNPDU(frame.Payload)
	if err != nil {
		t.Fatalf("decode ForwardedNPDU: %v", err)
	}
	if string(npdu) != string(payload) {
		t.Fatalf("fd_9 NPDU payload = %x, want %x", npdu, payload)
	}

	harness.ExpectNone(t, bbmd8Node, 100*time.Millisecond)
	harness.ExpectNone(t, bbmd7Node, 100*time.Millisecond)
}

// TestForeignDeviceBroadcastFansOutToPeerBBMDButNotBackToItself exercises
// the DistributeBroadcastToNetwork half of the same topology: a broadcast
// relayed on behalf of fd_9 must reach bbmd_7 (the other BDT peer) exactly
// once and must not loop back to fd_9 itself.
func TestForeignDeviceBroadcastFansOutToPeerBBMDButNotBackToItself(t *testing.T) {
	t.Parallel()

	vlan7 := vnet.NewNetwork(netip.MustParsePrefix("192.168.7.0/24"))
	vlan8 := vnet.NewNetwork(netip.MustParsePrefix("192.168.8.0/24"))
	vlan9 := vnet.NewNetwork(netip.MustParsePrefix("192.168.9.0/24"))

	router := vnet.NewRouter()
	router.AddNetwork(vlan7)
	router.AddNetwork(vlan8)
	router.AddNetwork(vlan9)

	clock := timesource.NewVirtualClock(time.Unix(0, 0))

	bbmd7Addr := stationAddr(t, "192.168.7.3", 47808)
	bbmd8Addr := stationAddr(t, "192.168.8.3", 47808)
	bdt := []bip.BDTEntry{
		{Address: bbmd7Addr, Mask: [4]byte{255, 255, 255, 0}},
		{Address: bbmd8Addr, Mask: [4]byte{255, 255, 255, 0}},
	}

	bbmd7Node, bbmd7 := harness.NewBBMDStation(t, vlan7, bbmd7Addr, 24, bdt, clock, nil)
	_, bbmd8 := harness.NewBBMDStation(t, vlan8, bbmd8Addr, 24, bdt, clock, nil)
	bbmd7.StartTick()
	bbmd8.StartTick()

	fd9Addr := stationAddr(t, "192.168.9.2", 47808)
	fd9 := harness.NewDriver(t, vlan9, fd9Addr)

	if err := fd9.SendFrame(bbmd8Addr, bvll.EncodeRegisterForeignDevice(30)); err != nil {
		t.Fatal(err)
	}
	fd9.ExpectResult(t, bvll.ResultSuccess, 0)

	// A successful distribute elicits no Result; only the NAK path replies.
	payload := []byte{0x01, 0x02}
	if err := fd9.SendFrame(bbmd8Addr, bvll.EncodeDistributeBroadcastToNetwork(payload)); err != nil {
		t.Fatal(err)
	}

	got := bbmd7Node.Expect(t, 0)
	if string(got.Data) != string(payload) {
		t.Fatalf("bbmd_7 upper layer payload = %x, want %x", got.Data, payload)
	}

	harness.ExpectNone(t, bbmd7Node, 100*time.Millisecond)
	fd9.ExpectNoFrame(t, 100*time.Millisecond)
}
