package bip_test

import (
	"context"
	"testing"
	"time"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bip"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/timesource"
)

func newTestBBMD(t *testing.T) (*bip.BBMD, bacaddr.Address, bacaddr.Address, bacaddr.Address) {
	t.Helper()
	own := mustLocalStation(t, "192.168.1.1", 47808)
	peer := mustLocalStation(t, "192.168.1.2", 47808)
	foreign := mustLocalStation(t, "10.0.0.5", 47808)

	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	b := bip.NewBBMD(own, 24, clock, nil)

	if err := b.BDT().Replace([]bip.BDTEntry{
		{Address: own, Mask: [4]byte{255, 255, 255, 255}},
		{Address: peer, Mask: [4]byte{255, 255, 255, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	b.FDT().Register(foreign, 300)

	return b, own, peer, foreign
}

func TestBBMDDownwardLocalBroadcastFansOutToSubnetPeerAndFDT(t *testing.T) {
	t.Parallel()

	b, own, peer, foreign := newTestBBMD(t)
	server := &recordingServer{}
	b.SetServer(server)

	p := pdu.New([]byte("npdu"), pdu.AddrEndpoint(own), pdu.AddrEndpoint(bacaddr.LocalBroadcast()))
	if err := b.Request(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(server.sent) != 3 {
		t.Fatalf("sent = %d, want 3 (local + BDT peer + FDT entry)", len(server.sent))
	}

	local, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if local.Function != bvll.FunctionOriginalBroadcastNPDU {
		t.Fatalf("first sent function = %v, want OriginalBroadcastNPDU", local.Function)
	}

	peerFwd, err := bvll.Decode(server.sent[1].Data)
	if err != nil {
		t.Fatal(err)
	}
	if peerFwd.Function != bvll.FunctionForwardedNPDU {
		t.Fatalf("second sent function = %v, want ForwardedNPDU", peerFwd.Function)
	}
	wantPeerBcast := "192.168.1.255:47808"
	if server.sent[1].Destination.String() != wantPeerBcast {
		t.Fatalf("BDT forward destination = %s, want %s", server.sent[1].Destination, wantPeerBcast)
	}

	fdtFwd, err := bvll.Decode(server.sent[2].Data)
	if err != nil {
		t.Fatal(err)
	}
	if fdtFwd.Function != bvll.FunctionForwardedNPDU {
		t.Fatalf("third sent function = %v, want ForwardedNPDU", fdtFwd.Function)
	}
	if !server.sent[2].Destination.Addr().Equal(foreign) {
		t.Fatalf("FDT forward destination = %s, want %s", server.sent[2].Destination, foreign)
	}
	_ = peer
}

func TestBBMDUpwardForwardedNPDUFromKnownPeerTwoHop(t *testing.T) {
	t.Parallel()

	b, own, peer, _ := newTestBBMD(t)
	server := &recordingServer{}
	client := &recordingClient{}
	b.SetServer(server)
	b.SetClient(client)

	origin := mustLocalStation(t, "192.168.1.9", 47808)
	originMac, err := macOf(t, origin)
	if err != nil {
		t.Fatal(err)
	}

	frame := bvll.EncodeForwardedNPDU(originMac, []byte("npdu"))
	p := pdu.New(frame, pdu.AddrEndpoint(peer), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(client.confirmed) != 1 {
		t.Fatalf("confirmed = %d, want 1", len(client.confirmed))
	}
	if !client.confirmed[0].Source.Addr().Equal(origin) {
		t.Fatalf("confirmed source = %s, want %s", client.confirmed[0].Source, origin)
	}

	// redistribute to FDT, plus local re-broadcast: 2 sends.
	if len(server.sent) != 2 {
		t.Fatalf("sent = %d, want 2 (FDT forward + local re-broadcast)", len(server.sent))
	}
}

func TestBBMDUpwardForwardedNPDUFromUnknownSourceDropped(t *testing.T) {
	t.Parallel()

	b, own, _, _ := newTestBBMD(t)
	server := &recordingServer{}
	client := &recordingClient{}
	b.SetServer(server)
	b.SetClient(client)

	stranger := mustLocalStation(t, "172.16.0.9", 47808)
	origin := mustLocalStation(t, "172.16.0.10", 47808)
	originMac, err := macOf(t, origin)
	if err != nil {
		t.Fatal(err)
	}

	frame := bvll.EncodeForwardedNPDU(originMac, []byte("npdu"))
	p := pdu.New(frame, pdu.AddrEndpoint(stranger), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(client.confirmed) != 0 || len(server.sent) != 0 {
		t.Fatalf("expected frame to be dropped, got confirmed=%d sent=%d", len(client.confirmed), len(server.sent))
	}
}

func TestBBMDDistributeBroadcastFromRegisteredForeignDevice(t *testing.T) {
	t.Parallel()

	b, own, _, foreign := newTestBBMD(t)
	server := &recordingServer{}
	client := &recordingClient{}
	b.SetServer(server)
	b.SetClient(client)

	frame := bvll.EncodeDistributeBroadcastToNetwork([]byte("npdu"))
	p := pdu.New(frame, pdu.AddrEndpoint(foreign), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(client.confirmed) != 1 {
		t.Fatalf("confirmed = %d, want 1", len(client.confirmed))
	}
	// Local subnet re-broadcast + BDT peer forward (1, self excluded);
	// FDT forward excludes the originating foreign device itself.
	if len(server.sent) != 2 {
		t.Fatalf("sent = %d, want 2 (local re-broadcast + BDT peer forward, origin FD excluded)", len(server.sent))
	}
	local, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if local.Function != bvll.FunctionForwardedNPDU {
		t.Fatalf("first sent function = %v, want ForwardedNPDU", local.Function)
	}
	if server.sent[0].Destination.Addr().Kind != bacaddr.KindLocalBroadcast {
		t.Fatalf("first sent destination = %s, want LocalBroadcast", server.sent[0].Destination)
	}
}

func TestBBMDDistributeBroadcastFromUnregisteredRepliesNAK(t *testing.T) {
	t.Parallel()

	b, own, _, _ := newTestBBMD(t)
	server := &recordingServer{}
	b.SetServer(server)

	stranger := mustLocalStation(t, "172.16.0.9", 47808)
	frame := bvll.EncodeDistributeBroadcastToNetwork([]byte("npdu"))
	p := pdu.New(frame, pdu.AddrEndpoint(stranger), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(server.sent) != 1 {
		t.Fatalf("sent = %d, want 1 (NAK reply)", len(server.sent))
	}
	decoded, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	code, err := bvll.DecodeResult(decoded.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if code != bvll.ResultDistributeBcastNAK {
		t.Fatalf("code = %v, want ResultDistributeBcastNAK", code)
	}
}

func TestBBMDRegisterForeignDeviceAddsEntryAndRepliesSuccess(t *testing.T) {
	t.Parallel()

	b, own, _, _ := newTestBBMD(t)
	server := &recordingServer{}
	b.SetServer(server)

	newFD := mustLocalStation(t, "10.0.0.9", 47808)
	frame := bvll.EncodeRegisterForeignDevice(120)
	p := pdu.New(frame, pdu.AddrEndpoint(newFD), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if !b.FDT().Contains(newFD) {
		t.Fatal("FDT should contain the newly registered device")
	}
	decoded, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	code, err := bvll.DecodeResult(decoded.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if code != bvll.ResultSuccess {
		t.Fatalf("code = %v, want ResultSuccess", code)
	}
}

func TestBBMDReadBroadcastDistributionTableRepliesWithCurrentTable(t *testing.T) {
	t.Parallel()

	b, own, _, _ := newTestBBMD(t)
	server := &recordingServer{}
	b.SetServer(server)

	requester := mustLocalStation(t, "192.168.1.20", 47808)
	frame := bvll.EncodeReadBroadcastDistributionTable()
	p := pdu.New(frame, pdu.AddrEndpoint(requester), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	decoded, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Function != bvll.FunctionReadBroadcastDistributionTableAck {
		t.Fatalf("function = %v, want ReadBroadcastDistributionTableAck", decoded.Function)
	}
	entries, err := bvll.DecodeBDTEntries(decoded.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestBBMDReadForeignDeviceTableRepliesWithCurrentEntries(t *testing.T) {
	t.Parallel()

	b, own, _, foreign := newTestBBMD(t)
	server := &recordingServer{}
	b.SetServer(server)

	requester := mustLocalStation(t, "192.168.1.20", 47808)
	frame := bvll.EncodeReadForeignDeviceTable()
	p := pdu.New(frame, pdu.AddrEndpoint(requester), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	decoded, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Function != bvll.FunctionReadForeignDeviceTableAck {
		t.Fatalf("function = %v, want ReadForeignDeviceTableAck", decoded.Function)
	}
	entries, err := bvll.DecodeFDTEntries(decoded.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].TTL != 300 {
		t.Fatalf("entries = %+v, want one entry with TTL 300", entries)
	}
	_ = foreign
}

func TestBBMDWriteBroadcastDistributionTableReplacesOnSuccess(t *testing.T) {
	t.Parallel()

	b, own, _, _ := newTestBBMD(t)
	server := &recordingServer{}
	b.SetServer(server)

	newPeer := mustLocalStation(t, "192.168.1.50", 47808)
	requester := mustLocalStation(t, "192.168.1.20", 47808)
	wireEntries := []bvll.BDTEntry{
		{IP: [4]byte{192, 168, 1, 50}, Port: 47808, Mask: [4]byte{255, 255, 255, 0}},
	}
	frame := bvll.EncodeBDTEntries(wireEntries)
	p := pdu.New(frame, pdu.AddrEndpoint(requester), pdu.AddrEndpoint(own))
	if err := b.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(b.BDT().Entries()) != 1 || !b.BDT().Entries()[0].Address.Equal(newPeer) {
		t.Fatalf("BDT = %+v, want single entry for %s", b.BDT().Entries(), newPeer)
	}

	decoded, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	code, err := bvll.DecodeResult(decoded.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if code != bvll.ResultSuccess {
		t.Fatalf("code = %v, want ResultSuccess", code)
	}
}

func TestBBMDTickExpiresForeignDeviceEntries(t *testing.T) {
	t.Parallel()

	own := mustLocalStation(t, "192.168.1.1", 47808)
	foreign := mustLocalStation(t, "10.0.0.5", 47808)
	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	b := bip.NewBBMD(own, 24, clock, nil)
	b.FDT().Register(foreign, 10) // remaining = 10 + 30s grace = 40

	b.StartTick()
	clock.RunTimeMachine(41 * time.Second)

	if b.FDT().Contains(foreign) {
		t.Fatal("FDT entry should have expired after the tick sweep")
	}
}

func macOf(t *testing.T, addr bacaddr.Address) ([6]byte, error) {
	t.Helper()
	var out [6]byte
	tuple, err := addr.AddrTuple()
	if err != nil {
		return out, err
	}
	mac, err := bacaddr.MacFromAddrPort(tuple)
	if err != nil {
		return out, err
	}
	copy(out[:], mac)
	return out, nil
}
