package bip_test

import (
	"context"
	"testing"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bip"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/pdu"
)

// recordingServer captures downward Indication calls, standing in for
// the Multiplexer below a bip layer in these unit tests.
type recordingServer struct {
	sent []*pdu.PDU
}

func (s *recordingServer) Indication(_ context.Context, p *pdu.PDU) error {
	s.sent = append(s.sent, p)
	return nil
}

func (s *recordingServer) Response(_ context.Context, p *pdu.PDU) error { return nil }

// recordingClient captures upward Confirmation calls, standing in for the
// NPDU/application layer above a bip layer in these unit tests.
type recordingClient struct {
	confirmed []*pdu.PDU
}

func (c *recordingClient) Confirmation(_ context.Context, p *pdu.PDU) error {
	c.confirmed = append(c.confirmed, p)
	return nil
}

func (c *recordingClient) Request(_ context.Context, p *pdu.PDU) error { return nil }

func TestSimpleDownwardLocalStationSendsOriginalUnicast(t *testing.T) {
	t.Parallel()

	own := mustLocalStation(t, "192.168.1.10", 47808)
	peer := mustLocalStation(t, "192.168.1.11", 47808)
	s := bip.NewSimple(own, nil)
	server := &recordingServer{}
	s.SetServer(server)

	p := pdu.New([]byte("npdu"), pdu.AddrEndpoint(own), pdu.AddrEndpoint(peer))
	if err := s.Request(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(server.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(server.sent))
	}
	frame, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Function != bvll.FunctionOriginalUnicastNPDU {
		t.Fatalf("function = %v, want OriginalUnicastNPDU", frame.Function)
	}
	if string(frame.Payload) != "npdu" {
		t.Fatalf("payload = %q", frame.Payload)
	}
}

func TestSimpleDownwardLocalBroadcastSendsOriginalBroadcast(t *testing.T) {
	t.Parallel()

	own := mustLocalStation(t, "192.168.1.10", 47808)
	s := bip.NewSimple(own, nil)
	server := &recordingServer{}
	s.SetServer(server)

	p := pdu.New([]byte("npdu"), pdu.AddrEndpoint(own), pdu.AddrEndpoint(bacaddr.LocalBroadcast()))
	if err := s.Request(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	frame, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Function != bvll.FunctionOriginalBroadcastNPDU {
		t.Fatalf("function = %v, want OriginalBroadcastNPDU", frame.Function)
	}
}

func TestSimpleUpwardOriginalUnicastDeliversToSelf(t *testing.T) {
	t.Parallel()

	own := mustLocalStation(t, "192.168.1.10", 47808)
	peer := mustLocalStation(t, "192.168.1.20", 47808)
	s := bip.NewSimple(own, nil)
	client := &recordingClient{}
	s.SetClient(client)

	frame := bvll.Encode(bvll.Frame{Function: bvll.FunctionOriginalUnicastNPDU, Payload: []byte("npdu")})
	p := pdu.New(frame, pdu.AddrEndpoint(peer), pdu.AddrEndpoint(own))
	if err := s.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(client.confirmed) != 1 {
		t.Fatalf("confirmed = %d, want 1", len(client.confirmed))
	}
	got := client.confirmed[0]
	if !got.Source.Addr().Equal(peer) {
		t.Fatalf("source = %s, want %s", got.Source, peer)
	}
	if got.Destination.Addr().Kind != bacaddr.KindLocalStation {
		t.Fatalf("destination kind = %v, want LocalStation", got.Destination.Addr().Kind)
	}
}

func TestSimpleUpwardForwardedNPDUUsesEmbeddedOrigin(t *testing.T) {
	t.Parallel()

	own := mustLocalStation(t, "192.168.1.10", 47808)
	bbmd := mustLocalStation(t, "192.168.1.1", 47808)
	origin := mustLocalStation(t, "192.168.1.99", 47808)
	originTuple, err := origin.AddrTuple()
	if err != nil {
		t.Fatal(err)
	}
	mac, err := bacaddr.MacFromAddrPort(originTuple)
	if err != nil {
		t.Fatal(err)
	}
	var macArr [6]byte
	copy(macArr[:], mac)

	s := bip.NewSimple(own, nil)
	client := &recordingClient{}
	s.SetClient(client)

	frame := bvll.EncodeForwardedNPDU(macArr, []byte("npdu"))
	p := pdu.New(frame, pdu.AddrEndpoint(bbmd), pdu.AddrEndpoint(own))
	if err := s.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(client.confirmed) != 1 {
		t.Fatalf("confirmed = %d, want 1", len(client.confirmed))
	}
	got := client.confirmed[0]
	if !got.Source.Addr().Equal(origin) {
		t.Fatalf("source = %s, want embedded origin %s", got.Source, origin)
	}
	if got.Destination.Addr().Kind != bacaddr.KindLocalBroadcast {
		t.Fatalf("destination kind = %v, want LocalBroadcast", got.Destination.Addr().Kind)
	}
}

func TestSimpleUpwardManagementRequestRepliesNAK(t *testing.T) {
	t.Parallel()

	own := mustLocalStation(t, "192.168.1.10", 47808)
	peer := mustLocalStation(t, "192.168.1.20", 47808)
	s := bip.NewSimple(own, nil)
	server := &recordingServer{}
	s.SetServer(server)

	frame := bvll.EncodeRegisterForeignDevice(60)
	p := pdu.New(frame, pdu.AddrEndpoint(peer), pdu.AddrEndpoint(own))
	if err := s.Response(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(server.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(server.sent))
	}
	decoded, err := bvll.Decode(server.sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	code, err := bvll.DecodeResult(decoded.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if code != bvll.ResultRegisterFDNAK {
		t.Fatalf("result code = %v, want ResultRegisterFDNAK", code)
	}
}
