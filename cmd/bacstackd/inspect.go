package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/config"
)

// controlTimeout bounds how long an inspection-endpoint-issued management
// request waits for a peer's reply frame.
const controlTimeout = 3 * time.Second

// bdtEntryView is the JSON shape of one BDT row, for bacstackctl bdt.
type bdtEntryView struct {
	Address string `json:"address"`
	Mask    string `json:"mask"`
}

// fdtEntryView is the JSON shape of one FDT row, for bacstackctl fdt.
type fdtEntryView struct {
	Address   string `json:"address"`
	TTL       uint16 `json:"ttl"`
	Remaining int32  `json:"remaining"`
}

// statusView is the JSON shape returned by GET /status.
type statusView struct {
	Role   string `json:"role"`
	Addr   string `json:"addr"`
	Prefix int    `json:"prefix"`

	ForeignState string `json:"foreign_state,omitempty"`
	BDTSize      *int   `json:"bdt_size,omitempty"`
	FDTSize      *int   `json:"fdt_size,omitempty"`
}

// newInspectMux builds the JSON inspection HTTP handler bacstackctl queries
// for BDT/FDT/session snapshots and management requests.
func newInspectMux(cfg *config.Config, n *node) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", handleStatus(cfg, n))
	mux.HandleFunc("GET /bdt", handleBDT(n))
	mux.HandleFunc("GET /fdt", handleFDT(n))
	mux.HandleFunc("GET /read-bdt", handleReadBDT(n))
	mux.HandleFunc("POST /register", handleRegister(n))
	mux.HandleFunc("POST /distribute", handleDistribute(n))
	return mux
}

func handleStatus(cfg *config.Config, n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		view := statusView{Role: cfg.Node.Role, Addr: n.own.String(), Prefix: n.prefix}
		if n.bbmd != nil {
			bdtN := len(n.bbmd.BDT().Entries())
			fdtN := len(n.bbmd.FDT().Entries())
			view.BDTSize, view.FDTSize = &bdtN, &fdtN
		}
		if n.foreign != nil {
			view.ForeignState = n.foreign.State().String()
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleBDT(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if n.bbmd == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("node is not running the bbmd role"))
			return
		}
		entries := n.bbmd.BDT().Entries()
		out := make([]bdtEntryView, len(entries))
		for i, e := range entries {
			out[i] = bdtEntryView{Address: e.Address.String(), Mask: maskString(e.Mask)}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleFDT(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if n.bbmd == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("node is not running the bbmd role"))
			return
		}
		entries := n.bbmd.FDT().Entries()
		out := make([]fdtEntryView, len(entries))
		for i, e := range entries {
			out[i] = fdtEntryView{Address: e.Address.String(), TTL: e.TTL, Remaining: e.Remaining}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleReadBDT issues a live Read-Broadcast-Distribution-Table request to
// the ?target= peer and returns its Ack reply, for bacstackctl read-bdt.
func handleReadBDT(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := netip.ParseAddrPort(r.URL.Query().Get("target"))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("target: %w", err))
			return
		}

		req := bvll.EncodeReadBroadcastDistributionTable()
		frame, err := n.ctl.requestReply(r.Context(), target, req, bvll.FunctionReadBroadcastDistributionTableAck, controlTimeout)
		if err != nil {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}

		wire, err := bvll.DecodeBDTEntries(frame.Payload)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Errorf("decode reply: %w", err))
			return
		}

		out := make([]bdtEntryView, len(wire))
		for i, e := range wire {
			addr, err := bacaddr.LocalStationFromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(e.IP), e.Port))
			if err != nil {
				continue
			}
			out[i] = bdtEntryView{Address: addr.String(), Mask: maskString(e.Mask)}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type registerRequest struct {
	Target string `json:"target"`
	TTL    uint16 `json:"ttl"`
}

type registerResponse struct {
	Result string `json:"result"`
}

// handleRegister issues a live Register-Foreign-Device request to the
// request body's target, for bacstackctl register.
func handleRegister(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		target, err := netip.ParseAddrPort(req.Target)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("target: %w", err))
			return
		}

		payload := bvll.EncodeRegisterForeignDevice(req.TTL)
		frame, err := n.ctl.requestReply(r.Context(), target, payload, bvll.FunctionResult, controlTimeout)
		if err != nil {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}

		code, err := bvll.DecodeResult(frame.Payload)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Errorf("decode result: %w", err))
			return
		}
		writeJSON(w, http.StatusOK, registerResponse{Result: resultCodeName(code)})
	}
}

type distributeRequest struct {
	Target  string `json:"target"`
	NPDUHex string `json:"npdu_hex"`
}

type distributeResponse struct {
	Result string `json:"result"`
}

// handleDistribute issues a live Distribute-Broadcast-To-Network request,
// for bacstackctl distribute. A BBMD only replies on failure, so a
// controlTimeout elapsing with no reply is reported as success.
func handleDistribute(n *node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req distributeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		target, err := netip.ParseAddrPort(req.Target)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("target: %w", err))
			return
		}
		npdu, err := hex.DecodeString(req.NPDUHex)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("npdu_hex: %w", err))
			return
		}

		payload := bvll.EncodeDistributeBroadcastToNetwork(npdu)
		frame, err := n.ctl.requestReply(r.Context(), target, payload, bvll.FunctionResult, controlTimeout)
		switch {
		case err == nil:
			code, decErr := bvll.DecodeResult(frame.Payload)
			if decErr != nil {
				writeError(w, http.StatusBadGateway, fmt.Errorf("decode result: %w", decErr))
				return
			}
			writeJSON(w, http.StatusOK, distributeResponse{Result: resultCodeName(code)})
		case errors.Is(err, ErrControlTimeout):
			writeJSON(w, http.StatusOK, distributeResponse{Result: "accepted (no nak within timeout)"})
		default:
			writeError(w, http.StatusGatewayTimeout, err)
		}
	}
}

func maskString(mask [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3])
}

var resultCodeNames = map[bvll.ResultCode]string{
	bvll.ResultSuccess:            "success",
	bvll.ResultWriteBDTNAK:        "write-bdt-nak",
	bvll.ResultReadBDTNAK:         "read-bdt-nak",
	bvll.ResultRegisterFDNAK:      "register-fd-nak",
	bvll.ResultReadFDTNAK:         "read-fdt-nak",
	bvll.ResultDeleteFDTNAK:       "delete-fdt-nak",
	bvll.ResultDistributeBcastNAK: "distribute-bcast-nak",
	bvll.ResultUnknownFunctionNAK: "unknown-function-nak",
}

func resultCodeName(code bvll.ResultCode) string {
	if name, ok := resultCodeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("nak(0x%04X)", uint16(code))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
