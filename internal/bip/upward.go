package bip

import (
	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bvll"
)

// decodeForwardedOrigin splits a ForwardedNPDU payload into the embedded
// origin station address and the carried NPDU bytes, shared by Simple,
// Foreign, and BBMD's upward handling.
func decodeForwardedOrigin(payload []byte) (bacaddr.Address, []byte, error) {
	origin, npdu, err := bvll.DecodeForwardedNPDU(payload)
	if err != nil {
		return bacaddr.Address{}, nil, err
	}
	originAddr, err := bacaddr.NewLocalStation(origin[:])
	if err != nil {
		return bacaddr.Address{}, nil, err
	}
	return originAddr, npdu, nil
}
