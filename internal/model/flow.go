// Package model defines the core domain models for the module monitor:
// flow identity, TCP segments, module inventory records, and solutions.
package model

import (
	"fmt"
	"net"
)

// Transport identifies the transport-layer protocol of a FlowKey.
type Transport uint8

// Transport constants.
const (
	TransportUnknown Transport = iota
	TransportTCP
)

// String returns the transport name.
func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	default:
		return "unknown"
	}
}

// FlowKey is the immutable 5-tuple identifying one direction of a TCP
// connection: the game server's byte stream toward the client.
type FlowKey struct {
	SrcIP     [4]byte
	SrcPort   uint16
	DstIP     [4]byte
	DstPort   uint16
	Transport Transport
}

// NewFlowKey builds a FlowKey from IPv4 addresses and ports.
func NewFlowKey(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) FlowKey {
	var fk FlowKey
	copy(fk.SrcIP[:], srcIP.To4())
	copy(fk.DstIP[:], dstIP.To4())
	fk.SrcPort = srcPort
	fk.DstPort = dstPort
	fk.Transport = TransportTCP
	return fk
}

// String renders the flow as "src:port -> dst:port".
func (f FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d",
		net.IP(f.SrcIP[:]), f.SrcPort, net.IP(f.DstIP[:]), f.DstPort)
}

// IsZero reports whether this FlowKey is the zero value (no flow selected).
func (f FlowKey) IsZero() bool {
	return f == FlowKey{}
}
