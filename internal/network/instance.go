// Package network implements the connection lifecycle, servlet-based
// load balancing, request/response correlation, call timeouts,
// cancellation, and graceful shutdown of spec.md §4.H, grounded on
// original_source/server/libs/libgx/network.h/.cpp.
package network

import (
	"github.com/opengxv/solo/internal/reactor"
)

// InstanceID identifies a NetworkInstance by (node_type, node_id)
// (spec.md §3: "Identity is (node_type, node_id_within_node)").
type InstanceID struct {
	Type uint16
	ID   uint32
}

// Instance is the configuration and live state of one remote endpoint
// (spec.md §3 NetworkInstance), grounded on network.h's
// NetworkInstance class.
type Instance struct {
	ID   InstanceID
	Host string
	Port int

	Node *Node

	IsAP    bool
	IsLocal bool

	Servlets map[uint16]bool // bitset of servlet types this instance hosts

	// Connector is non-nil for a non-AP instance this process dials.
	Connector *reactor.Connector
	// Listener is non-nil for an instance local to this process.
	Listener *reactor.Listener

	// peer is a weak (non-owning) back-reference to the current
	// connector Peer, per spec.md §9's "Cyclic ownership" design note:
	// the owning reference lives on Network.connectList.
	peer *Peer
}

// Peer returns the instance's current connector peer, or nil if none
// is connected.
func (in *Instance) Peer() *Peer { return in.peer }

// HostsServlet reports whether this instance hosts the given servlet
// type.
func (in *Instance) HostsServlet(servletType uint16) bool {
	return in.Servlets != nil && in.Servlets[servletType]
}
