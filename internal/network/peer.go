package network

import (
	"container/list"

	"github.com/opengxv/solo/internal/reactor"
	"github.com/opengxv/solo/internal/wire"
)

// Peer is a logical message endpoint bound to one Socket (spec.md §3).
// An accepted peer's lifetime equals its socket's; a connector peer is
// replaced (never resurrected) on reconnect.
type Peer struct {
	net    *Network
	socket *reactor.Socket

	accepted bool // counterparty connected to us, vs. we connected to it
	isAP     bool

	// instance is set only for a connector peer: the NetworkInstance
	// it is the current connection for.
	instance *Instance

	// calls is the list of in-flight outbound-call entries (one per
	// fiber) issued through this peer (spec.md §3: "a list of in-flight
	// outbound-call Contexts (one fiber per call)").
	calls *list.List // *callEntry

	elem *list.Element // this peer's node in Network.acceptList/connectList
}

// IsAccepted reports whether the counterparty connected to us.
func (p *Peer) IsAccepted() bool { return p.accepted }

// Instance returns the NetworkInstance this connector peer belongs to,
// or nil for an accepted peer.
func (p *Peer) Instance() *Instance { return p.instance }

func newPeer(net *Network, s *reactor.Socket, accepted bool) *Peer {
	return &Peer{net: net, socket: s, accepted: accepted, calls: list.New()}
}

// sendFrame serializes (servletID, seq, payload) and hands it to the
// reactor (spec.md §4.H.3).
func (p *Peer) sendFrame(servletID, seq uint32, payload []byte) {
	buf := wire.Encode(nil, wire.Header{ServletID: servletID, Seq: seq, Size: uint32(len(payload))}, payload)
	p.socket.Write(buf)
}

// onReadable is the Socket handler driving frame reception (spec.md
// §4.H.5): on each poll_in, parse as many whole frames as the input
// buffer contains, fully dispatching one before looking at the next
// (spec.md §5 "Ordering").
func (p *Peer) onReadable(s *reactor.Socket, ev reactor.Events) bool {
	if ev&reactor.PollClose != 0 {
		p.net.onPeerClosed(p)
		return false
	}
	if ev&reactor.PollErr != 0 {
		p.net.onPeerClosed(p)
		return false
	}
	for {
		hdr, payload, n, err := wire.Decode(s.Input())
		if err != nil {
			break // incomplete frame; wait for more bytes
		}
		if p.instance != nil {
			p.net.responseHandler(p, hdr, payload)
		} else {
			p.net.requestHandler(p, hdr, payload)
		}
		s.ConsumeInput(n)
	}
	return true
}

// cancelOutstandingCalls resumes every in-flight call Context on this
// peer with CANCEL (spec.md §5 "Cancellation": "Closing a peer while
// it has outstanding outbound calls: each such Context is resumed with
// call_result = CANCEL").
func (p *Peer) cancelOutstandingCalls() {
	for e := p.calls.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*callEntry)
		p.net.cancelCall(entry)
		e = next
	}
}
