package network

import (
	"time"

	"github.com/opengxv/solo/internal/fiber"
	"github.com/opengxv/solo/internal/gxlog"
	"github.com/opengxv/solo/internal/rc"
	"github.com/opengxv/solo/internal/timer"
	"github.com/opengxv/solo/internal/wire"
)

// allocSeq returns the next non-zero sequence number, skipping zero on
// wrap (spec.md §3 "Call-seq map", §8 boundary behavior).
func (n *Network) allocSeq() uint32 {
	n.seq++
	if n.seq == 0 {
		n.seq = 1
	}
	return n.seq
}

// Send implements spec.md §4.H.3 send(): choose an instance via
// servletLB if not supplied, refuse with BUSY if its connector peer is
// absent, allocate a fresh seq, and enqueue the frame.
func (n *Network) Send(targetID uint64, servletID uint32, payload []byte, instance *Instance) (*Peer, uint32, error) {
	if instance == nil {
		instance = n.servletLB(wire.ServletType(servletID), targetID)
	}
	if instance == nil {
		return nil, 0, rc.Error{Code: rc.BUSY}
	}
	peer := instance.Peer()
	if peer == nil {
		return nil, 0, rc.Error{Code: rc.BUSY}
	}
	seq := n.allocSeq()
	peer.sendFrame(servletID, seq, payload)
	return peer, seq, nil
}

// Broadcast implements spec.md §4.H.3 broadcast(): one seq allocated,
// one frame enqueued to every peer of every instance hosting the
// servlet type, with identical seq across recipients.
func (n *Network) Broadcast(servletID uint32, payload []byte) (uint32, int, error) {
	instances := n.servlets[wire.ServletType(servletID)]
	seq := n.allocSeq()
	count := 0
	for _, in := range instances {
		if p := in.Peer(); p != nil {
			p.sendFrame(servletID, seq, payload)
			count++
		}
	}
	return seq, count, nil
}

// Call implements spec.md §4.H.4: a blocking RPC that must run inside
// a coroutine, never the main fiber.
func (n *Network) Call(targetID uint64, servletID uint32, request []byte, instance *Instance) (respRC int32, response []byte, err error) {
	if n.fibers.IsMainRoutine() {
		panic("network: Call must run inside a coroutine, not the main fiber")
	}

	if instance == nil {
		instance = n.servletLB(wire.ServletType(servletID), targetID)
	}
	if instance == nil {
		return 0, nil, rc.Error{Code: rc.BUSY}
	}
	peer := instance.Peer()
	if peer == nil {
		return 0, nil, rc.Error{Code: rc.BUSY}
	}

	seq := n.allocSeq()
	if _, dup := n.callMap[seq]; dup {
		return 0, nil, rc.Error{Code: rc.BUSY}
	}

	ctx := n.fibers.Self().Context()
	ctx.CallResult = fiber.ResultUnknown

	entry := &callEntry{ctx: ctx, peer: peer, seq: seq}
	entry.timeoutTmr = n.timers.Schedule(n.rpcTimeoutMS, func(*timer.Timer, int64) int64 {
		ctx.CallTimedout()
		return 0
	})
	n.callMap[seq] = entry
	entry.elem = peer.calls.PushBack(entry)
	n.callCount++

	peer.sendFrame(servletID, seq, request)
	start := time.Now()

	yielded := n.fibers.Yield()
	n.latency.record(float64(time.Since(start).Microseconds()) / 1000)

	n.callCount--
	peer.calls.Remove(entry.elem)
	delete(n.callMap, seq)
	if entry.timeoutTmr != nil {
		n.timers.Close(entry.timeoutTmr)
		entry.timeoutTmr = nil
	}

	if !yielded {
		return 0, nil, rc.Error{Code: rc.BUSY}
	}

	switch ctx.CallResult {
	case fiber.ResultOK:
		if rc.Code(entry.rc) >= rc.SystemThreshold() {
			return entry.rc, nil, rc.Error{Code: rc.Code(entry.rc)}
		}
		return entry.rc, entry.body, nil
	case fiber.ResultTimedout:
		return 0, nil, rc.Error{Code: rc.TIMEOUT}
	case fiber.ResultCancel:
		return 0, nil, rc.CancelError{}
	default:
		panic("network: call resumed with an unresolved CallResult")
	}
}

// responseHandler implements spec.md §4.H.5 response_handler: look up
// callMap[seq]; if present, copy the response out (the frame's bytes
// are about to be recycled by the caller's ConsumeInput) and resume
// the waiting coroutine. If absent, the reply is stale — dropped by
// the caller's unconditional ConsumeInput, with no further action
// here, matching "consume frame.size bytes and drop".
func (n *Network) responseHandler(peer *Peer, hdr wire.Header, payload []byte) {
	entry, ok := n.callMap[hdr.Seq]
	if !ok {
		return
	}
	respRC, body, err := wire.DecodeResponseCode(payload)
	if err != nil {
		n.closePeer(peer, 0)
		entry.ctx.CallCancel()
		return
	}
	entry.rc = respRC
	entry.body = append([]byte(nil), body...)
	entry.ctx.CallOK()
}

// requestHandler implements spec.md §4.H.5 request_handler: spawn a
// servlet coroutine bound to a fresh Context referencing this peer,
// run it to completion or its next yield, then write the response
// frame (spec.md §5 Ordering: "the dispatcher fully consumes one frame
// ... before looking at the next").
func (n *Network) requestHandler(peer *Peer, hdr wire.Header, payload []byte) {
	typ := wire.ServletType(hdr.ServletID)
	h, ok := n.handlers[typ]
	if !ok {
		n.log.Log(gxlog.Entry{Level: gxlog.LevelWarn, Component: "network", Message: "no handler for servlet type", Fields: map[string]any{"servlet_type": typ}})
		return
	}
	body := append([]byte(nil), payload...)
	co, err := n.fibers.Spawn(func(co *fiber.Coroutine, _ any) {
		ctx := co.Context()
		ctx.Begin(n, peer)
		respRC, respBody := h(ctx, peer, hdr.ServletID, body)
		ctx.Commit()
		peer.sendFrame(hdr.ServletID, hdr.Seq, wire.EncodeResponseCode(respRC, respBody))
	}, nil)
	if err != nil {
		n.log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "network", Message: "spawn servlet coroutine failed", Err: err})
		return
	}
	co.Resume()
}

// cancelCall resumes entry's coroutine with CANCEL and forgets the
// call-seq map entry, without touching peer.calls (the caller is
// already iterating/clearing that list).
func (n *Network) cancelCall(entry *callEntry) {
	delete(n.callMap, entry.seq)
	if entry.timeoutTmr != nil {
		n.timers.Close(entry.timeoutTmr)
		entry.timeoutTmr = nil
	}
	entry.ctx.CallCancel()
}

// closePeer closes peer's underlying socket via the reactor.
func (n *Network) closePeer(peer *Peer, lingerMS int64) {
	n.reactor.Close(peer.socket, lingerMS)
}

// onPeerClosed implements spec.md §4.H.6 connection lifecycle: cancel
// outstanding calls, unlink the peer, and, for a connector peer,
// schedule a reconnect on the instance.
func (n *Network) onPeerClosed(peer *Peer) {
	peer.cancelOutstandingCalls()
	if peer.accepted {
		n.acceptList.Remove(peer.elem)
		return
	}
	n.connectList.Remove(peer.elem)
	if peer.instance != nil {
		peer.instance.peer = nil
		if peer.instance.Connector != nil {
			peer.instance.Connector.OnSocketClosed()
		}
	}
}

// ShutdownServlets implements spec.md §4.H.6 shutdown_servlets():
// close the local listener once (REDESIGN FLAG #1 — the C++ original
// closes it twice), then iterate accepted peers and close each.
// Outstanding outbound calls remain alive until they complete or time
// out.
func (n *Network) ShutdownServlets() {
	if n.local != nil && n.local.Listener != nil {
		n.local.Listener.Close()
		n.local.Listener = nil
	}
	for e := n.acceptList.Front(); e != nil; {
		next := e.Next()
		peer := e.Value.(*Peer)
		n.closePeer(peer, 0)
		e = next
	}
}
