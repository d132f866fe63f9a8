package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opengxv/solo/internal/gxlog"
	"github.com/opengxv/solo/internal/reactor"
	"github.com/opengxv/solo/internal/timer"
)

func newFireAndForgetReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	now := int64(0)
	timers := timer.New(func() int64 { return now })
	rx, err := reactor.New(timers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rx.Shutdown() })
	return rx
}

func wirePeer(t *testing.T, n *Network, rx *reactor.Reactor, accepted bool) (*Peer, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	var p *Peer
	s, err := rx.Open(fds[0], reactor.PollIn, func(s *reactor.Socket, ev reactor.Events) bool {
		return p.onReadable(s, ev)
	}, true)
	require.NoError(t, err)
	p = newPeer(n, s, accepted)
	return p, fds[1]
}

func TestNetwork_SendReturnsBusyWithoutAPeer(t *testing.T) {
	n := New(Config{}, nil, nil, nil, nil, nil)
	node := n.AddNode(0, "game")
	inst := &Instance{ID: InstanceID{Type: 0, ID: 0}, Servlets: map[uint16]bool{1: true}}
	n.AddInstance(inst, node)

	_, _, err := n.Send(0, uint32(1)<<16, []byte("x"), inst)
	assert.Error(t, err)
}

func TestNetwork_SendWritesFrameToPeerSocket(t *testing.T) {
	rx := newFireAndForgetReactor(t)
	n := New(Config{}, rx, nil, nil, nil, gxlog.NopLogger{})
	node := n.AddNode(0, "game")
	inst := &Instance{ID: InstanceID{Type: 0, ID: 0}, Servlets: map[uint16]bool{1: true}}
	n.AddInstance(inst, node)

	peer, otherFD := wirePeer(t, n, rx, false)
	inst.peer = peer

	_, seq, err := n.Send(0, uint32(1)<<16, []byte("payload"), inst)
	require.NoError(t, err)
	assert.NotZero(t, seq)

	require.NoError(t, rx.Loop(50))

	buf := make([]byte, 64)
	_ = unix.SetNonblock(otherFD, true)
	var total int
	for total == 0 {
		n2, err := unix.Read(otherFD, buf)
		if n2 > 0 {
			total = n2
			break
		}
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("read: %v", err)
		}
	}
	assert.Contains(t, string(buf[:total]), "payload")
}

func TestNetwork_BroadcastReachesEveryHostingInstance(t *testing.T) {
	rx := newFireAndForgetReactor(t)
	n := New(Config{}, rx, nil, nil, nil, gxlog.NopLogger{})
	node := n.AddNode(0, "game")

	inst1 := &Instance{ID: InstanceID{Type: 0, ID: 0}, Servlets: map[uint16]bool{9: true}}
	inst2 := &Instance{ID: InstanceID{Type: 0, ID: 1}, Servlets: map[uint16]bool{9: true}}
	n.AddInstance(inst1, node)
	n.AddInstance(inst2, node)

	peer1, _ := wirePeer(t, n, rx, false)
	peer2, _ := wirePeer(t, n, rx, false)
	inst1.peer = peer1
	inst2.peer = peer2

	_, count, err := n.Broadcast(uint32(9)<<16, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNetwork_ShutdownServletsClosesListenerOnce(t *testing.T) {
	rx := newFireAndForgetReactor(t)
	n := New(Config{}, rx, nil, nil, nil, gxlog.NopLogger{})
	node := n.AddNode(0, "game")
	local := &Instance{ID: InstanceID{Type: 0, ID: 0}, IsLocal: true}
	n.AddInstance(local, node)
	n.local = local
	l, err := reactor.Listen(rx, "127.0.0.1", 0, nil)
	require.NoError(t, err)
	local.Listener = l

	n.ShutdownServlets()
	assert.Nil(t, n.local.Listener)

	assert.NotPanics(t, func() { n.ShutdownServlets() })
}
