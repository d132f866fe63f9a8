package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opengxv/solo/internal/fiber"
	"github.com/opengxv/solo/internal/gxlog"
	"github.com/opengxv/solo/internal/page"
	"github.com/opengxv/solo/internal/reactor"
	"github.com/opengxv/solo/internal/timer"
)

func dispatchSocketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// TestNetwork_CallRoundTripsThroughRealSockets exercises spec.md §8's
// "Call" scenario end to end: a coroutine blocks in Call() while the
// request frame crosses a real socket pair, a spawned servlet
// coroutine answers it, and the response resumes the original caller
// with the servlet's result.
func TestNetwork_CallRoundTripsThroughRealSockets(t *testing.T) {
	now := int64(0)
	timers := timer.New(func() int64 { return now })
	rx, err := reactor.New(timers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rx.Shutdown() })

	fibers := fiber.New(0, 0, timers, nil)
	pages := page.New(0)
	n := New(Config{}, rx, timers, fibers, pages, gxlog.NopLogger{})

	const servletType = uint16(5)
	n.SetHandler(servletType, func(_ *fiber.Context, _ *Peer, _ uint32, payload []byte) (int32, []byte) {
		return 0, append([]byte("echo:"), payload...)
	})

	node := n.AddNode(0, "game")
	inst := &Instance{ID: InstanceID{Type: 0, ID: 1}, Servlets: map[uint16]bool{servletType: true}}
	n.AddInstance(inst, node)

	cliFD, srvFD := dispatchSocketpair(t)

	var clientPeer, serverPeer *Peer
	cliSock, err := rx.Open(cliFD, reactor.PollIn, func(s *reactor.Socket, ev reactor.Events) bool {
		return clientPeer.onReadable(s, ev)
	}, true)
	require.NoError(t, err)
	srvSock, err := rx.Open(srvFD, reactor.PollIn, func(s *reactor.Socket, ev reactor.Events) bool {
		return serverPeer.onReadable(s, ev)
	}, true)
	require.NoError(t, err)

	clientPeer = newPeer(n, cliSock, false)
	clientPeer.instance = inst
	inst.peer = clientPeer

	serverPeer = newPeer(n, srvSock, true)

	var respRC int32
	var respBody []byte
	var callErr error
	done := false

	co, err := fibers.Spawn(func(co *fiber.Coroutine, _ any) {
		respRC, respBody, callErr = n.Call(1, uint32(servletType)<<16, []byte("hi"), inst)
		done = true
	}, nil)
	require.NoError(t, err)

	co.Resume()
	assert.False(t, done, "Call should have yielded awaiting the response")
	assert.Equal(t, 1, n.CallCount())

	require.NoError(t, rx.Loop(50)) // flush request, server answers and queues response
	require.NoError(t, rx.Loop(50)) // flush response, client resumes

	require.True(t, done)
	require.NoError(t, callErr)
	assert.Equal(t, int32(0), respRC)
	assert.Equal(t, "echo:hi", string(respBody))
	assert.Equal(t, 0, n.CallCount())
}

// TestNetwork_CallTimesOutWhenNoResponseArrives exercises spec.md §8's
// call-timeout boundary: the timer manager's callback is what resumes
// the waiting coroutine with ResultTimedout, independent of the
// reactor ever seeing a reply.
func TestNetwork_CallTimesOutWhenNoResponseArrives(t *testing.T) {
	now := int64(0)
	timers := timer.New(func() int64 { return now })
	rx, err := reactor.New(timers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rx.Shutdown() })

	fibers := fiber.New(0, 0, timers, nil)
	pages := page.New(0)
	n := New(Config{RPCTimeoutMS: 100}, rx, timers, fibers, pages, gxlog.NopLogger{})

	node := n.AddNode(0, "game")
	inst := &Instance{ID: InstanceID{Type: 0, ID: 1}, Servlets: map[uint16]bool{5: true}}
	n.AddInstance(inst, node)

	cliFD, srvFD := dispatchSocketpair(t)
	t.Cleanup(func() { _ = unix.Close(srvFD) })

	var clientPeer *Peer
	cliSock, err := rx.Open(cliFD, reactor.PollIn, func(s *reactor.Socket, ev reactor.Events) bool {
		return clientPeer.onReadable(s, ev)
	}, true)
	require.NoError(t, err)
	clientPeer = newPeer(n, cliSock, false)
	clientPeer.instance = inst
	inst.peer = clientPeer

	var callErr error
	done := false
	co, err := fibers.Spawn(func(co *fiber.Coroutine, _ any) {
		_, _, callErr = n.Call(1, uint32(5)<<16, []byte("hi"), inst)
		done = true
	}, nil)
	require.NoError(t, err)

	co.Resume()
	assert.False(t, done)

	now = 100
	timers.Loop()

	assert.True(t, done)
	require.Error(t, callErr)
	assert.Contains(t, callErr.Error(), "TIMEOUT")
}
