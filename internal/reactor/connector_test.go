package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengxv/solo/internal/timer"
)

// TestConnector_ReceivesDataAfterConnectWithoutManualPollIn is a
// regression test: a Connector's socket is opened with poll_out-only
// interest to detect connect completion. If the switch to poll_in on
// CONNECTED were dropped, this test would hang until it times out,
// because inbound bytes would never produce a readiness event.
func TestConnector_ReceivesDataAfterConnectWithoutManualPollIn(t *testing.T) {
	now := int64(0)
	timers := timer.New(func() int64 { return now })
	rx, err := New(timers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rx.Shutdown() })

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)

	var gotFrame []byte
	connector := NewConnector(rx, timers, "127.0.0.1", addr.Port, 2000, 2000, func(s *Socket) {
		s.SetHandler(func(s *Socket, ev Events) bool {
			gotFrame = append(gotFrame, s.Input()...)
			s.ConsumeInput(len(s.Input()))
			return true
		})
	}, nil, nil)
	connector.Connect()

	deadline := time.Now().Add(5 * time.Second)
	for connector.State() != Connected && time.Now().Before(deadline) {
		require.NoError(t, rx.Loop(50))
	}
	require.Equal(t, Connected, connector.State())

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never observed the accept")
	}
	defer serverConn.Close()

	_, err = serverConn.Write([]byte("hello"))
	require.NoError(t, err)

	deadline = time.Now().Add(5 * time.Second)
	for len(gotFrame) == 0 && time.Now().Before(deadline) {
		require.NoError(t, rx.Loop(50))
	}
	assert.Equal(t, "hello", string(gotFrame))
}
