package network

import (
	"container/list"
	"fmt"
	"net"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/opengxv/solo/internal/fiber"
	"github.com/opengxv/solo/internal/gxlog"
	"github.com/opengxv/solo/internal/page"
	"github.com/opengxv/solo/internal/reactor"
	"github.com/opengxv/solo/internal/timer"
)

// Defaults per spec.md §4.H.1.
const (
	DefaultRPCTimeoutMS      = 3000
	DefaultConnectTimeoutMS  = 3000
	DefaultRetryIntervalMS   = 1000
)

// RequestHandler runs a servlet body inside a freshly spawned
// coroutine, bound to a fresh Context referencing the inbound peer
// (spec.md §4.H.5). It returns the response code and body to write
// back. payload is a private copy of the request frame's payload, so
// it stays valid across yields; the returned body is copied into the
// response frame.
type RequestHandler func(ctx *fiber.Context, peer *Peer, servletID uint32, payload []byte) (respRC int32, body []byte)

type callEntry struct {
	ctx        *fiber.Context
	peer       *Peer
	seq        uint32
	elem       *list.Element
	timeoutTmr *timer.Timer
	rc         int32
	body       []byte
}

// limiterAdapter makes *catrate.Limiter satisfy reactor.RateLimiter,
// whose Allow signature is boxed to `any` so internal/reactor does not
// need to import a third-party type.
type limiterAdapter struct{ l *catrate.Limiter }

func (a limiterAdapter) Allow(category any) (any, bool) {
	t, ok := a.l.Allow(category)
	return t, ok
}

// Network is the instance/node/servlet-table owner, connect loop,
// call-seq map, and request/response dispatcher of spec.md §4.H,
// grounded on network.h/.cpp's Network class.
type Network struct {
	typ uint32
	id  uint32

	rpcTimeoutMS     int64
	connectTimeoutMS int64
	retryIntervalMS  int64

	nodes []*Node // dense, indexed by node_type

	// servlets is the Network-wide servlet_type -> instances table
	// (spec.md §3 NetworkServlet(s) table).
	servlets map[uint16][]*Instance

	reactor *reactor.Reactor
	timers  *timer.Manager
	fibers  *fiber.Manager
	pages   *page.Allocator
	log     gxlog.Logger

	// reconnectLimiter caps reconnect-storm rate per NetworkInstance,
	// grounded on catrate.Limiter (SPEC_FULL.md §2 domain stack).
	reconnectLimiter *catrate.Limiter

	seq uint32

	callMap map[uint32]*callEntry

	acceptList  *list.List // *Peer, owning
	connectList *list.List // *Peer, owning

	callCount int

	handlers map[uint16]RequestHandler

	local *Instance // this process's own (type, id) instance, set at Startup

	latency *callLatencyStats
}

// Config is the minimal set of parameters Network needs beyond the
// node/instance/servlet tables themselves (those are populated via
// AddNode/AddInstance, typically driven by internal/config).
type Config struct {
	RPCTimeoutMS     int64
	ConnectTimeoutMS int64
	RetryIntervalMS  int64
}

// New returns an empty Network. Call AddNode/AddInstance to populate
// the node/instance/servlet tables (spec.md §4.H.1) before Startup.
func New(cfg Config, rx *reactor.Reactor, timers *timer.Manager, fibers *fiber.Manager, pages *page.Allocator, log gxlog.Logger) *Network {
	if cfg.RPCTimeoutMS <= 0 {
		cfg.RPCTimeoutMS = DefaultRPCTimeoutMS
	}
	if cfg.ConnectTimeoutMS <= 0 {
		cfg.ConnectTimeoutMS = DefaultConnectTimeoutMS
	}
	if cfg.RetryIntervalMS <= 0 {
		cfg.RetryIntervalMS = DefaultRetryIntervalMS
	}
	if log == nil {
		log = gxlog.NopLogger{}
	}
	return &Network{
		rpcTimeoutMS: cfg.RPCTimeoutMS, connectTimeoutMS: cfg.ConnectTimeoutMS, retryIntervalMS: cfg.RetryIntervalMS,
		servlets: make(map[uint16][]*Instance),
		reactor:  rx, timers: timers, fibers: fibers, pages: pages, log: log,
		reconnectLimiter: catrate.NewLimiter(map[time.Duration]int{time.Duration(cfg.RetryIntervalMS) * time.Millisecond: 1}),
		callMap:          make(map[uint32]*callEntry),
		acceptList:       list.New(), connectList: list.New(),
		handlers: make(map[uint16]RequestHandler),
		latency:  newCallLatencyStats(),
	}
}

// Nodes returns the dense node_type-indexed node table.
func (n *Network) Nodes() []*Node { return n.nodes }

// AddNode registers a node at index typ, growing the table as needed.
func (n *Network) AddNode(typ uint32, name string) *Node {
	for len(n.nodes) <= int(typ) {
		n.nodes = append(n.nodes, nil)
	}
	node := newNode(typ, name)
	n.nodes[typ] = node
	return node
}

// AddInstance registers in on its node and, for non-AP instances,
// appends it to the Network-wide and node-wide servlet tables for
// every servlet it hosts (spec.md §4.H.1).
func (n *Network) AddInstance(in *Instance, node *Node) {
	node.addInstance(in)
	if in.IsAP {
		return
	}
	for st, hosted := range in.Servlets {
		if hosted {
			n.servlets[st] = append(n.servlets[st], in)
		}
	}
}

// SetHandler registers the RequestHandler for inbound requests whose
// servlet id's high 16 bits equal servletType (spec.md §4.H.5: "spawns
// a servlet coroutine ... bound to a fresh Context").
func (n *Network) SetHandler(servletType uint16, h RequestHandler) {
	n.handlers[servletType] = h
}

// CallCount returns the number of outstanding outbound calls (spec.md
// §4.H.6 graceful shutdown gate).
func (n *Network) CallCount() int { return n.callCount }

// Startup implements spec.md §4.H.2: bind+listen on the local AP and
// regular instance for (typ, id), and start a Connector for every
// non-AP instance in the table (AP instances are never dialed).
func (n *Network) Startup(typ uint32, id uint32) error {
	if int(typ) >= len(n.nodes) || n.nodes[typ] == nil {
		return fmt.Errorf("network: unknown node type %d", typ)
	}
	node := n.nodes[typ]

	for _, in := range node.APInstances {
		if in.ID.ID != id {
			continue
		}
		if err := n.listen(in); err != nil {
			return err
		}
	}
	for _, in := range node.Instances {
		if in.ID.ID == id {
			in.IsLocal = true
			n.local = in
			if err := n.listen(in); err != nil {
				return err
			}
		}
	}
	if n.local == nil {
		return fmt.Errorf("network: no local instance (type=%d, id=%d)", typ, id)
	}

	for _, nd := range n.nodes {
		if nd == nil {
			continue
		}
		for _, in := range nd.Instances {
			if in == n.local || in.IsAP {
				continue
			}
			n.dial(in)
		}
	}
	return nil
}

func (n *Network) listen(in *Instance) error {
	l, err := reactor.Listen(n.reactor, in.Host, in.Port, func(fd int, addr net.Addr) {
		n.onAccept(in, fd)
	})
	if err != nil {
		return fmt.Errorf("network: listen %s:%d: %w", in.Host, in.Port, err)
	}
	in.Listener = l
	in.IsLocal = true
	return nil
}

func (n *Network) onAccept(local *Instance, fd int) {
	var peer *Peer
	s, err := n.reactor.Open(fd, reactor.PollIn, func(s *reactor.Socket, ev reactor.Events) bool {
		return peer.onReadable(s, ev)
	}, true)
	if err != nil {
		n.log.Log(gxlog.Entry{Level: gxlog.LevelWarn, Component: "network", Message: "accept: open failed", Err: err})
		return
	}
	peer = newPeer(n, s, true)
	peer.isAP = local.IsAP
	peer.elem = n.acceptList.PushBack(peer)
}

// dial starts a Connector for in (spec.md §4.E, §4.H.2). Once
// CONNECTED, the connector hands its socket off from the connect-phase
// handler to the Peer's steady-state frame-reception handler.
func (n *Network) dial(in *Instance) {
	category := in.ID
	conn := reactor.NewConnector(n.reactor, n.timers, in.Host, in.Port, n.connectTimeoutMS, n.retryIntervalMS,
		func(s *reactor.Socket) {
			peer := newPeer(n, s, false)
			peer.instance = in
			peer.elem = n.connectList.PushBack(peer)
			in.peer = peer
			s.SetHandler(func(s *reactor.Socket, ev reactor.Events) bool {
				return peer.onReadable(s, ev)
			})
		},
		limiterAdapter{n.reconnectLimiter}, category,
	)
	in.Connector = conn
	conn.Connect()
}
