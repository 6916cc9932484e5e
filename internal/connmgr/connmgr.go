// Package connmgr implements the connection manager / reactor of
// spec.md §4.6: it owns the live peer set, accepts inbound connections,
// services per-peer I/O, and drives the disconnect/inactivity sweep.
//
// The source drives a single thread over a raw select() across every
// live socket with a 50ms timeout. Go has no portable multi-socket
// select, so this is rebuilt the way the teacher's own Server.run does
// it: a single control-loop goroutine owns the live peer map and
// answers only to channels, while a dedicated read pump and write pump
// goroutine per peer do the actual blocking I/O. The read pump hands
// decoded messages to the Handler hook; a pump that hits an I/O error
// requests disconnect on the session, which the control loop's sweep
// then acts on. The 50ms cadence survives as the sweep ticker that
// drains the disconnect queue and checks inactivity thresholds.
package connmgr

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/Rozu/Pennies/internal/ban"
	"github.com/Rozu/Pennies/internal/netaddr"
	"github.com/Rozu/Pennies/internal/peer"
)

// Inactivity thresholds, spec.md §4.6 step 6.
const (
	NoTrafficAfterConnect = 60 * time.Second
	NoSendWithBuffer      = 90 * time.Minute
	NoRecv                = 90 * time.Minute

	sweepInterval = 50 * time.Millisecond
	recvChunk     = 64 * 1024
)

// ErrBindFailed wraps a listen failure; spec.md §7 treats bind failure as
// fatal to the node, propagated to the caller of Start.
type ErrBindFailed struct{ Err error }

func (e *ErrBindFailed) Error() string { return "bind listen port: " + e.Err.Error() }
func (e *ErrBindFailed) Unwrap() error { return e.Err }

// Config bounds the reactor per spec.md §4.4/§6.
type Config struct {
	MaxTotal    int
	MaxOutbound int
}

// AcceptedPeer is handed to the reactor by either the accept loop or a
// dialer once a socket is live.
type AcceptedPeer struct {
	Session *peer.Session
}

// peerOpFunc runs inside the control loop with exclusive access to the
// live peer map, mirroring the teacher's peerOp channel.
type peerOpFunc func(map[string]*peer.Session)

// Manager is the reactor: the single owner of the live peer set.
type Manager struct {
	cfg Config
	ban *ban.Table
	log *logrus.Entry

	listener net.Listener

	addPeer chan *peer.Session
	delPeer chan *peer.Session
	peerOp  chan peerOpFunc
	opDone  chan struct{}
	quit    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	net wire.BitcoinNet

	// StartingHeight reports this node's current best height for the
	// version message the read/write pumps exchange on connect. Set by
	// the caller (netcore) before Start; nil reports height 0.
	StartingHeight func() int32

	// Handler receives every post-handshake application message
	// (headers, inv, getdata, block, ...) the read pump decodes, the
	// hook the sync engine and relay pool are driven through. Set by
	// the caller before Start.
	Handler func(s *peer.Session, msg wire.Message)

	// OnHandshakeComplete fires once a peer's verack has been processed
	// (spec.md §4.2's "handshake-complete peers" precondition for local
	// address advertisement). Set by the caller before Start.
	OnHandshakeComplete func(s *peer.Session)
}

// New builds a reactor. cfg is not clamped here; the caller passes
// values already clamped (internal/config's Finalize does this for CLI
// options).
func New(cfg Config, banTable *ban.Table, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:     cfg,
		ban:     banTable,
		log:     log,
		addPeer: make(chan *peer.Session),
		delPeer: make(chan *peer.Session),
		peerOp:  make(chan peerOpFunc),
		opDone:  make(chan struct{}),
		quit:    make(chan struct{}),
		net:     wire.MainNet,
	}
}

// Listen binds the inbound listener. A failure here is fatal to the
// node per spec.md §7.
func (m *Manager) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return &ErrBindFailed{Err: err}
	}
	m.listener = l
	return nil
}

// Start launches the accept loop, the control loop, and the sweep
// ticker. Listen must be called first if inbound connections are
// wanted; Start tolerates a nil listener (outbound-only / -connect
// mode nodes never accept).
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
	if m.listener != nil {
		m.wg.Add(1)
		go m.acceptLoop()
	}
}

// Stop signals every loop to exit and waits for them to drain, up to
// the 20s budget of spec.md §7.
func (m *Manager) Stop() {
	m.closeOnce.Do(func() {
		close(m.quit)
		if m.listener != nil {
			m.listener.Close()
		}
	})
	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		m.log.Warn("reactor shutdown exceeded 20s drain budget")
	}
}

// AddPeer registers a freshly constructed session (inbound accept, or a
// successful outbound dial) with the reactor.
func (m *Manager) AddPeer(s *peer.Session) {
	select {
	case m.addPeer <- s:
	case <-m.quit:
	}
}

// DelPeer removes s from the live set immediately, bypassing the sweep
// (used when a caller already knows the session is being torn down).
func (m *Manager) DelPeer(s *peer.Session) {
	select {
	case m.delPeer <- s:
	case <-m.quit:
	}
}

// inboundCount/outboundCount/total are computed inline in run(); this
// snapshot type is returned by Peers for callers outside the loop
// (sync engine, relay broadcast) that need a consistent view.
type Snapshot struct {
	Peers        []*peer.Session
	InboundCount int
}

// Peers returns a consistent snapshot of the live peer set, the same
// pattern as the teacher's Server.Peers/PeerCount via the peerOp
// channel rather than a shared-read mutex.
func (m *Manager) Peers() Snapshot {
	var snap Snapshot
	m.doOp(func(peers map[string]*peer.Session) {
		snap.Peers = make([]*peer.Session, 0, len(peers))
		for _, p := range peers {
			snap.Peers = append(snap.Peers, p)
			if p.Inbound {
				snap.InboundCount++
			}
		}
	})
	return snap
}

func (m *Manager) doOp(f peerOpFunc) {
	select {
	case m.peerOp <- f:
		<-m.opDone
	case <-m.quit:
	}
}

// acceptLoop accepts inbound TCP connections and hands accept decisions
// to the control loop; spec.md §4.6 step 4.
func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
				m.log.WithError(err).Debug("accept error")
				continue
			}
		}
		m.handleAccept(conn)
	}
}

func (m *Manager) handleAccept(conn net.Conn) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	ip := net.ParseIP(host)
	ep := netaddr.Endpoint{NetAddress: netaddr.New(ip, 0)}
	if p, err := parsePort(portStr); err == nil {
		ep.Port = p
	}
	addrKey := ep.String()

	accepted := make(chan bool, 1)
	m.doOp(func(peers map[string]*peer.Session) {
		inbound := 0
		for _, p := range peers {
			if p.Inbound {
				inbound++
			}
		}
		maxInbound := m.cfg.MaxTotal - m.cfg.MaxOutbound
		if inbound >= maxInbound {
			accepted <- false
			return
		}
		if m.ban != nil && m.ban.IsBanned(addrKey) {
			accepted <- false
			return
		}
		accepted <- true
	})

	if !<-accepted {
		conn.Close()
		return
	}

	sess := peer.New(conn, ep, addrKey, true, false, nil, m.log.WithField("peer", addrKey))
	m.AddPeer(sess)
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	return uint16(p), err
}

// run is the control loop: the single goroutine with exclusive write
// access to the live peer map, exactly mirroring the teacher's
// Server.run select over addpeer/delpeer/peerOp channels.
func (m *Manager) run() {
	defer m.wg.Done()
	peers := make(map[string]*peer.Session)
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-m.quit:
			for _, p := range peers {
				p.RequestDisconnect()
				p.ReleasePermit()
				p.Conn.Close()
			}
			return

		case s := <-m.addPeer:
			peers[s.AddrKey()] = s
			m.log.WithField("peer", s.AddrKey()).WithField("peers", len(peers)).Info("peer added")
			m.spawnPumps(s)

		case s := <-m.delPeer:
			if cur, ok := peers[s.AddrKey()]; ok && cur == s {
				delete(peers, s.AddrKey())
			}

		case op := <-m.peerOp:
			op(peers)
			m.opDone <- struct{}{}

		case now := <-sweep.C:
			m.sweepLocked(peers, now)
		}
	}
}

// sweepLocked implements spec.md §4.6 steps 1 and 6: reap disconnect-
// requested/destroyable sessions and enforce inactivity timeouts. It
// runs with exclusive access to peers since it's only ever called from
// inside run's select.
func (m *Manager) sweepLocked(peers map[string]*peer.Session, now time.Time) {
	for key, p := range peers {
		if p.DisconnectRequested() {
			if p.CanDestroy(now) {
				p.ReleasePermit()
				delete(peers, key)
			}
			continue
		}
		if m.inactive(p, now) {
			p.Conn.Close()
			p.RequestDisconnect()
		}
	}
}

func (m *Manager) inactive(p *peer.Session, now time.Time) bool {
	connected := p.TimeConnected()
	if now.Sub(connected) >= NoTrafficAfterConnect &&
		p.LastRecv().Equal(connected) && p.LastSend().Equal(connected) {
		return true
	}
	if p.SendQueueLen() > 0 && now.Sub(p.LastSend()) >= NoSendWithBuffer {
		return true
	}
	if now.Sub(p.LastRecv()) >= NoRecv {
		return true
	}
	return false
}

// ReleasePeer is called by the message handler / dialer path once a
// peer's socket has errored or the remote closed gracefully (spec.md
// §7 "peer socket error or graceful close"): request disconnect and
// let the sweep reap it once destroyable.
func ReleasePeer(p *peer.Session) {
	p.RequestDisconnect()
}

// RecvChunkSize exposes the 64KiB per-read recv size of spec.md §4.6
// step 5. The read pump decodes whole framed wire messages rather than
// raw chunks, so no read in this package is sized by it; flood
// accounting uses peer.FloodHighWater instead.
const RecvChunkSize = recvChunk
