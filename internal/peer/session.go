// Package peer implements the per-connection PeerSession of spec.md §3/§4.5:
// socket, buffers, reference count, timers, misbehavior score, sync
// counters, and the mid-session reset state machine.
package peer

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/Rozu/Pennies/internal/netaddr"
	"github.com/Rozu/Pennies/internal/permit"
)

// ResetState is the mid-session reset rendezvous of spec.md §4.5.
type ResetState int

const (
	StateIdle ResetState = iota
	StateWaitingForDisconnect
	StateWaitingForClearMsg
	StateWaitingForConnected
)

// MinReleaseDelay is the minimum time past disconnect before ref_count may
// be allowed to drop to zero (spec.md §4.5).
const MinReleaseDelay = 15 * time.Minute

// knownInventoryCap bounds the per-peer known-inventory set; the source
// has no hard cap here (it grows a raw set), but an LRU is the idiomatic
// Go bound for exactly this kind of seen-before cache.
const knownInventoryCap = 50000

// Session is one live or recently-live peer connection.
type Session struct {
	log *logrus.Entry

	// Immutable after construction.
	Conn       net.Conn
	Addr       netaddr.Endpoint
	AddrName   string
	Inbound    bool
	OneShot    bool
	Created    time.Time

	permit *permit.Permit

	// refCount / disconnect bookkeeping (spec.md §4.5, §8).
	refCount    int64
	disconnect  int32 // atomic bool
	releaseTime atomic.Value // time.Time

	// Handshake-set-once fields, guarded by handshakeMu.
	handshakeMu           sync.Mutex
	version               uint32
	startingHeight         int32
	subVersion             string
	services               wire.ServiceFlag
	isClient               bool
	successfullyConnected  bool

	misbehavior int64 // atomic

	// send/recv buffers, each with its own lock (spec.md §3/§5 lock order).
	sendMu       sync.Mutex
	sendQueue    []wire.Message
	sendEmpty    bool

	recvMu       sync.Mutex
	recvBytes    int

	requestsMu sync.Mutex
	requests   map[string]time.Time

	inventoryMu    sync.Mutex
	knownInventory *lru.Cache[string, struct{}]

	timeMu        sync.Mutex
	lastRecv      time.Time
	lastSend      time.Time
	lastSendEmpty time.Time
	timeConnected time.Time

	// Sync scheduling state (spec.md §4.8), guarded by syncMu.
	syncMu             sync.Mutex
	speed              float64
	downloaded         int64
	headerSpeed        float64
	headerDownloaded   int64
	checkSpeedTime     time.Time
	used               bool
	headerUsed         bool
	sendGetheadersTime                      time.Time
	sendGetdataTime                         time.Time
	getHeadersHashBegin, getHeadersHashEnd  chainhash.Hash
	getDataHashBegin, getDataHashEnd        chainhash.Hash

	resetMu    sync.Mutex
	resetState ResetState
}

// New constructs a live session. held is nil for inbound peers.
func New(conn net.Conn, addr netaddr.Endpoint, addrName string, inbound, oneShot bool, held *permit.Permit, log *logrus.Entry) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	now := time.Now()
	knownInv, _ := lru.New[string, struct{}](knownInventoryCap)
	s := &Session{
		Conn:           conn,
		Addr:           addr,
		AddrName:       addrName,
		Inbound:        inbound,
		OneShot:        oneShot,
		Created:        now,
		permit:         held,
		requests:       make(map[string]time.Time),
		knownInventory: knownInv,
		lastRecv:       now,
		lastSend:       now,
		timeConnected:  now,
		log:            log,
	}
	return s
}

// Log returns this session's logger entry.
func (s *Session) Log() *logrus.Entry { return s.log }

// AddrKey identifies this peer for the ban table / address book.
func (s *Session) AddrKey() string { return s.Addr.String() }

// IsLocal reports whether this session's remote address is local (never
// accrues bans, spec.md §4.3).
func (s *Session) IsLocal() bool { return s.Addr.IsLocal() }

// --- reference counting (spec.md §4.5) ---

// AddRef increments the reference count; every consumer must call
// ReleaseRef to match.
func (s *Session) AddRef() { atomic.AddInt64(&s.refCount, 1) }

// ReleaseRef decrements the reference count.
func (s *Session) ReleaseRef() { atomic.AddInt64(&s.refCount, -1) }

// RefCount returns the current reference count.
func (s *Session) RefCount() int64 { return atomic.LoadInt64(&s.refCount) }

// CanDestroy reports whether ref_count == 0 AND the minimum post-disconnect
// delay has elapsed AND the send queue is currently empty. The
// four per-session locks are all acquired and released here rather than
// held, since Go's GC (not manual free) actually reclaims the Session --
// this only gates when the reactor may drop its own map entry for it
// (spec.md §9 design note on removing the disconnected-pool).
func (s *Session) CanDestroy(now time.Time) bool {
	if s.RefCount() != 0 {
		return false
	}
	if rt, ok := s.releaseTime.Load().(time.Time); ok && now.Before(rt) {
		return false
	}
	if !s.tryLockAllBuffers() {
		return false
	}
	defer s.unlockAllBuffers()
	return len(s.sendQueue) == 0
}

func (s *Session) tryLockAllBuffers() bool {
	if !s.sendMu.TryLock() {
		return false
	}
	if !s.recvMu.TryLock() {
		s.sendMu.Unlock()
		return false
	}
	if !s.requestsMu.TryLock() {
		s.recvMu.Unlock()
		s.sendMu.Unlock()
		return false
	}
	if !s.inventoryMu.TryLock() {
		s.requestsMu.Unlock()
		s.recvMu.Unlock()
		s.sendMu.Unlock()
		return false
	}
	return true
}

func (s *Session) unlockAllBuffers() {
	s.inventoryMu.Unlock()
	s.requestsMu.Unlock()
	s.recvMu.Unlock()
	s.sendMu.Unlock()
}

// --- disconnect / reset (spec.md §4.5, §9 design note on DisconnectWhenReset) ---

// RequestDisconnect marks the session for teardown at the reactor's next
// tick and stamps the minimum release time.
func (s *Session) RequestDisconnect() {
	atomic.StoreInt32(&s.disconnect, 1)
	s.releaseTime.Store(time.Now().Add(MinReleaseDelay))
}

// DisconnectRequested reports whether RequestDisconnect has been called.
func (s *Session) DisconnectRequested() bool { return atomic.LoadInt32(&s.disconnect) == 1 }

// Disconnect implements ban.Misbehaver: tearing the connection down is
// the same as requesting a normal disconnect, reaped by the reactor's
// sweep once the session is destroyable.
func (s *Session) Disconnect() { s.RequestDisconnect() }

// RequestReset closes the socket to force a mid-session reset WITHOUT
// setting the disconnect flag: per spec.md §9, the source's
// DisconnectWhenReset deliberately keeps the session alive so it can be
// reused once re-dialed, distinct from a normal disconnect.
func (s *Session) RequestReset() {
	s.resetMu.Lock()
	s.resetState = StateWaitingForDisconnect
	s.resetMu.Unlock()
	s.Conn.Close()
}

// ResetState returns the current reset-state-machine state.
func (s *Session) ResetState() ResetState {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	return s.resetState
}

// AdvanceReset transitions the reset state machine. Each stage is driven
// by a distinct actor (spec.md §4.5): the reactor closes the socket
// (StateWaitingForDisconnect -> StateWaitingForClearMsg is driven by the
// message handler calling ClearForReset), and the dialer drives
// StateWaitingForConnected -> StateIdle after re-opening the socket.
func (s *Session) AdvanceReset(from, to ResetState) bool {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	if s.resetState != from {
		return false
	}
	s.resetState = to
	return true
}

// ClearForReset clears inventory, known-inventory, ask-for, and
// last-getblocks state (spec.md §4.5 "waiting_for_clear_msg"), then
// advances the state machine.
func (s *Session) ClearForReset() {
	if !s.AdvanceReset(StateWaitingForDisconnect, StateWaitingForClearMsg) {
		return
	}
	s.inventoryMu.Lock()
	s.knownInventory.Purge()
	s.inventoryMu.Unlock()

	s.requestsMu.Lock()
	s.requests = make(map[string]time.Time)
	s.requestsMu.Unlock()

	s.syncMu.Lock()
	s.getHeadersHashBegin, s.getHeadersHashEnd = chainhash.Hash{}, chainhash.Hash{}
	s.syncMu.Unlock()

	s.AdvanceReset(StateWaitingForClearMsg, StateWaitingForConnected)
}

// ReconnectedAfterReset is called by the dialer once the socket has been
// re-opened to the same endpoint and the version message sent.
func (s *Session) ReconnectedAfterReset(conn net.Conn) {
	s.Conn = conn
	s.AdvanceReset(StateWaitingForConnected, StateIdle)
}

// Permit returns the outbound permit this session holds, or nil.
func (s *Session) Permit() *permit.Permit { return s.permit }

// ReleasePermit returns this session's outbound permit to the semaphore,
// exactly once (spec.md §4.4/§5).
func (s *Session) ReleasePermit() {
	if s.permit != nil {
		s.permit.Release()
		s.permit = nil
	}
}
