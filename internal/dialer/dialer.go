// Package dialer implements the two outbound-connection loops of
// spec.md §4.7: a general dialer that selects candidates from the
// address book under a bounded permit budget, and an added-nodes
// dialer that keeps a fixed, user-pinned set connected. Shape is
// adapted from the teacher's dialState/task scheduling in
// network/p2p/server.go, generalized from devp2p's Kademlia candidate
// pool to an address-book-driven selector.
package dialer

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rozu/Pennies/internal/addrbook"
	"github.com/Rozu/Pennies/internal/connmgr"
	"github.com/Rozu/Pennies/internal/localaddr"
	"github.com/Rozu/Pennies/internal/netaddr"
	"github.com/Rozu/Pennies/internal/peer"
	"github.com/Rozu/Pennies/internal/permit"
)

const (
	// retryWindow is the "tried very recently" reject threshold.
	retryWindow = 10 * time.Minute
	// minTriesBeforeRecentRetry: an address tried within retryWindow is
	// rejected while it has fewer attempts than this.
	minTriesBeforeRecentRetry = 30
	// minTriesBeforeNonDefaultPort is the floor before a non-default-port
	// address is tried, so such addresses aren't selected eagerly.
	minTriesBeforeNonDefaultPort = 50
	// maxSelectTries bounds one general-dialer iteration's candidate
	// search before it aborts and the outer loop restarts.
	maxSelectTries = 100

	addedNodeRetryInterval = 120 * time.Second

	seedGracePeriod = 60 * time.Second
	seedAgeMinDays  = 7
	seedAgeMaxDays  = 14

	dialTimeout = 15 * time.Second
)

// Connector opens a TCP connection to an endpoint or a named
// destination, mirroring the external connect_socket/
// connect_socket_by_name collaborators of spec.md §6.
type Connector interface {
	Dial(ctx context.Context, ep netaddr.Endpoint) (net.Conn, error)
	DialName(ctx context.Context, name string, defaultPort uint16) (net.Conn, netaddr.Endpoint, error)
}

// netDialer is the default Connector, a thin wrapper over net.Dialer.
type netDialer struct{ d net.Dialer }

func NewNetConnector() Connector { return &netDialer{d: net.Dialer{Timeout: dialTimeout}} }

func (n *netDialer) Dial(ctx context.Context, ep netaddr.Endpoint) (net.Conn, error) {
	return n.d.DialContext(ctx, "tcp", ep.String())
}

func (n *netDialer) DialName(ctx context.Context, name string, defaultPort uint16) (net.Conn, netaddr.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(name)
	port := defaultPort
	if err != nil {
		host = name
	} else if p, perr := parsePort(portStr); perr == nil {
		port = p
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil, netaddr.Endpoint{}, err
	}
	ep := netaddr.Endpoint{NetAddress: netaddr.New(ips[0], 0), Port: port}
	conn, err := n.Dial(ctx, ep)
	return conn, ep, err
}

func parsePort(s string) (uint16, error) {
	var p int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, net.InvalidAddrError("bad port")
		}
		p = p*10 + int(r-'0')
	}
	return uint16(p), nil
}

// Manager is the shared view the dialer loops need of the reactor and
// its sibling tables.
type Manager struct {
	Reactor   *connmgr.Manager
	Book      *addrbook.Book
	Local     *localaddr.Table
	Permits   *permit.Semaphore
	Connector Connector
	Log       *logrus.Entry

	defaultPort uint16
	rng         *rand.Rand
	started     time.Time

	oneShot chan netaddr.Endpoint
}

// New builds a dialer manager.
func New(reactor *connmgr.Manager, book *addrbook.Book, local *localaddr.Table, permits *permit.Semaphore, conn Connector, defaultPort uint16, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		Reactor:     reactor,
		Book:        book,
		Local:       local,
		Permits:     permits,
		Connector:   conn,
		Log:         log,
		defaultPort: defaultPort,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		started:     time.Now(),
		oneShot:     make(chan netaddr.Endpoint, 64),
	}
}

// QueueOneShot adds an address to be dialed once with one_shot=true,
// the seed-plumbing path of spec.md §4.7.
func (m *Manager) QueueOneShot(ep netaddr.Endpoint) {
	select {
	case m.oneShot <- ep:
	default:
	}
}

// connectedGroups reports the network groups we currently have an
// outbound connection to, and the total outbound count.
func (m *Manager) connectedGroups() (map[string]bool, int) {
	snap := m.Reactor.Peers()
	groups := make(map[string]bool)
	outbound := 0
	for _, p := range snap.Peers {
		if !p.Inbound {
			outbound++
			groups[p.Addr.GroupKey()] = true
		}
	}
	return groups, outbound
}

// RunGeneral runs the address-book-driven general dialer until ctx is
// cancelled. Must not be called when -connect pins are in effect; use
// RunConnectOnly instead.
func (m *Manager) RunGeneral(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ep := <-m.oneShot:
			m.dialOneShot(ctx, ep)
			continue
		default:
		}

		held, err := m.Permits.Acquire(ctx)
		if err != nil {
			return // context cancelled, shutdown unblocking permit.Semaphore doc.
		}

		m.seedIfEmpty()

		ep, ok := m.selectCandidate()
		if !ok {
			held.Release()
			continue
		}

		// Each attempt dials on its own goroutine so the loop can
		// immediately go acquire the next permit: with max_outbound
		// permits in the semaphore, this keeps exactly that many
		// connect attempts in flight concurrently (spec.md §8
		// scenario 2), each returning its permit on failure before
		// the loop's next Acquire can proceed.
		go m.dial(ctx, ep, false, held)
	}
}

func (m *Manager) dialOneShot(ctx context.Context, ep netaddr.Endpoint) {
	conn, err := m.Connector.Dial(ctx, ep)
	if err != nil {
		m.Log.WithError(err).WithField("addr", ep.String()).Debug("one-shot dial failed")
		return
	}
	sess := peer.New(conn, ep, ep.String(), false, true, nil, m.Log.WithField("peer", ep.String()))
	m.Reactor.AddPeer(sess)
}

// selectCandidate implements spec.md §4.7's reject-rule loop: up to
// maxSelectTries draws from the address book, rejecting invalid,
// local, already-connected-group, limited, too-recently-retried, and
// insufficiently-tried-non-default-port candidates.
func (m *Manager) selectCandidate() (netaddr.Endpoint, bool) {
	groups, outbound := m.connectedGroups()
	bias := 10 + min(outbound, 8)*10

	for i := 0; i < maxSelectTries; i++ {
		rec, ok := m.Book.Select(bias)
		if !ok {
			return netaddr.Endpoint{}, false
		}
		if m.rejects(rec, groups) {
			m.Book.Attempt(rec.Endpoint)
			continue
		}
		return rec.Endpoint, true
	}
	return netaddr.Endpoint{}, false
}

func (m *Manager) rejects(rec addrbook.Record, groups map[string]bool) bool {
	if !rec.Endpoint.IsRoutable() && !rec.Endpoint.IsLocal() {
		return true // invalid
	}
	if rec.Endpoint.IsLocal() {
		return true
	}
	if groups[rec.Endpoint.GroupKey()] {
		return true
	}
	if m.Local != nil && m.Local.IsLimited(rec.Endpoint.Class()) {
		return true
	}
	if rec.Attempts < minTriesBeforeRecentRetry && time.Since(rec.LastTry) < retryWindow && !rec.LastTry.IsZero() {
		return true
	}
	if rec.Endpoint.Port != m.defaultPort && rec.Attempts < minTriesBeforeNonDefaultPort {
		return true
	}
	return false
}

// seedIfEmpty inserts a small built-in seed list with randomized ages
// once the book is empty and seedGracePeriod has elapsed since start
// (spec.md §4.7).
func (m *Manager) seedIfEmpty() {
	if m.Book.Size() > 0 {
		return
	}
	if time.Since(m.started) < seedGracePeriod {
		return
	}
	now := time.Now()
	records := make([]addrbook.Record, 0, len(builtinSeeds))
	for _, host := range builtinSeeds {
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		ageDays := seedAgeMinDays + m.rng.Intn(seedAgeMaxDays-seedAgeMinDays+1)
		records = append(records, addrbook.Record{
			Endpoint: netaddr.Endpoint{NetAddress: netaddr.New(ip, 0), Port: m.defaultPort},
			LastSeen: now.Add(-time.Duration(ageDays) * 24 * time.Hour),
		})
	}
	m.Book.Add(records, netaddr.NetAddress{})
}

// builtinSeeds is a small fallback list used only when the address
// book starts empty; DNS seeding (internal/seed) is the primary path.
var builtinSeeds = []string{
	"127.0.0.1",
}

// dial performs the TCP connect for a candidate and, on success,
// registers a new outbound session with the reactor, moving the
// permit into it (spec.md §4.7 "moving the permit into the new
// session"). On failure the permit is released, the attempt timestamp
// is recorded, and the dialer proceeds (spec.md §7 dial-failure
// policy).
func (m *Manager) dial(ctx context.Context, ep netaddr.Endpoint, oneShot bool, held *permit.Permit) {
	m.Book.Attempt(ep)
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := m.Connector.Dial(dctx, ep)
	if err != nil {
		m.Log.WithError(err).WithField("addr", ep.String()).Debug("dial failed")
		held.Release()
		return
	}
	m.Book.Connected(ep)
	sess := peer.New(conn, ep, ep.String(), false, oneShot, held, m.Log.WithField("peer", ep.String()))
	m.Reactor.AddPeer(sess)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
