package dialer

import (
	"context"
	"time"

	"github.com/Rozu/Pennies/internal/peer"
)

// RunAddedNodes implements spec.md §4.7's added-nodes dialer: for each
// configured entry, dial it (Connector.DialName connects to a single
// resolved endpoint) and keep it connected, re-attempting missing ones
// every 120s.
// Entries are opaque destination strings resolved via
// Connector.DialName, so the same loop serves plain host:port entries
// and (per spec's "name proxy" mode) entries a DNS-unavailable
// environment hands through unresolved.
func (m *Manager) RunAddedNodes(ctx context.Context, nodes []string) {
	if len(nodes) == 0 {
		return
	}
	connected := make(map[string]bool, len(nodes))
	ticker := time.NewTicker(addedNodeRetryInterval)
	defer ticker.Stop()

	attempt := func() {
		for _, name := range nodes {
			if connected[name] && m.addedNodeStillConnected(name) {
				continue
			}
			connected[name] = false
			conn, ep, err := m.Connector.DialName(ctx, name, m.defaultPort)
			if err != nil {
				m.Log.WithError(err).WithField("addnode", name).Debug("added-node dial failed")
				continue
			}
			sess := peer.New(conn, ep, name, false, false, nil, m.Log.WithField("peer", name))
			m.Reactor.AddPeer(sess)
			connected[name] = true
		}
	}

	attempt()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attempt()
		}
	}
}

// addedNodeStillConnected reports whether any live peer's AddrName is
// name; address keys and resolved endpoints are not compared. Used so
// RunAddedNodes doesn't redial an entry that's already up.
func (m *Manager) addedNodeStillConnected(name string) bool {
	snap := m.Reactor.Peers()
	for _, p := range snap.Peers {
		if p.AddrName == name {
			return true
		}
	}
	return false
}
