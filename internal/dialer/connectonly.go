package dialer

import (
	"context"
	"time"

	"github.com/Rozu/Pennies/internal/peer"
)

// connectBackoffBase/Max bound the round-robin retry delay when
// -connect restricts outbound dialing to a fixed list (spec.md §4.7).
const (
	connectBackoffBase = 1 * time.Second
	connectBackoffMax  = 2 * time.Minute
)

// RunConnectOnly implements -connect mode: dial only the given
// destinations, round-robin, with exponential backoff per destination
// on failure. The general address-book dialer does not run alongside
// this mode (spec.md §4.7 "if -connect is set... Otherwise [run the
// general dialer]").
func (m *Manager) RunConnectOnly(ctx context.Context, nodes []string) {
	if len(nodes) == 0 {
		return
	}
	backoff := make([]time.Duration, len(nodes))
	for i := range backoff {
		backoff[i] = connectBackoffBase
	}

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		name := nodes[i]
		conn, ep, err := m.Connector.DialName(ctx, name, m.defaultPort)
		if err != nil {
			m.Log.WithError(err).WithField("connect", name).Debug("-connect dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff[i]):
			}
			if backoff[i] < connectBackoffMax {
				backoff[i] *= 2
				if backoff[i] > connectBackoffMax {
					backoff[i] = connectBackoffMax
				}
			}
		} else {
			backoff[i] = connectBackoffBase
			sess := peer.New(conn, ep, name, false, false, nil, m.Log.WithField("peer", name))
			m.Reactor.AddPeer(sess)
		}

		i = (i + 1) % len(nodes)
	}
}
