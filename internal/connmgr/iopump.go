package connmgr

import (
	"errors"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Rozu/Pennies/internal/peer"
	"github.com/Rozu/Pennies/internal/wireproto"
)

// decodeErrorMisbehavior is the score delta applied when a peer's stream
// fails to decode as a wire message (spec.md §4.3's "bad message"
// misbehavior class).
const decodeErrorMisbehavior = 20

// spawnPumps launches the dedicated read-pump/write-pump goroutines for
// a newly added session and queues our outbound version message,
// opening the handshake for both inbound and outbound peers alike
// (spec.md §4.6 steps 2/3/5, §6's version/verack hook).
func (m *Manager) spawnPumps(s *peer.Session) {
	m.wg.Add(2)
	go m.readPump(s)
	go m.writePump(s)

	var startingHeight int32
	if m.StartingHeight != nil {
		startingHeight = m.StartingHeight()
	}
	s.QueueSend(wireproto.NewVersionMessage(rand.Uint64(), startingHeight))
}

// readPump is the per-peer blocking-recv goroutine: it decodes one
// framed wire message at a time off the socket (spec.md §4.6 step 3's
// "recv" folded into the real wire codec rather than a raw byte
// chunk), accounts it against the flood high-water mark, and either
// handles it inline (version/verack) or forwards it to Handler.
func (m *Manager) readPump(s *peer.Session) {
	defer m.wg.Done()
	defer ReleasePeer(s)

	for {
		msg, buf, err := wireproto.ReadMessage(s.Conn, wireproto.ProtocolVersion, m.net)
		if err != nil {
			var merr *wire.MessageError
			if errors.As(err, &merr) && m.ban != nil {
				m.ban.Misbehaving(s, decodeErrorMisbehavior)
			}
			return
		}
		s.TouchRecv(time.Now())
		if s.AddRecvBytes(len(buf)) {
			m.log.WithField("peer", s.AddrKey()).Warn("peer exceeded recv flood high-water mark")
			return
		}
		m.handleMessage(s, msg)
		s.DrainRecvBytes(len(buf))

		select {
		case <-m.quit:
			return
		default:
		}
	}
}

// handleMessage processes the version/verack handshake inline and
// forwards every other application message to Handler, if set.
func (m *Manager) handleMessage(s *peer.Session, msg wire.Message) {
	switch v := msg.(type) {
	case *wire.MsgVersion:
		s.ApplyHandshake(wireproto.FromVersionMessage(v))
		s.QueueSend(wire.NewMsgVerAck())
	case *wire.MsgVerAck:
		s.MarkSuccessfullyConnected()
		if m.OnHandshakeComplete != nil {
			m.OnHandshakeComplete(s)
		}
	default:
		if m.Handler != nil {
			m.Handler(s, msg)
		}
	}
}

// writePump drains s's send buffer on the same 50ms cadence the source
// drives its select() write-set check on (spec.md §4.6 step 2): a
// try-lock peek guarantees a stalled peer never blocks the pump from
// moving on, then PopSend drains FIFO under its own lock.
func (m *Manager) writePump(s *peer.Session) {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
		}
		if s.DisconnectRequested() {
			return
		}
		if !s.TryLockSend() {
			continue
		}
		s.UnlockSend()

		for {
			msg, ok := s.PopSend()
			if !ok {
				break
			}
			if err := wireproto.WriteMessage(s.Conn, msg, wireproto.ProtocolVersion, m.net); err != nil {
				m.log.WithField("peer", s.AddrKey()).WithError(err).Debug("write pump error")
				ReleasePeer(s)
				return
			}
			s.TouchSend(time.Now(), s.SendQueueLen() == 0)
		}
	}
}
