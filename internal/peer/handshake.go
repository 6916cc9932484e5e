package peer

import (
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Rozu/Pennies/internal/wireproto"
)

// ApplyHandshake sets version/services/height/sub-version from a received
// version message, per the version/verack hook in spec.md §6. It does not
// check for an earlier call: a repeated version message overwrites them.
func (s *Session) ApplyHandshake(h wireproto.HandshakeResult) {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	s.version = h.Version
	s.services = h.Services
	s.startingHeight = h.StartingHeight
	s.subVersion = h.SubVersion
	s.isClient = h.IsClient
}

// Version, Services, StartingHeight, SubVersion, IsClient are read-only
// views of the handshake-set fields.
func (s *Session) Version() uint32 {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	return s.version
}

func (s *Session) Services() wire.ServiceFlag {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	return s.services
}

func (s *Session) StartingHeight() int32 {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	return s.startingHeight
}

func (s *Session) SubVersion() string {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	return s.subVersion
}

func (s *Session) IsClient() bool {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	return s.isClient
}

// MarkSuccessfullyConnected is set after verack; monotone (spec.md §3).
func (s *Session) MarkSuccessfullyConnected() {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	s.successfullyConnected = true
}

func (s *Session) SuccessfullyConnected() bool {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()
	return s.successfullyConnected
}

// --- misbehavior (spec.md §3/§4.3) ---

// AddMisbehavior adds delta to the session's monotone misbehavior score
// and returns the new total. Implements ban.Misbehaver.
func (s *Session) AddMisbehavior(delta int) int64 {
	return addInt64(&s.misbehavior, int64(delta))
}

func (s *Session) Misbehavior() int64 { return loadInt64(&s.misbehavior) }

// --- timers (spec.md §3, inactivity sweep in §4.6) ---

func (s *Session) TouchRecv(now time.Time) {
	s.timeMu.Lock()
	s.lastRecv = now
	s.timeMu.Unlock()
}

func (s *Session) TouchSend(now time.Time, emptyAfter bool) {
	s.timeMu.Lock()
	s.lastSend = now
	if emptyAfter {
		s.lastSendEmpty = now
	}
	s.timeMu.Unlock()
}

func (s *Session) LastRecv() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.lastRecv
}

func (s *Session) LastSend() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.lastSend
}

func (s *Session) LastSendEmpty() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.lastSendEmpty
}

func (s *Session) TimeConnected() time.Time { return s.timeConnected }
