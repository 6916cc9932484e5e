package peer

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// FloodHighWater is the configured cap on total buffered recv bytes before
// the peer is force-disconnected as flooding (spec.md §4.6/§7).
const FloodHighWater = 16 * 1024 * 1024

// QueueSend appends msg to the send buffer (FIFO drain order, spec.md §4.6).
func (s *Session) QueueSend(msg wire.Message) {
	s.sendMu.Lock()
	s.sendQueue = append(s.sendQueue, msg)
	s.sendMu.Unlock()
}

// PopSend removes and returns the oldest queued message, FIFO.
func (s *Session) PopSend() (wire.Message, bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if len(s.sendQueue) == 0 {
		return nil, false
	}
	msg := s.sendQueue[0]
	s.sendQueue = s.sendQueue[1:]
	return msg, true
}

// SendQueueLen reports the number of queued outbound messages.
func (s *Session) SendQueueLen() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return len(s.sendQueue)
}

// TryLockSend attempts to take the send lock without blocking, matching
// spec.md §4.6 step 2's "write set only if send buffer non-empty under a
// try-lock; if the try-lock fails this iteration, the peer's send fd is
// simply omitted, guaranteeing progress."
func (s *Session) TryLockSend() bool { return s.sendMu.TryLock() }

// UnlockSend releases a lock taken by TryLockSend.
func (s *Session) UnlockSend() { s.sendMu.Unlock() }

// AddRecvBytes accounts n newly received bytes and reports whether the
// high-water mark was exceeded (spec.md §4.6/§7 flood handling).
func (s *Session) AddRecvBytes(n int) (overHighWater bool) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.recvBytes += n
	return s.recvBytes > FloodHighWater
}

// DrainRecvBytes resets the recv byte accounting, called once the
// protocol handler has consumed buffered data.
func (s *Session) DrainRecvBytes(n int) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	s.recvBytes -= n
	if s.recvBytes < 0 {
		s.recvBytes = 0
	}
}

// RecordRequest stamps an ask-for request at key with the current time
// (used by the sync engine's retry-window logic).
func (s *Session) RecordRequest(key string, at time.Time) {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()
	s.requests[key] = at
}

// RequestTime returns when key was last requested, or the zero time.
func (s *Session) RequestTime(key string) time.Time {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()
	return s.requests[key]
}

// MarkKnownInventory records that the peer already knows about id.
func (s *Session) MarkKnownInventory(id string) {
	s.inventoryMu.Lock()
	defer s.inventoryMu.Unlock()
	s.knownInventory.Add(id, struct{}{})
}

// KnowsInventory reports whether the peer has already been told about id.
func (s *Session) KnowsInventory(id string) bool {
	s.inventoryMu.Lock()
	defer s.inventoryMu.Unlock()
	return s.knownInventory.Contains(id)
}
