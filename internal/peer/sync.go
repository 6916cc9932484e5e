// This file implements the per-peer sync-scheduling counters of
// spec.md §3/§4.8: throughput estimation, per-slot request stamps.
package peer

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AddDownloaded accounts n freshly-downloaded block bytes.
func (s *Session) AddDownloaded(n int64) {
	s.syncMu.Lock()
	s.downloaded += n
	s.syncMu.Unlock()
}

// AddHeaderDownloaded accounts n freshly-downloaded header bytes.
func (s *Session) AddHeaderDownloaded(n int64) {
	s.syncMu.Lock()
	s.headerDownloaded += n
	s.syncMu.Unlock()
}

// MaybeUpdateSpeed applies the exponential-ish smoothing of spec.md §4.8
// once >=60s have elapsed since the last sample, resetting the byte
// counters for the next window. Returns true if an update occurred.
func (s *Session) MaybeUpdateSpeed(now time.Time) bool {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.checkSpeedTime.IsZero() {
		s.checkSpeedTime = now
		return false
	}
	if now.Sub(s.checkSpeedTime) < 60*time.Second {
		return false
	}
	s.speed = (float64(s.downloaded)/60.0 + s.speed) / 2
	s.headerSpeed = (float64(s.headerDownloaded)/60.0 + s.headerSpeed) / 2
	s.downloaded = 0
	s.headerDownloaded = 0
	s.checkSpeedTime = now
	return true
}

func (s *Session) Speed() float64 {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.speed
}

func (s *Session) HeaderSpeed() float64 {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.headerSpeed
}

func (s *Session) Used() bool {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.used
}

func (s *Session) HeaderUsed() bool {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.headerUsed
}

// StampGetHeaders records a getheaders request window, per spec.md §4.8.
func (s *Session) StampGetHeaders(now time.Time, begin, end chainhash.Hash) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.sendGetheadersTime = now
	s.getHeadersHashBegin = begin
	s.getHeadersHashEnd = end
	s.headerUsed = true
}

// GetHeadersWindow returns the last getheaders request's timestamp and
// (begin,end) pair.
func (s *Session) GetHeadersWindow() (time.Time, chainhash.Hash, chainhash.Hash) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.sendGetheadersTime, s.getHeadersHashBegin, s.getHeadersHashEnd
}

// StampGetData records a getdata batch request window, per spec.md §4.8.
func (s *Session) StampGetData(now time.Time, begin, end chainhash.Hash) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.sendGetdataTime = now
	s.getDataHashBegin = begin
	s.getDataHashEnd = end
	s.used = true
}

// GetDataWindow returns the last getdata request's timestamp and
// (begin,end) pair.
func (s *Session) GetDataWindow() (time.Time, chainhash.Hash, chainhash.Hash) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.sendGetdataTime, s.getDataHashBegin, s.getDataHashEnd
}

// EligibleForSync reports whether this peer meets spec.md §4.8's
// eligibility rule. maxBlockCount is the chain's best known height.
func (s *Session) EligibleForSync(maxBlockCount int32, minVersion, maxVersion uint32) bool {
	if s.IsClient() || s.DisconnectRequested() || !s.SuccessfullyConnected() {
		return false
	}
	if s.StartingHeight() <= maxBlockCount-144 {
		return false
	}
	v := s.Version()
	return v >= minVersion && v <= maxVersion
}
