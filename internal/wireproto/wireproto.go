// Package wireproto is the thin adapter between a peer's net.Conn and the
// wire protocol. spec.md treats the wire codec as an external,
// opaque collaborator ("the spec assumes an opaque message channel"); this
// package is that channel, built on the real btcsuite/btcd/wire message
// types rather than a hand-rolled envelope, so the rest of the module has
// something concrete to read/write instead of interface{}.
package wireproto

import (
	"io"
	"net"

	"github.com/btcsuite/btcd/wire"
)

// ProtocolVersion is the version number this node advertises. spec.md §4.8
// requires peers at version >= 70002 to be eligible for sync scheduling.
const ProtocolVersion uint32 = 70016

// MinEligibleSyncVersion is the floor named in spec.md §4.8.
const MinEligibleSyncVersion uint32 = 70002

// ReadMessage reads one framed message off r for the given network magic.
func ReadMessage(r io.Reader, pver uint32, net wire.BitcoinNet) (wire.Message, []byte, error) {
	return wire.ReadMessage(r, pver, net)
}

// WriteMessage frames and writes msg to w.
func WriteMessage(w io.Writer, msg wire.Message, pver uint32, net wire.BitcoinNet) error {
	return wire.WriteMessage(w, msg, pver, net)
}

// HandshakeResult is what the version/verack exchange populates on a
// peer session (spec.md §6: "a version/verack handshake hook that
// populates the peer's service/version/height/sub-version fields").
type HandshakeResult struct {
	Version        uint32
	Services       wire.ServiceFlag
	StartingHeight int32
	SubVersion     string
	IsClient       bool
}

// FromVersionMessage extracts a HandshakeResult from a received
// *wire.MsgVersion, applying the spec's is_client rule: a peer that
// advertises no NODE_NETWORK service bit is unsuitable for sync.
func FromVersionMessage(m *wire.MsgVersion) HandshakeResult {
	return HandshakeResult{
		Version:        uint32(m.ProtocolVersion),
		Services:       m.Services,
		StartingHeight: m.LastBlock,
		SubVersion:     m.UserAgent,
		IsClient:       m.Services&wire.SFNodeNetwork == 0,
	}
}

// NewVersionMessage builds the outbound version message this node sends,
// advertising NODE_NETWORK and the supplied starting height.
func NewVersionMessage(nonce uint64, startingHeight int32) *wire.MsgVersion {
	v := wire.NewMsgVersion(
		wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork),
		wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork),
		nonce,
		startingHeight,
	)
	v.Services = wire.SFNodeNetwork
	v.ProtocolVersion = int32(ProtocolVersion)
	return v
}
