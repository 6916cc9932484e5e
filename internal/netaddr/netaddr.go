// Package netaddr implements the canonical peer address types shared by
// the address book, ban table, and connection manager.
package netaddr

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/btcsuite/btcd/wire"
)

// NetworkClass buckets an address for routability and group-diversity
// decisions. Mirrors the classes enumerated in spec.md §3.
type NetworkClass int

const (
	ClassUnroutable NetworkClass = iota
	ClassIPv4
	ClassIPv6
	ClassOnion
	ClassTeredo
)

var onionCatPrefix = [6]byte{0xfd, 0x87, 0xd8, 0x7e, 0xeb, 0x43}
var teredoPrefix = [4]byte{0x20, 0x01, 0x00, 0x00}

// NetAddress is a canonical 16-byte IPv6-mapped address plus the family it
// originally came from. Two NetAddresses are equal iff their canonical
// bytes match (spec.md §3).
type NetAddress struct {
	raw      [16]byte
	wasV4    bool
	Services wire.ServiceFlag
}

// New builds a NetAddress from a net.IP, canonicalizing it to 16 bytes.
func New(ip net.IP, services wire.ServiceFlag) NetAddress {
	na := NetAddress{Services: services}
	if v4 := ip.To4(); v4 != nil {
		na.wasV4 = true
		copy(na.raw[10:12], []byte{0xff, 0xff})
		copy(na.raw[12:16], v4)
		return na
	}
	if v6 := ip.To16(); v6 != nil {
		copy(na.raw[:], v6)
	}
	return na
}

// IP returns the net.IP view of this address.
func (a NetAddress) IP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, a.raw[:])
	return ip
}

// Equal reports whether the canonical bytes match.
func (a NetAddress) Equal(b NetAddress) bool { return a.raw == b.raw }

// Bytes returns the canonical 16-byte representation, usable as a map key
// via the caller converting it to a string.
func (a NetAddress) Bytes() [16]byte { return a.raw }

func (a NetAddress) isIPv4Mapped() bool {
	prefix := [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}
	return [12]byte(a.raw[:12]) == prefix
}

func (a NetAddress) isTeredo() bool {
	return a.raw[0] == teredoPrefix[0] && a.raw[1] == teredoPrefix[1] &&
		a.raw[2] == teredoPrefix[2] && a.raw[3] == teredoPrefix[3]
}

func (a NetAddress) isOnionCat() bool {
	for i, b := range onionCatPrefix {
		if a.raw[i] != b {
			return false
		}
	}
	return true
}

// Class classifies the address per spec.md §3.
func (a NetAddress) Class() NetworkClass {
	switch {
	case a.isOnionCat():
		return ClassOnion
	case a.isTeredo():
		return ClassTeredo
	case a.isIPv4Mapped():
		return ClassIPv4
	default:
		ip := a.IP()
		if ip.IsUnspecified() || ip.IsLoopback() {
			return ClassUnroutable
		}
		return ClassIPv6
	}
}

// IsRoutable reports whether the address can plausibly be dialed over the
// public Internet.
func (a NetAddress) IsRoutable() bool {
	ip := a.IP()
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return false
		case ip4[0] == 172 && ip4[1]&0xf0 == 16:
			return false
		case ip4[0] == 192 && ip4[1] == 168:
			return false
		case ip4[0] == 169 && ip4[1] == 254:
			return false
		}
	}
	return true
}

// IsLocal reports whether the address refers to this host.
func (a NetAddress) IsLocal() bool {
	ip := a.IP()
	return ip.IsLoopback() || ip.IsUnspecified()
}

// GroupKey returns the byte prefix used for network-group diversity: a
// /16-equivalent for IPv4, a /32-equivalent for IPv6, per spec.md §3.
func (a NetAddress) GroupKey() string {
	switch a.Class() {
	case ClassIPv4:
		return "v4:" + string(a.raw[12:14])
	case ClassOnion:
		return "onion:" + string(a.raw[6:10])
	case ClassTeredo:
		return "teredo"
	case ClassUnroutable:
		return "local"
	default:
		return "v6:" + string(a.raw[0:4])
	}
}

// GobEncode implements gob.GobEncoder so the unexported canonical bytes
// survive the address book's peers.dat snapshot (spec.md §6).
func (a NetAddress) GobEncode() ([]byte, error) {
	out := make([]byte, 0, 16+1+4)
	out = append(out, a.raw[:]...)
	if a.wasV4 {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var svc [4]byte
	binary.BigEndian.PutUint32(svc[:], uint32(a.Services))
	return append(out, svc[:]...), nil
}

// GobDecode implements gob.GobDecoder, the inverse of GobEncode.
func (a *NetAddress) GobDecode(data []byte) error {
	if len(data) < 21 {
		return nil
	}
	copy(a.raw[:], data[:16])
	a.wasV4 = data[16] == 1
	a.Services = wire.ServiceFlag(binary.BigEndian.Uint32(data[17:21]))
	return nil
}

// Endpoint is a NetAddress plus a port, the unit actually dialed.
type Endpoint struct {
	NetAddress
	Port uint16
}

// GobEncode appends the port to the NetAddress encoding; without it the
// promoted NetAddress.GobEncode would drop the port from peers.dat.
func (e Endpoint) GobEncode() ([]byte, error) {
	out, _ := e.NetAddress.GobEncode()
	return binary.BigEndian.AppendUint16(out, e.Port), nil
}

// GobDecode implements gob.GobDecoder, the inverse of Endpoint.GobEncode.
func (e *Endpoint) GobDecode(data []byte) error {
	if len(data) >= 23 {
		e.Port = binary.BigEndian.Uint16(data[21:23])
	}
	return e.NetAddress.GobDecode(data)
}

// String renders "ip:port" for logs and the address book's dump format.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP().String(), strconv.Itoa(int(e.Port)))
}
