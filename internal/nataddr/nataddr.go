// Package nataddr provides the external-address boundary the listener
// uses to announce itself: an Interface abstraction plus concrete
// UPnP, NAT-PMP and static-IP implementations, mirroring the shape of
// the teacher's network/p2p/nat package (itself go-ethereum's
// p2p/nat.Interface).
package nataddr

import (
	"fmt"
	"net"
	"strings"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/sirupsen/logrus"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
)

// Interface is the mechanism a node uses to learn and advertise its
// address on the wider internet.
type Interface interface {
	// AddMapping maps an external port to a local port, returning once
	// the mapping is in place (or an error).
	AddMapping(protocol string, extPort, intPort int, desc string, lifetime time.Duration) error
	// DeleteMapping removes a previously added port mapping.
	DeleteMapping(protocol string, extPort, intPort int) error
	// ExternalIP returns the node's address as seen from outside the NAT.
	ExternalIP() (net.IP, error)
	// String returns a description, used in logs.
	String() string
}

// ExtIP implements Interface for a statically configured external
// address with no port mapping capability (spec.md §6's `-externalip`).
type ExtIP net.IP

func (n ExtIP) ExternalIP() (net.IP, error) { return net.IP(n), nil }
func (n ExtIP) String() string              { return fmt.Sprintf("ExtIP(%v)", net.IP(n)) }

func (n ExtIP) AddMapping(string, int, int, string, time.Duration) error { return nil }
func (n ExtIP) DeleteMapping(string, int, int) error                     { return nil }

// Parse parses a -nat flag value the way the teacher's config layer
// does: "none" (also "off" or empty), "extip:<ip>", "upnp", "pmp", or
// "any" (also "auto").
func Parse(spec string) (Interface, error) {
	var mechanism, rest string
	if i := strings.Index(spec, ":"); i == -1 {
		mechanism = spec
	} else {
		mechanism, rest = spec[:i], spec[i+1:]
	}
	switch strings.ToLower(mechanism) {
	case "", "none", "off":
		return nil, nil
	case "extip":
		ip := net.ParseIP(rest)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP for -nat extip: %q", rest)
		}
		return ExtIP(ip), nil
	case "upnp":
		return UPnP(), nil
	case "pmp":
		return PMP(), nil
	case "any", "auto":
		return Any(), nil
	default:
		return nil, fmt.Errorf("unknown -nat mechanism %q", spec)
	}
}

// Any probes UPnP first, falling back to NAT-PMP, returning the first
// one that answers; nil if neither is reachable.
func Any() Interface {
	if n := UPnP(); n != nil {
		return n
	}
	return PMP()
}

type upnpClient interface {
	AddPortMapping(externalIPAddress string, externalPort uint16, protocol string, internalPort uint16, internalClient string, enabled bool, description string, leaseDuration uint32) error
	DeletePortMapping(externalIPAddress string, externalPort uint16, protocol string) error
	GetExternalIPAddress() (string, error)
}

// upnp implements Interface over a discovered UPnP Internet Gateway
// Device, backed by huin/goupnp.
type upnp struct {
	dev     *goupnp.RootDevice
	client  upnpClient
	localIP net.IP
}

func (n *upnp) String() string { return "UPnP IGD" }

func (n *upnp) ExternalIP() (net.IP, error) {
	s, err := n.client.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("IGD returned unparseable IP %q", s)
	}
	return ip, nil
}

func (n *upnp) AddMapping(protocol string, extPort, intPort int, desc string, lifetime time.Duration) error {
	ip := n.localIP
	if ip == nil {
		var err error
		ip, err = n.internalAddress()
		if err != nil {
			return err
		}
	}
	protocol = strings.ToUpper(protocol)
	lifetimeS := uint32(lifetime / time.Second)
	if err := n.client.AddPortMapping("", uint16(extPort), protocol, uint16(intPort), ip.String(), true, desc, lifetimeS); err != nil {
		return err
	}
	return nil
}

func (n *upnp) internalAddress() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if x, ok := addr.(*net.IPNet); ok && x.IP.To4() != nil && !x.IP.IsLoopback() {
				return x.IP, nil
			}
		}
	}
	return nil, fmt.Errorf("no routable internal address found")
}

func (n *upnp) DeleteMapping(protocol string, extPort, intPort int) error {
	return n.client.DeletePortMapping("", uint16(extPort), strings.ToUpper(protocol))
}

// UPnP discovers a UPnP-capable gateway on the local network and
// returns an Interface for it, or nil if none responds.
func UPnP() Interface {
	found := make(chan *upnp, 2)
	go discoverUPnP(internetgateway2.URN_WANConnectionDevice_2, found)
	go discoverUPnP(internetgateway1.URN_WANConnectionDevice_1, found)
	for i := 0; i < 2; i++ {
		if dev := <-found; dev != nil {
			return dev
		}
	}
	return nil
}

func discoverUPnP(searchTarget string, out chan<- *upnp) {
	devs, err := goupnp.DiscoverDevices(searchTarget)
	if err != nil || len(devs) == 0 {
		out <- nil
		return
	}
	for _, dev := range devs {
		if dev.Root == nil {
			continue
		}
		client, ok := wanConnectionClient(dev.Root)
		if !ok {
			continue
		}
		out <- &upnp{dev: dev.Root, client: client}
		return
	}
	out <- nil
}

func wanConnectionClient(root *goupnp.RootDevice) (upnpClient, bool) {
	if clients, err := internetgateway2.NewWANIPConnection2ClientsByURL(root.URLBaseURL()); err == nil && len(clients) > 0 {
		return clients[0], true
	}
	if clients, err := internetgateway1.NewWANIPConnection1ClientsByURL(root.URLBaseURL()); err == nil && len(clients) > 0 {
		return clients[0], true
	}
	if clients, err := internetgateway1.NewWANPPPConnection1ClientsByURL(root.URLBaseURL()); err == nil && len(clients) > 0 {
		return clients[0], true
	}
	return nil, false
}

// pmp implements Interface over NAT-PMP, backed by jackpal/go-nat-pmp.
type pmp struct {
	gw     net.IP
	client *natpmp.Client
}

func (n *pmp) String() string { return fmt.Sprintf("NAT-PMP(%v)", n.gw) }

func (n *pmp) ExternalIP() (net.IP, error) {
	res, err := n.client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	return net.IP(res.ExternalIPAddress[:]), nil
}

func (n *pmp) AddMapping(protocol string, extPort, intPort int, desc string, lifetime time.Duration) error {
	proto := strings.ToLower(protocol)
	_, err := n.client.AddPortMapping(proto, intPort, extPort, int(lifetime/time.Second))
	return err
}

func (n *pmp) DeleteMapping(protocol string, extPort, intPort int) error {
	_, err := n.client.AddPortMapping(strings.ToLower(protocol), intPort, 0, 0)
	return err
}

// PMP discovers a default gateway and probes it for NAT-PMP support,
// returning nil if unreachable.
func PMP() Interface {
	gw, err := defaultGateway()
	if err != nil {
		return nil
	}
	client := natpmp.NewClient(gw)
	if _, err := client.GetExternalAddress(); err != nil {
		return nil
	}
	return &pmp{gw: gw, client: client}
}

func defaultGateway() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if x, ok := addr.(*net.IPNet); ok && x.IP.To4() != nil && !x.IP.IsLoopback() {
				gw := x.IP.Mask(x.Mask)
				gw[len(gw)-1] |= 1
				return gw, nil
			}
		}
	}
	return nil, fmt.Errorf("no default gateway found")
}

// Map keeps a single port mapping alive for the node's lifetime,
// renewing it periodically and deleting it on shutdown. Mirrors the
// teacher's background nat.Map goroutine.
func Map(n Interface, quit <-chan struct{}, protocol string, extPort, intPort int, desc string) {
	if n == nil {
		return
	}
	const renewalPeriod = 20 * time.Minute
	log := logrus.NewEntry(logrus.StandardLogger()).WithField("nat", n.String())

	refresh := time.NewTimer(0)
	defer refresh.Stop()
	for {
		select {
		case <-refresh.C:
			if err := n.AddMapping(protocol, extPort, intPort, desc, renewalPeriod*2); err != nil {
				log.WithError(err).Debug("port mapping failed")
			} else {
				log.Debug("port mapping refreshed")
			}
			refresh.Reset(renewalPeriod)
		case <-quit:
			if err := n.DeleteMapping(protocol, extPort, intPort); err != nil {
				log.WithError(err).Debug("port unmapping failed")
			}
			return
		}
	}
}
