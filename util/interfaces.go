package util

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var (
	ErrInterfaceDown = errors.New("interface is down")
	ErrNoAddress     = errors.New("interface has no usable address")
)

// BindIface returns an address of the named interface to source probes
// from, of the IPv6 family when ipv6 is set.
func BindIface(ifaceName string, ipv6 bool) (addr string, err error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return
	}
	if !IsUp(iface) {
		err = fmt.Errorf("%v: %w", ifaceName, ErrInterfaceDown)
		return
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return
	}

	cidrs := make([]string, 0, len(addrs))
	for _, a := range addrs {
		cidrs = append(cidrs, a.String())
	}
	addr, err = PickAddr(cidrs, ipv6)
	if err != nil {
		err = fmt.Errorf("%v: %w", ifaceName, err)
	}
	return
}

// PickAddr chooses the first address of the wanted family from a list of
// interface prefixes, preferring global addresses over link-local ones.
func PickAddr(cidrs []string, ipv6 bool) (string, error) {
	var linkLocal string
	for _, c := range cidrs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			continue
		}
		ip := prefix.Addr().Unmap()
		if ip.Is6() != ipv6 {
			continue
		}
		if ip.IsLinkLocalUnicast() {
			if linkLocal == "" {
				linkLocal = ip.String()
			}
			continue
		}
		return ip.String(), nil
	}
	if linkLocal != "" {
		return linkLocal, nil
	}
	return "", ErrNoAddress
}

// IsIPv6 reports whether address is an IPv6 literal
func IsIPv6(address string) bool {
	ip, err := netip.ParseAddr(address)
	return err == nil && ip.Unmap().Is6()
}

func IsUp(nif *net.Interface) bool { return nif.Flags&net.FlagUp != 0 }
