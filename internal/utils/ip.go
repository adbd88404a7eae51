package utils

import (
	"net"
	"net/netip"
	"strings"
)

// ParseIPv4Token reports whether s is an IPv4 address or network, accepting
// "a.b.c.d", "a.b.c.d/len" and "a.b.c.d/m.m.m.m". The canonical form is
// returned; a /32 network collapses to the bare address.
func ParseIPv4Token(s string) (string, bool) {
	s = strings.TrimSpace(s)
	addrPart, maskPart, hasMask := strings.Cut(s, "/")

	addr, err := netip.ParseAddr(addrPart)
	if err != nil || !addr.Is4() {
		return "", false
	}
	if !hasMask {
		return addr.String(), true
	}

	bits, ok := MaskBits(maskPart)
	if !ok {
		return "", false
	}
	if bits == 32 {
		return addr.String(), true
	}
	prefix := netip.PrefixFrom(addr, bits)
	// Host bits set, e.g. 10.0.0.1/24, is not a network.
	if prefix.Masked().Addr() != addr {
		return "", false
	}
	return prefix.String(), true
}

// MaskBits converts a prefix length ("24") or a dotted netmask
// ("255.255.255.0") to a number of leading one bits.
func MaskBits(mask string) (int, bool) {
	if strings.Contains(mask, ".") {
		ip := net.ParseIP(mask).To4()
		if ip == nil {
			return 0, false
		}
		ones, bits := net.IPMask(ip).Size()
		if bits == 0 {
			// Non-contiguous mask.
			return 0, false
		}
		return ones, true
	}
	n := 0
	if mask == "" || len(mask) > 2 {
		return 0, false
	}
	for _, c := range mask {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n > 32 {
		return 0, false
	}
	return n, true
}

// IsHostAddress reports whether a canonical token is a single address rather than a network.
func IsHostAddress(token string) bool {
	return !strings.Contains(token, "/")
}

// HostMask returns the address with an explicit /32 suffix.
func HostMask(addr string) string {
	return addr + "/32"
}
