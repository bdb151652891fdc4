package classify

import (
	"net/netip"
	"strings"
)

// reservedPrefixes lists the ranges treated as private or reserved when
// SkipReserved is set. It includes loopback, link-local, RFC 1918,
// documentation and benchmarking blocks. 100.64.0.0/10 (shared CGNAT space) is
// not reserved.
var reservedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/29",
	"192.0.0.170/31",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"255.255.255.255/32",

	"::/128",
	"::1/128",
	"::ffff:0:0/96",
	"64:ff9b:1::/48",
	"100::/64",
	"2001::/23",
	"2001:db8::/32",
	"2001:10::/28",
	"fc00::/7",
	"fe80::/10",
)

// globalExceptions are globally reachable blocks carved out of the ranges above.
var globalExceptions = mustPrefixes(
	"192.0.0.9/32",
	"192.0.0.10/32",

	"2001:1::1/128",
	"2001:1::2/128",
	"2001:3::/32",
	"2001:4:112::/48",
	"2001:20::/28",
	"2001:30::/28",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// IsReserved reports whether s parses as an IP address inside a private or
// reserved range. Strings that do not parse are not reserved.
func IsReserved(s string) bool {
	// Zones are not part of the range check.
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	for _, p := range globalExceptions {
		if p.Contains(addr) {
			return false
		}
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
