package netguard

import "net/netip"

var nonGlobalV4 = mustPrefixes(
	"0.0.0.0/8",       // "this" network
	"10.0.0.0/8",      // private
	"100.64.0.0/10",   // shared address space
	"127.0.0.0/8",     // loopback
	"169.254.0.0/16",  // link-local
	"172.16.0.0/12",   // private
	"192.0.0.0/24",    // IETF protocol assignments
	"192.0.2.0/24",    // TEST-NET-1
	"192.168.0.0/16",  // private
	"198.18.0.0/15",   // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"224.0.0.0/4",     // multicast
	"240.0.0.0/4",     // reserved, includes broadcast
)

// Globally reachable carve-outs inside 192.0.0.0/24 (PCP and TURN anycast).
var globalV4 = mustPrefixes(
	"192.0.0.9/32",
	"192.0.0.10/32",
)

var nonGlobalV6 = mustPrefixes(
	"::/96",          // unspecified, loopback, deprecated v4-compatible
	"64:ff9b::/96",   // NAT64 well-known prefix
	"64:ff9b:1::/48", // local-use NAT64
	"100::/64",       // discard-only
	"2001::/23",      // IETF protocol assignments
	"2001:db8::/32",  // documentation
	"2002::/16",      // 6to4
	"3fff::/20",      // documentation
	"fc00::/7",       // unique local
	"fe80::/10",      // link-local unicast
	"ff00::/8",       // multicast
)

var globalV6 = mustPrefixes(
	"2001:1::1/128",   // port control protocol anycast
	"2001:1::2/128",   // TURN anycast
	"2001:3::/32",     // AMT
	"2001:4:112::/48", // AS112-v6
	"2001:20::/28",    // ORCHIDv2
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

func containedIn(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsGlobal reports whether addr is routable on the public internet.
// IPv4-mapped IPv6 addresses are classified as the IPv4 address they carry and
// zones are ignored. The zero Addr is never global.
func IsGlobal(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap().WithZone("")

	if addr.Is4() {
		if containedIn(globalV4, addr) {
			return true
		}
		return !containedIn(nonGlobalV4, addr)
	}

	if containedIn(globalV6, addr) {
		return true
	}
	return !containedIn(nonGlobalV6, addr)
}
