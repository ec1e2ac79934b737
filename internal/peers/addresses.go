package peers

import (
	"net"
	"net/url"
	"strconv"
)

// FromPlatformAddresses converts platform-advertised API endpoints
// (https://host:port) to peer-to-peer addresses on the network's P2P
// port. Hosts that are not literal IP addresses are skipped; peer
// connections never resolve DNS through platform endpoints.
func FromPlatformAddresses(endpoints []string, p2pPort uint16) []string {
	var addrs []string
	for _, endpoint := range endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || u.Hostname() == "" {
			continue
		}
		ip := net.ParseIP(u.Hostname())
		if ip == nil {
			continue
		}
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(int(p2pPort))))
	}
	return addrs
}

// BuildAddressList produces the session's candidate addresses:
// platform-advertised addresses first, the static fallback list last,
// with duplicates removed while preserving order.
func BuildAddressList(platform, fallback []string) []string {
	seen := make(map[string]struct{}, len(platform)+len(fallback))
	var out []string
	for _, addr := range append(append([]string{}, platform...), fallback...) {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
