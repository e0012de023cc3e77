package domain

import (
	"net"
	"time"
)

// ResolutionCache memoizes DNS lookups for upstream hosts so repeat
// connects to the same host skip a redundant resolver round trip. It is
// not a response cache — no response body is ever stored here.
type ResolutionCache interface {
	Lookup(host string) ([]net.IP, bool)
	Store(host string, addrs []net.IP, ttl time.Duration)
}
