package node

import (
	"math/rand"
	"net"
	"strings"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

// NormalizeBrokerURL adds a scheme and default port to a bare host or
// host:port.
func NormalizeBrokerURL(addr, defScheme, defPort string) string {
	scheme := defScheme
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme, addr = addr[:i], addr[i+3:]
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defPort)
	}
	return scheme + "://" + addr
}

// RandomWorkerAddress picks a worker address in [1, MaxWorkerAddress).
// Nothing prevents two workers from drawing the same value.
func RandomWorkerAddress(r *rand.Rand) detector.Address {
	return detector.Address(1 + r.Int63n(int64(detector.MaxWorkerAddress)-1))
}
