package sys

import (
	"net"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNonLoopbackHost is returned when a listener would be reachable off-host.
var ErrNonLoopbackHost = errors.New("host is not a loopback address")

// IsLoopbackHost returns true if host (optionally host:port) only reaches the
// local machine. Unspecified addresses such as 0.0.0.0 are not loopback.
func IsLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// LoopbackAddr joins host and port, falling back to 127.0.0.1 when host is empty.
func LoopbackAddr(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
