// Package netutil discovers a free port and the host's LAN address.
package netutil

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
)

var (
	// ErrOpenPort is returned when no free port could be obtained.
	ErrOpenPort = errors.New("failed to get an open port")
	// ErrLocalIPAddress is returned when interface addresses cannot be read.
	ErrLocalIPAddress = errors.New("failed to get the local IP address")
)

// Wire codes for the errors above.
const (
	CodeOpenPort       = "FAIL_GET_OPEN_PORT"
	CodeLocalIPAddress = "FAIL_GET_LOCAL_IP_ADDRESS"
)

// Code returns the wire code for err, or "".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrOpenPort):
		return CodeOpenPort
	case errors.Is(err, ErrLocalIPAddress):
		return CodeLocalIPAddress
	default:
		return ""
	}
}

// OpenPort binds address on port 0 and returns the port the kernel chose.
// An empty address means all interfaces.
func OpenPort(address string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(address, "0"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOpenPort, err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// PortInRange returns a free port in [min, max] on host, trying random
// ports first and then scanning the range.
func PortInRange(host string, min, max int) (int, error) {
	if min <= 0 || max < min || max > 65535 {
		return 0, fmt.Errorf("%w: invalid port range %d-%d", ErrOpenPort, min, max)
	}
	size := max - min + 1
	for attempt := 0; attempt < size && attempt < 32; attempt++ {
		port := min + rand.IntN(size)
		if PortAvailable(host, port) {
			return port, nil
		}
	}
	for port := min; port <= max; port++ {
		if PortAvailable(host, port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: no available ports in range %d-%d", ErrOpenPort, min, max)
}

// PortAvailable reports whether port can be bound on host.
func PortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// interfaceAddrs is replaced in tests.
var interfaceAddrs = func() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}
		out = append(out, addrs...)
	}
	return out, nil
}

// LocalIPAddress returns the first non-loopback IPv4 address of an up
// interface, or 127.0.0.1 when there is none.
func LocalIPAddress() (string, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLocalIPAddress, err)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "127.0.0.1", nil
}
