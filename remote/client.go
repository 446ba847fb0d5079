// Package remote checks whether the endpoints of configured gateway ports are
// reachable: the Modbus TCP listener served by mbusd and the serial device it
// drives.
package remote

import (
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"
)

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = 2 * time.Second

// TCPConnector opens and closes a Modbus TCP session.
type TCPConnector func(address string, timeout time.Duration) error

// ConnectModbusTCP connects a Modbus TCP client handler to address and closes it again.
func ConnectModbusTCP(address string, timeout time.Duration) error {
	if address == "" {
		return fmt.Errorf("tcp address is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.IdleTimeout = timeout
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	if err := handler.Close(); err != nil {
		return fmt.Errorf("close %s: %w", address, err)
	}
	return nil
}

// DialAddress returns the address a local client uses to reach a listener
// bound to bind:port. Wildcard binds are reached over loopback.
func DialAddress(bind string, port int) string {
	host := bind
	if ip := net.ParseIP(bind); ip != nil && ip.IsUnspecified() {
		if ip.To4() != nil {
			host = "127.0.0.1"
		} else {
			host = "::1"
		}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}
