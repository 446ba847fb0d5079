package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Option keys of an mbusd section.
const (
	KeyEnable       = "enable"
	KeyLogVerbosity = "log_verbosity"
	KeyDevice       = "device"
	KeySpeed        = "speed"
	KeyParity       = "parity"
	KeyStopBits     = "stopbits"
	KeyRetries      = "retries"
	KeyPause        = "pause"
	KeyWait         = "wait"
	KeyBind         = "bind"
	KeyPort         = "port"
	KeyMaxConn      = "maxconn"
	KeyTimeout      = "timeout"
)

// Defaults applied to options missing from a section.
const (
	DefaultEnable       = true
	DefaultLogVerbosity = 1
	DefaultSpeed        = 115200
	DefaultParity       = "none"
	DefaultStopBits     = 1
	DefaultRetries      = 3
	DefaultPause        = 100
	DefaultWait         = 500
	DefaultBind         = "0.0.0.0"
	DefaultTCPPort      = 502
	DefaultMaxConn      = 8
	DefaultTimeout      = 60
)

// Speeds lists the baud rates mbusd accepts.
var Speeds = []int{110, 150, 300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Parities lists the accepted parity modes.
var Parities = []string{"none", "even", "odd"}

// PortSection is the typed view of one Modbus TCP to RTU mapping.
type PortSection struct {
	Name         string `json:"-"`
	Enable       bool   `json:"enable"`
	LogVerbosity int    `json:"log_verbosity"`
	Device       string `json:"device"`
	Speed        int    `json:"speed"`
	Parity       string `json:"parity"`
	StopBits     int    `json:"stopbits"`
	Retries      int    `json:"retries"`
	Pause        int    `json:"pause"`
	Wait         int    `json:"wait"`
	Bind         string `json:"bind"`
	Port         int    `json:"port"`
	MaxConn      int    `json:"maxconn"`
	Timeout      int    `json:"timeout"`
}

// DefaultPort returns a section populated with defaults and no device.
func DefaultPort() PortSection {
	return PortSection{
		Enable:       DefaultEnable,
		LogVerbosity: DefaultLogVerbosity,
		Speed:        DefaultSpeed,
		Parity:       DefaultParity,
		StopBits:     DefaultStopBits,
		Retries:      DefaultRetries,
		Pause:        DefaultPause,
		Wait:         DefaultWait,
		Bind:         DefaultBind,
		Port:         DefaultTCPPort,
		MaxConn:      DefaultMaxConn,
		Timeout:      DefaultTimeout,
	}
}

// DecodePort converts raw option strings into a PortSection. Missing or empty
// options keep their defaults. Range checks are left to the schema.
func DecodePort(values map[string]string) (PortSection, error) {
	port := DefaultPort()
	if raw, ok := lookup(values, KeyEnable); ok {
		enabled, err := ParseFlag(raw)
		if err != nil {
			return port, fmt.Errorf("%s: %w", KeyEnable, err)
		}
		port.Enable = enabled
	}
	port.Device = strings.TrimSpace(values[KeyDevice])
	if raw, ok := lookup(values, KeyParity); ok {
		port.Parity = raw
	}
	if raw, ok := lookup(values, KeyBind); ok {
		port.Bind = raw
	}

	ints := []struct {
		key    string
		target *int
	}{
		{KeyLogVerbosity, &port.LogVerbosity},
		{KeySpeed, &port.Speed},
		{KeyStopBits, &port.StopBits},
		{KeyRetries, &port.Retries},
		{KeyPause, &port.Pause},
		{KeyWait, &port.Wait},
		{KeyPort, &port.Port},
		{KeyMaxConn, &port.MaxConn},
		{KeyTimeout, &port.Timeout},
	}
	for _, field := range ints {
		raw, ok := lookup(values, field.key)
		if !ok {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return port, fmt.Errorf("%s: invalid integer %q", field.key, raw)
		}
		*field.target = value
	}
	return port, nil
}

// Values renders the section back into UCI option strings.
func (p PortSection) Values() map[string]string {
	return map[string]string{
		KeyEnable:       FormatFlag(p.Enable),
		KeyLogVerbosity: strconv.Itoa(p.LogVerbosity),
		KeyDevice:       p.Device,
		KeySpeed:        strconv.Itoa(p.Speed),
		KeyParity:       p.Parity,
		KeyStopBits:     strconv.Itoa(p.StopBits),
		KeyRetries:      strconv.Itoa(p.Retries),
		KeyPause:        strconv.Itoa(p.Pause),
		KeyWait:         strconv.Itoa(p.Wait),
		KeyBind:         p.Bind,
		KeyPort:         strconv.Itoa(p.Port),
		KeyMaxConn:      strconv.Itoa(p.MaxConn),
		KeyTimeout:      strconv.Itoa(p.Timeout),
	}
}

// TCPAddress returns the listener address of the section.
func (p PortSection) TCPAddress() string {
	return net.JoinHostPort(p.Bind, strconv.Itoa(p.Port))
}

// ParseFlag accepts the boolean spellings understood by UCI.
func ParseFlag(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on", "enabled":
		return true, nil
	case "0", "false", "no", "off", "disabled":
		return false, nil
	default:
		return false, fmt.Errorf("invalid flag %q", raw)
	}
}

// FormatFlag renders a boolean the way UCI stores it.
func FormatFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func lookup(values map[string]string, key string) (string, bool) {
	raw, ok := values[key]
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}
