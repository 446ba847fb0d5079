package remote

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/timzifer/mbusdconf/config"
)

// SerialOpener opens a serial device with the given mode.
type SerialOpener func(device string, mode *serial.Mode) (serial.Port, error)

// SerialMode converts the RTU settings of a port into a serial mode. mbusd
// always uses 8 data bits.
func SerialMode(port config.PortSection) (*serial.Mode, error) {
	var stopBits serial.StopBits
	switch port.StopBits {
	case 1:
		stopBits = serial.OneStopBit
	case 2:
		stopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", port.StopBits)
	}

	var parity serial.Parity
	switch port.Parity {
	case "none":
		parity = serial.NoParity
	case "even":
		parity = serial.EvenParity
	case "odd":
		parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", port.Parity)
	}

	return &serial.Mode{
		BaudRate: port.Speed,
		DataBits: 8,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

func probeSerial(open SerialOpener, port config.PortSection) error {
	if port.Device == "" {
		return fmt.Errorf("serial device is required")
	}
	mode, err := SerialMode(port)
	if err != nil {
		return err
	}
	p, err := open(port.Device, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", port.Device, err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("close %s: %w", port.Device, err)
	}
	return nil
}
