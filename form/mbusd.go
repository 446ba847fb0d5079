package form

import (
	"errors"
	"strconv"

	"github.com/timzifer/mbusdconf/config"
)

// Tab names of the mbusd section.
const (
	TabGeneral = "general"
	TabRTU     = "rtu"
	TabTCP     = "tcp"
)

// Messages reported by the uniqueness validators.
const (
	MsgDuplicateDevice = "Multiple instances with same device is not allowed"
	MsgDuplicatePort   = "Multiple instances with same TCP port is not allowed"
)

// NewMbusdMap declares the Modbus TCP to RTU gateway form. devices are
// offered as suggestions for the serial device field.
func NewMbusdMap(devices []string) *Map {
	m := NewMap(config.SectionType, "Modbus TCP to Modbus RTU Gateway")

	s := m.Section(config.SectionType, "Ports Configuration")
	s.AddRemove = true
	s.Anonymous = true
	s.Sortable = true

	s.Tab(TabGeneral, "General Settings")
	s.Tab(TabRTU, "RTU Settings")
	s.Tab(TabTCP, "TCP Settings")

	o := s.TabOption(TabGeneral, KindFlag, config.KeyEnable, "Enable")
	o.Required = true
	o.Default = config.FormatFlag(config.DefaultEnable)
	o.Editable = true

	o = s.TabOption(TabGeneral, KindEnum, config.KeyLogVerbosity, "Log verbosity")
	o.Required = true
	o.ModalOnly = true
	o.Default = strconv.Itoa(config.DefaultLogVerbosity)
	o.Value("0", "Only errors")
	o.Value("1", "Warnings")
	o.Value("2", "Information")

	o = s.TabOption(TabRTU, KindString, config.KeyDevice, "Serial device")
	o.Required = true
	o.Editable = true
	o.Width = "150px"
	o.Datatype = DatatypeString
	for _, device := range devices {
		o.Value(device)
	}
	o.Validate(uniqueDevice)

	o = s.TabOption(TabRTU, KindEnum, config.KeySpeed, "Baudrate")
	o.Required = true
	o.Default = strconv.Itoa(config.DefaultSpeed)
	o.Width = "100px"
	o.Editable = true
	for _, speed := range config.Speeds {
		o.Value(strconv.Itoa(speed))
	}

	o = s.TabOption(TabRTU, KindEnum, config.KeyParity, "Parity")
	o.Required = true
	o.Default = config.DefaultParity
	o.Editable = true
	o.Width = "100px"
	o.Value("none", "None")
	o.Value("even", "Even")
	o.Value("odd", "Odd")

	o = s.TabOption(TabRTU, KindEnum, config.KeyStopBits, "Stop bits")
	o.Required = true
	o.Default = strconv.Itoa(config.DefaultStopBits)
	o.Editable = true
	o.Value("1")
	o.Value("2")

	o = s.TabOption(TabRTU, KindIntRange, config.KeyRetries, "Request retries",
		"Specifies maximum number of request retries (0-15, 0 means no retries)")
	o.Required = true
	o.Min, o.Max = 0, 15
	o.ModalOnly = true
	o.Default = strconv.Itoa(config.DefaultRetries)

	o = s.TabOption(TabRTU, KindIntRange, config.KeyPause, "Pause between requests",
		"Specifies pause between requests in milliseconds (1-10000)")
	o.Required = true
	o.Min, o.Max = 1, 10000
	o.ModalOnly = true
	o.Default = strconv.Itoa(config.DefaultPause)

	o = s.TabOption(TabRTU, KindIntRange, config.KeyWait, "Response wait time",
		"Specifies response wait time in milliseconds (1-10000)")
	o.Required = true
	o.Min, o.Max = 1, 10000
	o.ModalOnly = true
	o.Default = strconv.Itoa(config.DefaultWait)

	o = s.TabOption(TabTCP, KindString, config.KeyBind, "TCP address")
	o.Required = true
	o.ModalOnly = true
	o.Default = config.DefaultBind
	o.Editable = true
	o.Datatype = DatatypeIPAddr

	o = s.TabOption(TabTCP, KindIntRange, config.KeyPort, "TCP port")
	o.Required = true
	o.Min, o.Max = 1, 65535
	o.Default = strconv.Itoa(config.DefaultTCPPort)
	o.Width = "100px"
	o.Editable = true
	o.Validate(uniquePort)

	o = s.TabOption(TabTCP, KindIntRange, config.KeyMaxConn, "Maximum TCP connections",
		"Specifies maximum number of simultaneous TCP connections (1-128)")
	o.Required = true
	o.ModalOnly = true
	o.Min, o.Max = 1, 128
	o.Default = strconv.Itoa(config.DefaultMaxConn)

	o = s.TabOption(TabTCP, KindIntRange, config.KeyTimeout, "Timeout",
		"Specifies connection timeout in seconds (0-1000, 0 means no timeout)")
	o.Min, o.Max = 0, 1000
	o.Required = true
	o.ModalOnly = true
	o.Default = strconv.Itoa(config.DefaultTimeout)

	return m
}

func uniqueDevice(values Values, sectionID, value string) error {
	return unique(values, sectionID, config.KeyDevice, value, MsgDuplicateDevice)
}

func uniquePort(values Values, sectionID, value string) error {
	return unique(values, sectionID, config.KeyPort, value, MsgDuplicatePort)
}

// unique fails when a sibling section currently holds value for key.
func unique(values Values, sectionID, key, value, message string) error {
	for _, id := range values.SectionIDs() {
		if id == sectionID {
			continue
		}
		if values.FormValue(id, key) == value {
			return errors.New(message)
		}
	}
	return nil
}
