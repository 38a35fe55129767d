package transport

import (
	"fmt"
	"log"

	"go.bug.st/serial"
)

// SerialConfig holds configuration for a serial port transport.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// DefaultBaudRate is the NMEA 0183 standard rate.
const DefaultBaudRate = 4800

// OpenSerial opens a serial port in 8N1 mode.
//
// No read timeout is set on the port: a pending Read only returns on data,
// error or Close, which is what the reader loop relies on.
func OpenSerial(cfg SerialConfig, opts ...Option) (*Conn, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.PortPath, err)
	}
	log.Printf("[serial] opened %s at %d baud", cfg.PortPath, cfg.BaudRate)
	return Wrap(fmt.Sprintf("serial:%s", cfg.PortPath), port, opts...), nil
}

// ListSerialPorts returns the serial ports present on this machine.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: failed to list ports: %w", err)
	}
	return ports, nil
}
