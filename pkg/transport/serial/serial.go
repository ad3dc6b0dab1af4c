// Package serial opens serial ports as line transports.
package serial

import (
	"fmt"

	tarm "github.com/tarm/serial"

	"github.com/robotalks/gstream/pkg/transport"
	"github.com/robotalks/gstream/pkg/transport/framed"
)

// DefaultBaud is the GRBL default baud rate.
const DefaultBaud = 115200

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string
	Baud   int
	// Terminator appended to written lines, "\n" if empty.
	Terminator string
}

// DefaultConfig returns a default configuration for device.
func DefaultConfig(device string) *Config {
	return &Config{Device: device, Baud: DefaultBaud}
}

// OpenLines opens the port as a LineReadWriter.
// Reads block; timeouts are handled by transport.Conn.
func OpenLines(c *Config) (*framed.ReadWriter, error) {
	baud := c.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := tarm.OpenPort(&tarm.Config{Name: c.Device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", c.Device, err)
	}
	rw := framed.New(&inputPort{port: port})
	if c.Terminator != "" {
		rw.Terminator = c.Terminator
	}
	return rw, nil
}

// inputPort hides tarm's Flush, which also drops output not yet
// transmitted. Inbound data is discarded by framed.ReadWriter and
// transport.Conn, whose reader keeps the OS buffer drained.
type inputPort struct {
	port *tarm.Port
}

func (p *inputPort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *inputPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *inputPort) Close() error {
	return p.port.Close()
}

// Open opens the port as a stream.Transport.
func Open(c *Config) (*transport.Conn, error) {
	rw, err := OpenLines(c)
	if err != nil {
		return nil, err
	}
	return transport.NewConn(rw), nil
}
