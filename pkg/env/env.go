// Package env provides flags and environment based configuration.
package env

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robotalks/gstream/pkg/stream"
	"github.com/robotalks/gstream/pkg/transport/mqtt"
	"github.com/robotalks/gstream/pkg/transport/serial"
	"github.com/robotalks/gstream/pkg/transport/tcp"
	"github.com/robotalks/gstream/pkg/transport/websocket"
)

// Config provides common options to open a port and stream.
type Config struct {
	// PortURL locates the firmware, e.g.
	// /dev/ttyUSB0, serial:///dev/ttyUSB0?baud=115200, tcp://host:23,
	// ws://host/ws, mqtt://host:1883/gstream/<bridge-id>
	PortURL string
	Baud    int

	WakeSettle    time.Duration
	ReadTimeout   time.Duration
	DrainTimeout  time.Duration
	HaltOnFailure bool
	KeepOutcomes  bool
	FinishCommand string
	Passthrough   string

	// BrokerURL is the MQTT broker with topic prefix for bridges.
	BrokerURL string
	// BridgeID identifies a bridge under BrokerURL.
	BridgeID string
}

var defaultConfig = Config{
	Baud:          serial.DefaultBaud,
	WakeSettle:    stream.DefaultWakeSettle,
	DrainTimeout:  stream.DefaultDrainTimeout,
	KeepOutcomes:  true,
	FinishCommand: stream.ResetCommand,
	BrokerURL:     "mqtt://localhost:1883/gstream/",
}

func init() {
	if val := os.Getenv("GSTREAM_PORT"); val != "" {
		defaultConfig.PortURL = val
	}
	if val := os.Getenv("GSTREAM_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.Baud = baud
		}
	}
	if val := os.Getenv("GSTREAM_MQTT_URL"); val != "" {
		defaultConfig.BrokerURL = val
	}
	if val := os.Getenv("GSTREAM_BRIDGE_ID"); val != "" {
		defaultConfig.BridgeID = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.PortURL, "port", defaultConfig.PortURL, "Port URL or serial device path.")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Serial baud rate.")
	flag.DurationVar(&defaultConfig.WakeSettle, "wake-settle", defaultConfig.WakeSettle, "Wait for firmware initialization after wake up.")
	flag.DurationVar(&defaultConfig.ReadTimeout, "read-timeout", defaultConfig.ReadTimeout, "Timeout waiting a reply, 0 waits forever.")
	flag.DurationVar(&defaultConfig.DrainTimeout, "drain-timeout", defaultConfig.DrainTimeout, "Grace per read when draining replies.")
	flag.BoolVar(&defaultConfig.HaltOnFailure, "halt-on-error", defaultConfig.HaltOnFailure, "Stop streaming at the first rejected command.")
	flag.BoolVar(&defaultConfig.KeepOutcomes, "keep-outcomes", defaultConfig.KeepOutcomes, "Keep every command with its reply for the summary.")
	flag.StringVar(&defaultConfig.FinishCommand, "finish-cmd", defaultConfig.FinishCommand, "Command sent before closing the port, empty for none.")
	flag.StringVar(&defaultConfig.Passthrough, "passthrough", defaultConfig.Passthrough, "Comma separated prefixes of firmware lines which are not replies, e.g. \"[,<\".")
	flag.StringVar(&defaultConfig.BrokerURL, "mqtt", defaultConfig.BrokerURL, "MQTT broker URL with topic prefix.")
	flag.StringVar(&defaultConfig.BridgeID, "bridge-id", defaultConfig.BridgeID, "Bridge ID, machine ID if empty.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// OpenError is a failure to open the port.
type OpenError struct {
	PortURL string
	Err     error
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("open %q: %v", e.PortURL, e.Err)
}

// Unwrap returns the cause.
func (e *OpenError) Unwrap() error {
	return e.Err
}

// SerialConfig parses PortURL as a serial device.
func (c *Config) SerialConfig() (*serial.Config, error) {
	if c.PortURL == "" {
		return nil, &OpenError{Err: fmt.Errorf("port not specified")}
	}
	conf := serial.DefaultConfig(c.PortURL)
	conf.Baud = c.Baud
	if !strings.Contains(c.PortURL, "://") {
		return conf, nil
	}
	u, err := url.Parse(c.PortURL)
	if err != nil {
		return nil, &OpenError{PortURL: c.PortURL, Err: err}
	}
	if u.Scheme != "serial" {
		return nil, &OpenError{PortURL: c.PortURL, Err: fmt.Errorf("not a serial port")}
	}
	conf.Device = u.Path
	if u.Opaque != "" {
		conf.Device = u.Opaque
	}
	if val := u.Query().Get("baud"); val != "" {
		if conf.Baud, err = strconv.Atoi(val); err != nil {
			return nil, &OpenError{PortURL: c.PortURL, Err: fmt.Errorf("invalid baud %q", val)}
		}
	}
	return conf, nil
}

// Open opens the port as a stream.Transport.
func (c *Config) Open(ctx context.Context) (stream.Transport, error) {
	if c.PortURL == "" {
		return nil, &OpenError{Err: fmt.Errorf("port not specified")}
	}
	scheme := "serial"
	if pos := strings.Index(c.PortURL, "://"); pos > 0 {
		scheme = c.PortURL[:pos]
	}
	var t stream.Transport
	var err error
	switch scheme {
	case "serial":
		var conf *serial.Config
		if conf, err = c.SerialConfig(); err != nil {
			return nil, err
		}
		t, err = serial.Open(conf)
	case "tcp":
		t, err = tcp.Dial(ctx, strings.TrimPrefix(c.PortURL, "tcp://"))
	case "ws", "wss":
		t, err = websocket.Open(c.PortURL, "http://localhost/")
	case "mqtt", "mqtts":
		t, err = mqtt.Dial(c.PortURL)
	default:
		err = fmt.Errorf("unknown port URL scheme: %q", scheme)
	}
	if err != nil {
		return nil, &OpenError{PortURL: c.PortURL, Err: err}
	}
	return t, nil
}

// BridgeURL returns the port URL of the bridge BridgeID under BrokerURL.
func (c *Config) BridgeURL(id string) string {
	if id == "" {
		id = c.BridgeID
	}
	return strings.TrimSuffix(c.BrokerURL, "/") + "/" + id
}

// NewSession configures a Session from the config.
func (c *Config) NewSession(t stream.Transport, src stream.Source) *stream.Session {
	s := stream.NewSession(t, src)
	s.WakeSettle = c.WakeSettle
	s.ReadTimeout = c.ReadTimeout
	s.DrainTimeout = c.DrainTimeout
	s.HaltOnFailure = c.HaltOnFailure
	s.KeepOutcomes = c.KeepOutcomes
	s.FinishCommand = c.FinishCommand
	if c.Passthrough != "" {
		s.Passthrough = strings.Split(c.Passthrough, ",")
	}
	return s
}
