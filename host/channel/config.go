package channel

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Well-known coprocessor socket paths, one per port.
const (
	PortAPath = "/var/run/tessel/port_a"
	PortBPath = "/var/run/tessel/port_b"
)

// Supported endpoint networks.
const (
	NetworkUnix   = "unix"
	NetworkSerial = "serial"
)

// Config holds channel endpoint configuration
type Config struct {
	// Network is "unix" for the coprocessor daemon socket or "serial" for a direct UART link.
	Network string `mapstructure:"network"`

	// Endpoint is the socket path or serial device (e.g. "/dev/ttyACM0")
	Endpoint string `mapstructure:"endpoint"`

	// Baud rate, serial only
	Baud int `mapstructure:"baud"`

	// Read timeout in milliseconds, serial only (0 = blocking)
	ReadTimeout int `mapstructure:"read_timeout"`
}

// DefaultConfig returns a unix socket configuration for endpoint
func DefaultConfig(endpoint string) *Config {
	return &Config{
		Network:  NetworkUnix,
		Endpoint: endpoint,
		Baud:     115200,
	}
}

// ErrConnect is matched by every *ConnectError.
var ErrConnect = errors.New("channel endpoint unreachable")

// ConnectError reports an endpoint that could not be opened.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return "connecting to " + e.Endpoint + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// dial opens the raw stream described by cfg.
func dial(cfg *Config) (io.ReadWriteCloser, error) {
	switch cfg.Network {
	case "", NetworkUnix:
		return net.DialTimeout("unix", cfg.Endpoint, 5*time.Second)
	case NetworkSerial:
		return openSerial(cfg)
	default:
		return nil, errors.Errorf("unsupported network %q", cfg.Network)
	}
}
