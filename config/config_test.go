package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"gotessel/host/channel"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, Default())
	test.That(t, cfg.PortA.Endpoint, test.ShouldEqual, "/var/run/tessel/port_a")
	test.That(t, cfg.PortB.Endpoint, test.ShouldEqual, "/var/run/tessel/port_b")
	test.That(t, cfg.PortA.Network, test.ShouldEqual, channel.NetworkUnix)
	test.That(t, cfg.LEDRoot, test.ShouldEqual, "/sys/devices/leds/leds")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessel.toml")
	err := os.WriteFile(path, []byte(`
log_level = "debug"
led_root = "/tmp/leds"

[port_a]
network = "serial"
endpoint = "/dev/ttyACM0"
baud = 9600
read_timeout = 250
`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.LogLevel, test.ShouldEqual, "debug")
	test.That(t, cfg.LEDRoot, test.ShouldEqual, "/tmp/leds")
	test.That(t, cfg.PortA, test.ShouldResemble, channel.Config{
		Network:     channel.NetworkSerial,
		Endpoint:    "/dev/ttyACM0",
		Baud:        9600,
		ReadTimeout: 250,
	})
	// untouched sections keep their defaults
	test.That(t, cfg.PortB, test.ShouldResemble, *channel.DefaultConfig(channel.PortBPath))
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TESSEL_PORT_B_ENDPOINT", "/tmp/port_b.sock")
	t.Setenv("TESSEL_LOG_LEVEL", "warn")
	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.PortB.Endpoint, test.ShouldEqual, "/tmp/port_b.sock")
	test.That(t, cfg.LogLevel, test.ShouldEqual, "warn")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reading config")

	t.Setenv("TESSEL_PORT_A_NETWORK", "tcp")
	_, err = Load("")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unsupported network "tcp"`)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	cfg.PortB.Endpoint = ""
	test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "port_b.endpoint")

	cfg = Default()
	cfg.PortA.Network = channel.NetworkSerial
	cfg.PortA.Baud = 0
	test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "port_a.baud")

	cfg = Default()
	cfg.LEDRoot = ""
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}
