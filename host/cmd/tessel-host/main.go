// Command tessel-host drives a board's module ports and LEDs from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagSimulate = "simulate"

	flagPort = "port"
	flagAddr = "addr"
	flagFreq = "freq"
	flagData = "data"
	flagLen  = "len"
	flagPin  = "pin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(&environment{}).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(env *environment) *cli.App {
	return &cli.App{
		Name:  "tessel-host",
		Usage: "talk to the module ports of a board",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override the configured log level",
			},
			&cli.BoolFlag{
				Name:  flagSimulate,
				Usage: "run against in-process simulated coprocessors",
			},
		},
		Before: env.setup,
		After:  env.teardown,
		Commands: []*cli.Command{
			{
				Name:   "blink",
				Usage:  "toggle the two user LEDs until interrupted",
				Action: env.blink,
			},
			{
				Name:  "i2c",
				Usage: "run a transaction on a port's I2C bus",
				Subcommands: []*cli.Command{
					{
						Name:   "write",
						Usage:  "write bytes to a device",
						Flags:  i2cFlags(),
						Action: env.i2cWrite,
					},
					{
						Name:   "read",
						Usage:  "read bytes from a device",
						Flags:  i2cFlags(),
						Action: env.i2cRead,
					},
					{
						Name:   "transfer",
						Usage:  "write bytes then read with a repeated start",
						Flags:  i2cFlags(),
						Action: env.i2cTransfer,
					},
				},
			},
			{
				Name:  "gpio",
				Usage: "drive or sample a port pin",
				Subcommands: []*cli.Command{
					{
						Name:   "get",
						Usage:  "print the level of a pin",
						Flags:  gpioFlags(),
						Action: env.gpioGet,
					},
					{
						Name:      "set",
						Usage:     "drive a pin high or low",
						ArgsUsage: "high|low|toggle",
						Flags:     gpioFlags(),
						Action:    env.gpioSet,
					},
				},
			},
			{
				Name:  "accel",
				Usage: "print readings from an ADXL345 accelerometer",
				Flags: append(portFlags(),
					&cli.UintFlag{
						Name:  flagAddr,
						Value: 0x53,
						Usage: "7-bit device address",
					},
					&cli.IntFlag{
						Name:  "samples",
						Value: 1,
						Usage: "number of readings",
					},
				),
				Action: env.accel,
			},
		},
	}
}

func portFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagPort,
			Value: "a",
			Usage: "port `NAME` (a or b)",
		},
		&cli.UintFlag{
			Name:  flagFreq,
			Value: 100_000,
			Usage: "bus frequency in Hz",
		},
	}
}

func i2cFlags() []cli.Flag {
	return append(portFlags(),
		&cli.UintFlag{
			Name:     flagAddr,
			Usage:    "7-bit device address",
			Required: true,
		},
		&cli.StringFlag{
			Name:  flagData,
			Usage: "bytes to write, as hex",
		},
		&cli.IntFlag{
			Name:  flagLen,
			Usage: "number of bytes to read",
		},
	)
}

func gpioFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagPort,
			Value: "a",
			Usage: "port `NAME` (a or b)",
		},
		&cli.IntFlag{
			Name:     flagPin,
			Usage:    "pin index 0-7",
			Required: true,
		},
	}
}
