// Package cli implements the rfidreader command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	serial "github.com/luhtfiimanal/go-rfid-serial"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "rfidreader"

// exitError carries the process exit status for a failed run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// settings is the merged view of flags, environment and config file.
type settings struct {
	Baud           int
	DataBits       int
	StopBits       int
	Parity         string
	Buffer         int
	DeviceTemplate string
	Interval       time.Duration
	Constant       time.Duration
	Multiplier     time.Duration
	Timestamps     bool
	Verbose        bool
}

// Run executes the command line and returns the process exit status.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, args, stdout, stderr, os.Exit)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, exit func(int)) int {
	cmd := newRootCommand(stdout, stderr, exit)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintln(stderr, errorStyle.Render("Error: "+err.Error()))
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newRootCommand(stdout, stderr io.Writer, exit func(int)) *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   appName + " [port]",
		Short: "Reads data from a serial RFID scanner",
		Long: appName + ` - Reads data from a serial RFID scanner.

Opens the serial port with the given number and prints every card ID the
scanner sends, one per line, until interrupted (Ctrl+C).

The port number is substituted into the device template, so with the
default template port 1 is /dev/ttyUSB1.

Every flag can also be set through the environment (RFIDREADER_BAUD,
RFIDREADER_DEVICE_TEMPLATE, ...) or a config file (--config).

Example usage:
  rfidreader 1
  rfidreader 0 --baud 19200 --timestamps
  rfidreader 3 --device-template /dev/ttyS%d`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			s, err := loadSettings(v, cmd, configFile)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			return listen(cmd.Context(), s, args[0], stdout, stderr, exit)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	flags.IntP("baud", "b", serial.DefaultBaudRate, "Baud rate")
	flags.Int("data-bits", 8, "Data bits: 5, 6, 7 or 8")
	flags.Int("stop-bits", 1, "Stop bits: 1 or 2")
	flags.StringP("parity", "p", "none", "Parity: none, odd, even")
	flags.Int("buffer", serial.DefaultBufferSize, "Record size in bytes")
	flags.String("device-template", serial.DefaultDeviceTemplate, "Device path template, %d is replaced by the port number")
	flags.Duration("interval-timeout", serial.DefaultIntervalTimeout, "Maximum gap between two bytes of a record")
	flags.Duration("constant-timeout", serial.DefaultConstantTimeout, "Base timeout of a read request")
	flags.Duration("multiplier-timeout", serial.DefaultMultiplierTimeout, "Additional read timeout per requested byte")
	flags.BoolP("timestamps", "t", false, "Prefix records with a timestamp")
	flags.BoolP("verbose", "v", false, "Debug logging on stderr")

	return cmd
}

func loadSettings(v *viper.Viper, cmd *cobra.Command, configFile string) (settings, error) {
	v.SetEnvPrefix("RFIDREADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, fmt.Errorf("bind flags: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return settings{
		Baud:           v.GetInt("baud"),
		DataBits:       v.GetInt("data-bits"),
		StopBits:       v.GetInt("stop-bits"),
		Parity:         v.GetString("parity"),
		Buffer:         v.GetInt("buffer"),
		DeviceTemplate: v.GetString("device-template"),
		Interval:       v.GetDuration("interval-timeout"),
		Constant:       v.GetDuration("constant-timeout"),
		Multiplier:     v.GetDuration("multiplier-timeout"),
		Timestamps:     v.GetBool("timestamps"),
		Verbose:        v.GetBool("verbose"),
	}, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// listen registers the interrupt bridge, opens the port and prints records
// until interrupted or the device fails.
func listen(ctx context.Context, s settings, arg string, stdout, stderr io.Writer, exit func(int)) error {
	logger := newLogger(stderr, s.Verbose)

	// Anything that is not a number reaches Open as an invalid identifier.
	portID, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		portID = -1
	}

	parity, err := serial.ParseParity(s.Parity)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	session, err := serial.NewSession(portID,
		serial.WithLineParams(serial.LineParams{
			BaudRate: s.Baud,
			DataBits: s.DataBits,
			StopBits: s.StopBits,
			Parity:   parity,
		}),
		serial.WithTimeouts(serial.Timeouts{
			Interval:   s.Interval,
			Constant:   s.Constant,
			Multiplier: s.Multiplier,
		}),
		serial.WithDeviceTemplate(s.DeviceTemplate),
		serial.WithLogger(logger),
	)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	bridge := serial.NewInterruptBridge(session,
		serial.WithBridgeLogger(logger),
		serial.WithExitFunc(func(code int) {
			fmt.Fprintln(stderr, infoStyle.Render("Ctrl+C detected, port closed."))
			exit(code)
		}),
	)
	if err := bridge.Install(); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("setting console handler: %w", err)}
	}
	defer bridge.Uninstall()

	if err := session.Open(); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("opening port %s: %w", arg, err)}
	}
	defer session.Close()

	fmt.Fprintln(stderr, infoStyle.Render("Listening on "+session.Device())+
		dimStyle.Render(fmt.Sprintf(" (%s, %d-byte records), press Ctrl+C to stop", session.Config().Line, s.Buffer)))

	printer := &serial.Printer{W: stdout, Timestamps: s.Timestamps}
	if err := session.ReadLoop(ctx, s.Buffer, printer); err != nil {
		return &exitError{code: 1, err: err}
	}
	return nil
}
