package serial

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return fmt.Sprintf("Parity(%d)", int(p))
	}
}

// ParseParity accepts "none", "odd", "even" or their first letter.
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n", "":
		return ParityNone, nil
	case "odd", "o":
		return ParityOdd, nil
	case "even", "e":
		return ParityEven, nil
	default:
		return ParityNone, fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, s)
	}
}

// LineParams is the physical encoding of the link.
type LineParams struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   Parity
}

// String renders the parameters as e.g. "9600-8-1-N".
func (lp LineParams) String() string {
	return fmt.Sprintf("%d-%d-%d-%s", lp.BaudRate, lp.DataBits, lp.StopBits,
		strings.ToUpper(lp.Parity.String()[:1]))
}

// Timeouts bounds how long a single read request may stay outstanding.
//
// A request for n bytes completes when n bytes have arrived, when more than
// Interval passed since the last received byte, or when Constant+n*Multiplier
// passed since the request was issued, whichever comes first.
type Timeouts struct {
	Interval   time.Duration
	Constant   time.Duration
	Multiplier time.Duration
}

// Total returns the overall budget of a request for n bytes. A budget
// that does not fit a time.Duration is clamped to the largest one.
func (t Timeouts) Total(n int) time.Duration {
	if !t.fits(n) {
		return math.MaxInt64
	}
	return t.Constant + time.Duration(n)*t.Multiplier
}

// fits reports whether Constant+n*Multiplier is representable.
func (t Timeouts) fits(n int) bool {
	if n < 0 {
		return false
	}
	if t.Multiplier > 0 && time.Duration(n) > (math.MaxInt64-t.Constant)/t.Multiplier {
		return false
	}
	return true
}

func (t Timeouts) validate() error {
	return t.validateFor(1)
}

// validateFor checks the policy for requests of n bytes.
func (t Timeouts) validateFor(n int) error {
	if t.Interval < 0 || t.Constant < 0 || t.Multiplier < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidTimeouts)
	}
	if t.Constant == 0 && t.Multiplier == 0 {
		return fmt.Errorf("%w: no total timeout", ErrInvalidTimeouts)
	}
	if !t.fits(n) {
		return fmt.Errorf("%w: total timeout for %d bytes overflows", ErrInvalidTimeouts, n)
	}
	return nil
}

// Defaults for an RFID scanner emitting 8-byte ASCII card IDs.
const (
	DefaultBaudRate       = 9600
	DefaultBufferSize     = 8
	DefaultDeviceTemplate = "/dev/ttyUSB%d"

	DefaultIntervalTimeout   = 50 * time.Millisecond
	DefaultConstantTimeout   = 50 * time.Millisecond
	DefaultMultiplierTimeout = 10 * time.Millisecond

	DefaultCloseGrace = 250 * time.Millisecond
)

// Config holds the configuration for a serial session
type Config struct {
	Line           LineParams
	Timeouts       Timeouts
	DeviceTemplate string        // fmt template with a single %d for the port identifier
	CloseGrace     time.Duration // how long Close waits for an active read loop to leave
	Logger         *slog.Logger
}

// Option is a functional option for configuring a session
type Option func(*Config) error

// DefaultConfig returns 9600-8-1-N with the scanner's read timeouts.
func DefaultConfig() Config {
	return Config{
		Line: LineParams{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			StopBits: 1,
			Parity:   ParityNone,
		},
		Timeouts: Timeouts{
			Interval:   DefaultIntervalTimeout,
			Constant:   DefaultConstantTimeout,
			Multiplier: DefaultMultiplierTimeout,
		},
		DeviceTemplate: DefaultDeviceTemplate,
		CloseGrace:     DefaultCloseGrace,
		Logger:         NopLogger(),
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := baudConstant(rate); err != nil {
			return err
		}
		c.Line.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.Line.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.Line.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		if parity < ParityNone || parity > ParityEven {
			return ErrInvalidConfig
		}
		c.Line.Parity = parity
		return nil
	}
}

// WithLineParams replaces all line parameters at once. Values are checked
// when the port is configured, not here.
func WithLineParams(lp LineParams) Option {
	return func(c *Config) error {
		c.Line = lp
		return nil
	}
}

// WithTimeouts sets the read timeout policy. Like WithLineParams it is
// checked when the port is configured.
func WithTimeouts(t Timeouts) Option {
	return func(c *Config) error {
		c.Timeouts = t
		return nil
	}
}

// WithDeviceTemplate sets how port identifiers map to device paths.
func WithDeviceTemplate(template string) Option {
	return func(c *Config) error {
		if strings.Count(template, "%") != 1 || !strings.Contains(template, "%d") {
			return fmt.Errorf("%w: device template %q needs exactly one %%d", ErrInvalidConfig, template)
		}
		c.DeviceTemplate = template
		return nil
	}
}

// WithCloseGrace sets how long Close waits for a running read loop.
func WithCloseGrace(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return ErrInvalidConfig
		}
		c.CloseGrace = d
		return nil
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			logger = NopLogger()
		}
		c.Logger = logger
		return nil
	}
}
