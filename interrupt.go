package serial

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Closer is the part of a session the interrupt bridge needs.
type Closer interface {
	Close() error
}

// allow tests to override signal delivery
var (
	notifySignals = signal.Notify
	stopSignals   = signal.Stop
)

// InterruptBridge turns a termination signal into a single session close
// followed by process exit. It does not wait for a read loop to notice;
// Close takes care of that within its grace period.
type InterruptBridge struct {
	mu      sync.Mutex
	session Closer
	sigCh   chan os.Signal
	quit    chan struct{}

	signals []os.Signal
	exit    func(code int)
	logger  *slog.Logger

	installed atomic.Bool
	fired     atomic.Bool
}

// BridgeOption configures an InterruptBridge.
type BridgeOption func(*InterruptBridge)

// WithSignals replaces the handled signals (default os.Interrupt, SIGTERM).
func WithSignals(sigs ...os.Signal) BridgeOption {
	return func(b *InterruptBridge) { b.signals = sigs }
}

// WithExitFunc replaces os.Exit.
func WithExitFunc(exit func(code int)) BridgeOption {
	return func(b *InterruptBridge) { b.exit = exit }
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *InterruptBridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewInterruptBridge creates a bridge for session, which may be nil and
// bound later.
func NewInterruptBridge(session Closer, opts ...BridgeOption) *InterruptBridge {
	b := &InterruptBridge{
		session: session,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		exit:    os.Exit,
		logger:  NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind sets the session closed on interrupt.
func (b *InterruptBridge) Bind(session Closer) {
	b.mu.Lock()
	b.session = session
	b.mu.Unlock()
}

// Install starts handling the configured signals.
func (b *InterruptBridge) Install() error {
	if len(b.signals) == 0 {
		return fmt.Errorf("%w: no signals configured", ErrSignalRegistration)
	}
	if !b.installed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already installed", ErrSignalRegistration)
	}

	b.sigCh = make(chan os.Signal, 1)
	b.quit = make(chan struct{})
	notifySignals(b.sigCh, b.signals...)

	go b.dispatch(b.sigCh, b.quit)
	return nil
}

func (b *InterruptBridge) dispatch(sigCh <-chan os.Signal, quit <-chan struct{}) {
	for {
		select {
		case sig := <-sigCh:
			b.logger.Debug("signal received", "signal", sig.String())
			b.Trigger()
		case <-quit:
			return
		}
	}
}

// Trigger runs the shutdown: close the bound session once and exit with
// status 0. Without a bound session it only acknowledges the signal.
// It reports whether this call performed the shutdown.
func (b *InterruptBridge) Trigger() bool {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()

	if session == nil {
		b.logger.Info("interrupt received, no session to close")
		return false
	}
	if !b.fired.CompareAndSwap(false, true) {
		return false
	}

	b.logger.Info("interrupt received, closing")
	if err := session.Close(); err != nil {
		b.logger.Warn("close on interrupt failed", "error", err)
	}
	b.exit(0)
	return true
}

// Uninstall stops signal handling.
func (b *InterruptBridge) Uninstall() {
	if !b.installed.CompareAndSwap(true, false) {
		return
	}
	stopSignals(b.sigCh)
	close(b.quit)
}
