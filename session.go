package serial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Session owns one serial device and streams fixed-size records from it.
// Open, Stop, Close and IsReading are safe to call from any goroutine while
// ReadLoop runs on another.
type Session struct {
	portID int
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	h    *handle
	path string
	loop *readLoop // nil when no loop is active
}

// readLoop is the cancellation state of one ReadLoop call. Each call gets
// its own, so stopping a loop never affects a later one.
type readLoop struct {
	stop atomic.Bool
	done chan struct{}
}

// NewSession creates a closed session for the given port identifier.
func NewSession(portID int, opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Session{
		portID: portID,
		cfg:    cfg,
		logger: cfg.Logger.With("port", portID),
	}, nil
}

// Open resolves the device, opens it exclusively and configures it. If any
// step fails the session stays closed. An already open session is closed
// first.
func (s *Session) Open() error {
	if err := s.Close(); err != nil {
		s.logger.Warn("closing previous handle failed", "error", err)
	}

	path, err := ResolveDevice(s.cfg.DeviceTemplate, s.portID)
	if err != nil {
		return err
	}

	h, err := openHandle(path, s.logger)
	if err != nil {
		return err
	}
	if err := h.configure(s.cfg); err != nil {
		if rerr := h.release(); rerr != nil {
			s.logger.Warn("release after failed configure", "device", path, "error", rerr)
		}
		return err
	}

	s.mu.Lock()
	s.h = h
	s.path = path
	s.mu.Unlock()

	s.logger.Info("serial port open", "device", path, "line", s.cfg.Line.String())
	return nil
}

// ReadLoop issues reads of bufferSize bytes and hands every completed,
// non-empty read to consumer, in arrival order, until Stop, Close or ctx
// cancellation. It returns nil when stopped and a *PortError wrapping
// ErrIOFailure when the device fails.
func (s *Session) ReadLoop(ctx context.Context, bufferSize int, consumer RecordConsumer) error {
	if bufferSize <= 0 {
		return fmt.Errorf("%w: buffer size %d", ErrInvalidConfig, bufferSize)
	}
	if consumer == nil {
		return fmt.Errorf("%w: nil consumer", ErrInvalidConfig)
	}

	if err := s.cfg.Timeouts.validateFor(bufferSize); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s.mu.Lock()
	h := s.h
	if h == nil {
		s.mu.Unlock()
		return ErrPortClosed
	}
	if s.loop != nil {
		s.mu.Unlock()
		return ErrAlreadyReading
	}
	l := &readLoop{done: make(chan struct{})}
	s.loop = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.loop == l {
			s.loop = nil
		}
		s.mu.Unlock()
		close(l.done)
	}()

	stopOnCancel := context.AfterFunc(ctx, func() {
		l.stop.Store(true)
		h.wake()
	})
	defer stopOnCancel()

	s.logger.Debug("read loop started", "device", h.path, "buffer", bufferSize)

	buf := make([]byte, bufferSize)
	var req *readRequest
	for {
		if l.stop.Load() {
			s.logger.Debug("read loop stopped", "device", h.path)
			return nil
		}

		if req == nil {
			req = newReadRequest(buf, h.timeouts, time.Now())
		}

		outcome, err := req.poll(h.read, time.Now())
		switch outcome {
		case ReadFailed:
			if l.stop.Load() {
				return nil
			}
			s.logger.Error("read failed", "device", h.path, "error", err)
			return &PortError{Kind: ErrIOFailure, Op: "read", Path: h.path, Err: err}

		case ReadReady:
			if req.n > 0 {
				consumer.Consume(req.record())
			}
			clear(buf)
			req = nil
			continue
		}

		res, err := h.wait(time.Until(req.expiry()))
		if err != nil {
			if l.stop.Load() {
				return nil
			}
			s.logger.Error("wait failed", "device", h.path, "error", err)
			return &PortError{Kind: ErrIOFailure, Op: "wait", Path: h.path, Err: err}
		}
		req.hangup = res.hangup
	}
}

// Stop asks the running ReadLoop to return. The device stays open. Stop
// without an active loop does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	l, h := s.loop, s.h
	s.mu.Unlock()

	if l == nil {
		return
	}
	l.stop.Store(true)
	if h != nil {
		h.wake()
	}
}

// Close stops any read loop and releases the device. A running loop gets
// CloseGrace to notice; after that it is abandoned and returns as soon as
// its consumer does, without touching the device again. Closing a closed
// session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	h, l := s.h, s.loop
	s.h, s.loop = nil, nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}

	if l != nil {
		l.stop.Store(true)
	}
	h.wake()

	if l != nil {
		timer := time.NewTimer(s.cfg.CloseGrace)
		select {
		case <-l.done:
		case <-timer.C:
			s.logger.Warn("read loop still busy, abandoning outstanding read", "device", h.path)
		}
		timer.Stop()
	}

	err := h.release()
	s.logger.Info("serial port closed", "device", h.path)
	return err
}

// IsReading reports whether a read loop is active.
func (s *Session) IsReading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop != nil
}

// IsOpen reports whether the session holds a configured device.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil
}

// Device returns the path of the last opened device.
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// PortID returns the identifier the session was created for.
func (s *Session) PortID() int {
	return s.portID
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}
