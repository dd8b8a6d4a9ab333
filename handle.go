package serial

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// allow tests to observe descriptor release
var closeFD = unix.Close

// handle is an open, exclusively held device channel. A handle is only
// handed to a Session once configure succeeded.
type handle struct {
	path     string
	fd       int
	epfd     int
	wakefd   int
	timeouts Timeouts
	logger   *slog.Logger

	events [2]unix.EpollEvent // used by the read loop only

	mu         sync.Mutex // guards wake against release
	released   bool
	releaseErr error
}

// waitResult reports what woke a wait.
type waitResult struct {
	data   bool // device readable
	hangup bool // device hung up or errored
	woken  bool // Stop or Close was requested
}

// openHandle opens path read-only and non-blocking, and takes exclusive
// ownership of it.
func openHandle(path string, logger *slog.Logger) (*handle, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &PortError{Kind: ErrPortUnavailable, Op: "open", Path: path, Reason: openReason(err), Err: err}
	}

	// flock holds for every process, root included; TIOCEXCL additionally
	// makes the tty refuse new opens from unprivileged processes.
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		closeFD(fd)
		return nil, &PortError{Kind: ErrPortUnavailable, Op: "lock", Path: path, Reason: ErrDeviceInUse, Err: err}
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		logger.Debug("exclusive tty mode unavailable", "device", path, "error", err)
	}

	return &handle{
		path:   path,
		fd:     fd,
		epfd:   -1,
		wakefd: -1,
		logger: logger,
	}, nil
}

// configure applies line parameters, the timeout policy and the readiness
// notification. All three must succeed; the caller releases the handle
// otherwise.
func (h *handle) configure(cfg Config) error {
	if err := applyLineParams(h.fd, cfg.Line); err != nil {
		return h.configError("configure line", err)
	}

	if err := cfg.Timeouts.validate(); err != nil {
		return h.configError("configure timeouts", err)
	}
	h.timeouts = cfg.Timeouts

	if err := h.arm(); err != nil {
		return h.configError("configure events", err)
	}
	return nil
}

func (h *handle) configError(op string, err error) error {
	pe := &PortError{Kind: ErrConfigurationFailed, Op: op, Path: h.path, Err: err}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		pe.Reason, pe.Err = err, nil
	}
	return pe
}

// arm registers the device and the wake eventfd with a fresh epoll instance.
func (h *handle) arm() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	h.epfd = epfd

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return err
	}
	h.wakefd = wakefd

	for _, fd := range []int{h.fd, h.wakefd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(h.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *handle) read(p []byte) (int, error) {
	return unix.Read(h.fd, p)
}

// wait blocks until the device is readable, a wake was requested or
// timeout passed. Interrupted waits report nothing.
func (h *handle) wait(timeout time.Duration) (waitResult, error) {
	var res waitResult

	ms := 0
	if timeout > 0 {
		ms = int(min((timeout+time.Millisecond-1)/time.Millisecond, math.MaxInt32))
	}

	n, err := unix.EpollWait(h.epfd, h.events[:], ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return res, nil
		}
		return res, err
	}

	for _, ev := range h.events[:n] {
		switch int(ev.Fd) {
		case h.wakefd:
			h.drainWake()
			res.woken = true
		case h.fd:
			if ev.Events&unix.EPOLLIN != 0 {
				res.data = true
			}
			if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				res.hangup = true
			}
		}
	}
	return res, nil
}

// wake interrupts a pending wait. It is a no-op once the handle is
// released, since the descriptor number may already belong to someone else.
func (h *handle) wake() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.wakefd < 0 {
		return
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(h.wakefd, one[:]); err != nil {
		h.logger.Debug("wake failed", "device", h.path, "error", err)
	}
}

func (h *handle) drainWake() {
	var b [8]byte
	unix.Read(h.wakefd, b[:])
}

// release closes every descriptor of the handle. Only the first call does
// anything.
func (h *handle) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return h.releaseErr
	}
	h.released = true

	unix.IoctlSetInt(h.fd, unix.TIOCNXCL, 0)

	var errs []error
	for _, fd := range []int{h.epfd, h.wakefd, h.fd} {
		if fd < 0 {
			continue
		}
		if err := closeFD(fd); err != nil {
			errs = append(errs, err)
		}
	}
	h.releaseErr = errors.Join(errs...)
	h.logger.Debug("device released", "device", h.path)
	return h.releaseErr
}
