package serial

import (
	"bytes"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// ReadOutcome is the state of a read request after a poll.
type ReadOutcome int

const (
	ReadPending ReadOutcome = iota // issued, not complete yet
	ReadReady                      // complete, n bytes in the buffer (n may be 0 on timeout)
	ReadFailed                     // hard error, the loop must stop
)

func (o ReadOutcome) String() string {
	switch o {
	case ReadPending:
		return "pending"
	case ReadReady:
		return "ready"
	case ReadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// readRequest is the single outstanding read of a loop. It fills buf with
// non-blocking reads until the buffer is full or a timeout expires.
type readRequest struct {
	buf      []byte
	n        int
	last     time.Time
	deadline time.Time
	interval time.Duration
	hangup   bool
}

func newReadRequest(buf []byte, t Timeouts, now time.Time) *readRequest {
	return &readRequest{
		buf:      buf,
		deadline: now.Add(t.Total(len(buf))),
		interval: t.Interval,
	}
}

// expiry is the moment the request completes if no further byte arrives.
func (r *readRequest) expiry() time.Time {
	if r.n > 0 && r.interval > 0 {
		if gap := r.last.Add(r.interval); gap.Before(r.deadline) {
			return gap
		}
	}
	return r.deadline
}

// poll reads whatever is available into the free part of the buffer.
// Completion is decided from byte counts and the clock only.
func (r *readRequest) poll(read func([]byte) (int, error), now time.Time) (ReadOutcome, error) {
	n, err := read(r.buf[r.n:])
	switch {
	case err == nil && n > 0:
		r.n += n
		r.last = now
	case err == nil, errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		if r.hangup {
			if r.n > 0 {
				return ReadReady, nil
			}
			return ReadFailed, ErrHangup
		}
	default:
		return ReadFailed, err
	}

	if r.n == len(r.buf) || !now.Before(r.expiry()) {
		return ReadReady, nil
	}
	return ReadPending, nil
}

// record returns the completed bytes up to the first NUL.
func (r *readRequest) record() []byte {
	b := r.buf[:r.n]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
