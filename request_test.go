package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type readStep struct {
	data string
	err  error
}

// scriptedReads serves one step per call, then reports no data.
func scriptedReads(steps ...readStep) func([]byte) (int, error) {
	return func(p []byte) (int, error) {
		if len(steps) == 0 {
			return 0, unix.EAGAIN
		}
		s := steps[0]
		steps = steps[1:]
		if s.err != nil {
			return 0, s.err
		}
		return copy(p, s.data), nil
	}
}

var testTimeouts = Timeouts{
	Interval:   50 * time.Millisecond,
	Constant:   50 * time.Millisecond,
	Multiplier: 10 * time.Millisecond,
}

func TestReadRequest_FullBuffer(t *testing.T) {
	t0 := time.Now()
	req := newReadRequest(make([]byte, 8), testTimeouts, t0)

	outcome, err := req.poll(scriptedReads(readStep{data: "1234567\x00"}), t0)
	require.NoError(t, err)
	require.Equal(t, ReadReady, outcome)
	require.Equal(t, 8, req.n)
	require.Equal(t, "1234567", string(req.record()))
}

func TestReadRequest_AccumulatesAcrossPolls(t *testing.T) {
	t0 := time.Now()
	req := newReadRequest(make([]byte, 8), testTimeouts, t0)
	read := scriptedReads(readStep{data: "1234"}, readStep{data: "567\x00"})

	outcome, err := req.poll(read, t0)
	require.NoError(t, err)
	require.Equal(t, ReadPending, outcome)
	require.Equal(t, t0.Add(testTimeouts.Interval), req.expiry())

	outcome, err = req.poll(read, t0.Add(10*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, ReadReady, outcome)
	require.Equal(t, "1234567", string(req.record()))
}

func TestReadRequest_IntervalGapCompletes(t *testing.T) {
	t0 := time.Now()
	req := newReadRequest(make([]byte, 8), testTimeouts, t0)
	read := scriptedReads(readStep{data: "AB"})

	outcome, _ := req.poll(read, t0)
	require.Equal(t, ReadPending, outcome)

	outcome, _ = req.poll(read, t0.Add(49*time.Millisecond))
	require.Equal(t, ReadPending, outcome)

	outcome, err := req.poll(read, t0.Add(50*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, ReadReady, outcome)
	require.Equal(t, "AB", string(req.record()))
}

func TestReadRequest_TotalTimeoutWithoutData(t *testing.T) {
	t0 := time.Now()
	req := newReadRequest(make([]byte, 8), testTimeouts, t0)
	read := scriptedReads(readStep{}, readStep{err: unix.EINTR})

	require.Equal(t, t0.Add(130*time.Millisecond), req.expiry())

	outcome, err := req.poll(read, t0.Add(100*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, ReadPending, outcome)

	outcome, err = req.poll(read, t0.Add(130*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, ReadReady, outcome)
	require.Zero(t, req.n)
}

func TestReadRequest_ExpiryCappedByDeadline(t *testing.T) {
	t0 := time.Now()
	req := newReadRequest(make([]byte, 8), testTimeouts, t0)

	outcome, _ := req.poll(scriptedReads(readStep{data: "A"}), t0.Add(120*time.Millisecond))
	require.Equal(t, ReadPending, outcome)
	require.Equal(t, t0.Add(130*time.Millisecond), req.expiry())
}

func TestReadRequest_ZeroIntervalWaitsForTotal(t *testing.T) {
	t0 := time.Now()
	req := newReadRequest(make([]byte, 4), Timeouts{Constant: 100 * time.Millisecond}, t0)

	outcome, _ := req.poll(scriptedReads(readStep{data: "A"}), t0)
	require.Equal(t, ReadPending, outcome)
	require.Equal(t, t0.Add(100*time.Millisecond), req.expiry())
}

func TestReadRequest_HardError(t *testing.T) {
	req := newReadRequest(make([]byte, 8), testTimeouts, time.Now())

	outcome, err := req.poll(scriptedReads(readStep{err: unix.EIO}), time.Now())
	require.Equal(t, ReadFailed, outcome)
	require.ErrorIs(t, err, unix.EIO)
}

func TestReadRequest_Hangup(t *testing.T) {
	t0 := time.Now()

	req := newReadRequest(make([]byte, 8), testTimeouts, t0)
	req.hangup = true
	outcome, err := req.poll(scriptedReads(), t0)
	require.Equal(t, ReadFailed, outcome)
	require.ErrorIs(t, err, ErrHangup)

	// Bytes already received are still handed out.
	req = newReadRequest(make([]byte, 8), testTimeouts, t0)
	read := scriptedReads(readStep{data: "ABC"})
	outcome, _ = req.poll(read, t0)
	require.Equal(t, ReadPending, outcome)
	req.hangup = true
	outcome, err = req.poll(read, t0)
	require.NoError(t, err)
	require.Equal(t, ReadReady, outcome)
	require.Equal(t, "ABC", string(req.record()))
}

func TestReadRequest_LeadingNulIsStillComplete(t *testing.T) {
	req := newReadRequest(make([]byte, 8), testTimeouts, time.Now())

	outcome, err := req.poll(scriptedReads(readStep{data: "\x00ABCDEF\x00"}), time.Now())
	require.NoError(t, err)
	require.Equal(t, ReadReady, outcome, "readiness comes from the byte count, not the content")
	require.Equal(t, 8, req.n)
	require.Empty(t, req.record())
}

func TestReadRequest_RecordWithoutTerminator(t *testing.T) {
	req := newReadRequest(make([]byte, 4), testTimeouts, time.Now())
	_, err := req.poll(scriptedReads(readStep{data: "WXYZ"}), time.Now())
	require.NoError(t, err)
	require.Equal(t, "WXYZ", string(req.record()))
}

func TestReadOutcome_String(t *testing.T) {
	require.Equal(t, "pending", ReadPending.String())
	require.Equal(t, "ready", ReadReady.String())
	require.Equal(t, "failed", ReadFailed.String())
	require.Equal(t, "unknown", ReadOutcome(42).String())
}
