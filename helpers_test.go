package serial

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// openPTY returns the master side of a fresh PTY and the identifier of its
// slave under the /dev/pts/%d template.
func openPTY(t *testing.T) (*os.File, int) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	id, err := strconv.Atoi(strings.TrimPrefix(slave.Name(), "/dev/pts/"))
	require.NoError(t, err, "unexpected pty name %s", slave.Name())
	return master, id
}

func newPTYSession(t *testing.T, id int, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(id, append([]Option{WithDeviceTemplate("/dev/pts/%d")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func startLoop(t *testing.T, s *Session, size int, consumer RecordConsumer) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.ReadLoop(context.Background(), size, consumer) }()
	require.Eventually(t, s.IsReading, time.Second, 5*time.Millisecond)
	return errCh
}

func waitLoop(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ReadLoop to return")
		return nil
	}
}

// closeRecorder replaces closeFD and records every descriptor closed.
type closeRecorder struct {
	mu  sync.Mutex
	fds []int
}

func recordCloses(t *testing.T) *closeRecorder {
	t.Helper()
	rec := &closeRecorder{}
	orig := closeFD
	closeFD = func(fd int) error {
		rec.mu.Lock()
		rec.fds = append(rec.fds, fd)
		rec.mu.Unlock()
		return orig(fd)
	}
	t.Cleanup(func() { closeFD = orig })
	return rec
}

func (r *closeRecorder) count(fd int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.fds {
		if f == fd {
			n++
		}
	}
	return n
}

func (r *closeRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fds)
}
