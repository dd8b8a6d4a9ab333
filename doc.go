// Package serial reads fixed-size records from a serial-attached device,
// such as an RFID scanner emitting 8-byte, NUL-terminated ASCII card IDs,
// and hands each one to a consumer as it arrives.
//
// This package is Linux-only. A Session opens its device exclusively and
// non-blocking, configures raw line parameters through termios, and waits
// for input with epoll, so a read loop sleeps until data arrives, a read
// timeout expires, or another goroutine asks it to stop.
//
// Features:
//   - Exclusive access (flock + TIOCEXCL): a second open of the same device fails
//   - Read timeouts: inter-character gap, per-request constant, per-byte multiplier
//   - One outstanding read at a time; records are delivered in device order
//   - Close is idempotent and safe to call while ReadLoop runs elsewhere
//   - InterruptBridge: close the session and exit 0 on Ctrl+C
//   - PTY-based tests
//
// Example usage:
//
//	session, err := serial.NewSession(1) // /dev/ttyUSB1, 9600-8-1-N
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bridge := serial.NewInterruptBridge(session)
//	if err := bridge.Install(); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := session.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	err = session.ReadLoop(context.Background(), serial.DefaultBufferSize,
//	    serial.ConsumerFunc(func(record []byte) {
//	        fmt.Printf("%s\n", record)
//	    }))
//
// Records handed to a consumer alias the loop's buffer, which is zeroed as
// soon as Consume returns; copy what must be kept.
//
// Errors carry one of ErrPortUnavailable, ErrConfigurationFailed,
// ErrIOFailure or ErrSignalRegistration, and a *PortError exposes the
// underlying errno through Code.
package serial
