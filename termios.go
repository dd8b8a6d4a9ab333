package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// baudConstant converts an integer baud rate to the unix constant
func baudConstant(rate int) (uint32, error) {
	b, ok := baudRates[rate]
	if !ok {
		return 0, ErrInvalidBaudRate
	}
	return b, nil
}

func dataBitsFlag(bits int) (uint32, error) {
	switch bits {
	case 5:
		return unix.CS5, nil
	case 6:
		return unix.CS6, nil
	case 7:
		return unix.CS7, nil
	case 8:
		return unix.CS8, nil
	default:
		return 0, fmt.Errorf("%w: %d data bits", ErrInvalidConfig, bits)
	}
}

// checkLineParams rejects parameters the tty cannot represent.
func checkLineParams(lp LineParams) error {
	if _, err := baudConstant(lp.BaudRate); err != nil {
		return err
	}
	if _, err := dataBitsFlag(lp.DataBits); err != nil {
		return err
	}
	if lp.StopBits != 1 && lp.StopBits != 2 {
		return fmt.Errorf("%w: %d stop bits", ErrInvalidConfig, lp.StopBits)
	}
	switch lp.Parity {
	case ParityNone, ParityOdd, ParityEven:
	default:
		return fmt.Errorf("%w: parity %v", ErrInvalidConfig, lp.Parity)
	}
	return nil
}

// makeRaw rewrites termios for raw mode with the given line parameters.
// lp must have passed checkLineParams. Reads are driven by the non-blocking
// fd and the request timeouts, so VMIN and VTIME are both zero.
func makeRaw(termios *unix.Termios, lp LineParams) {
	baud, _ := baudConstant(lp.BaudRate)
	size, _ := dataBitsFlag(lp.DataBits)

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.INPCK
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= size | unix.CREAD | unix.CLOCAL

	if lp.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch lp.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
		termios.Iflag |= unix.INPCK
	case ParityEven:
		termios.Cflag |= unix.PARENB
		termios.Iflag |= unix.INPCK
	}

	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0
}

// applyLineParams puts the tty behind fd in raw mode with the given line
// parameters.
func applyLineParams(fd int, lp LineParams) error {
	if err := checkLineParams(lp); err != nil {
		return err
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	makeRaw(termios, lp)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}
