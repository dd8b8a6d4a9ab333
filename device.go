package serial

import (
	"fmt"
	"strings"
)

// ResolveDevice maps a numeric port identifier onto a device path using
// template, e.g. ("/dev/ttyUSB%d", 1) -> "/dev/ttyUSB1".
func ResolveDevice(template string, portID int) (string, error) {
	if portID < 0 {
		return "", &PortError{
			Kind:   ErrPortUnavailable,
			Op:     "resolve",
			Path:   fmt.Sprintf("port %d", portID),
			Reason: ErrDeviceNotFound,
		}
	}
	if strings.Count(template, "%") != 1 || !strings.Contains(template, "%d") {
		return "", &PortError{
			Kind:   ErrPortUnavailable,
			Op:     "resolve",
			Path:   template,
			Reason: ErrInvalidConfig,
		}
	}
	return fmt.Sprintf(template, portID), nil
}
