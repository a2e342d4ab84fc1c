// Package socketcan implements the CAN device on top of a Linux raw AF_CAN
// socket. Reads are timeout-bounded via poll(2) on a nonblocking descriptor,
// so one call maps to at most one kernel frame.
package socketcan

import (
	"errors"
	"fmt"
	"os"
)

// ErrReadTimeout reports that a bounded read expired without a frame. It
// wraps os.ErrDeadlineExceeded so backend-agnostic callers can classify with
// errors.Is. Expected during idle bus periods.
var ErrReadTimeout = fmt.Errorf("socketcan: read timeout: %w", os.ErrDeadlineExceeded)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: only supported on linux")
