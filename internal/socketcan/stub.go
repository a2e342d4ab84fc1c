//go:build !linux

package socketcan

import (
	"time"

	"github.com/kstaniek/go-canstream/can"
)

// Device placeholder so non-linux builds compile; every operation fails.
type Device struct{}

func Open(iface string, fdMode bool) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) ReadFrame(*can.Frame, time.Duration) error { return ErrUnsupported }
func (d *Device) WriteFrame(can.Frame) error                { return ErrUnsupported }
func (d *Device) SetFilters([]can.Filter) error             { return ErrUnsupported }
func (d *Device) ClearFilters() error                       { return ErrUnsupported }
func (d *Device) Close() error                              { return nil }
