package slcan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-canstream/can"
)

// ErrReadTimeout reports that a bounded read expired without a frame. Wraps
// os.ErrDeadlineExceeded for backend-agnostic classification.
var ErrReadTimeout = fmt.Errorf("slcan: read timeout: %w", os.ErrDeadlineExceeded)

// portPollInterval bounds each underlying serial read so the deadline loop
// stays responsive without busy-waiting.
const portPollInterval = 5 * time.Millisecond

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// openPort is a hook for tests.
var openPort = func(name string, baud int) (Port, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: portPollInterval})
}

// Device adapts an SLCAN serial adapter to the frame device contract. The
// receive path supports one concurrent reader (callers already serialize it);
// writes go through their own lock so they never queue behind a pending read.
type Device struct {
	mu      sync.Mutex // decoder state: acc, pending, filters
	wmu     sync.Mutex // port writes
	port    Port
	codec   Codec
	acc     bytes.Buffer
	pending []can.Frame
	filters []can.Filter
	buf     [512]byte
}

// Open opens and configures the serial adapter at name.
func Open(name string, baud int) (*Device, error) {
	p, err := openPort(name, baud)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	d := &Device{port: p}
	// Open the adapter channel; harmless if already open.
	if _, err := p.Write([]byte("O\r")); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return d, nil
}

// Close sends the channel-close command and releases the port.
func (d *Device) Close() error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	_, _ = d.port.Write([]byte("C\r"))
	return d.port.Close()
}

// ReadFrame returns the next frame passing the installed filters, waiting at
// most timeout. timeout <= 0 blocks indefinitely.
func (d *Device) ReadFrame(fr *can.Frame, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		d.mu.Lock()
		f, ok := d.popPending()
		d.mu.Unlock()
		if ok {
			*fr = f
			return nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return ErrReadTimeout
		}
		// The port read runs unlocked; each underlying read is bounded by the
		// port's own short timeout, so the loop stays responsive.
		n, err := d.port.Read(d.buf[:])
		if n > 0 {
			d.mu.Lock()
			d.acc.Write(d.buf[:n])
			d.codec.DecodeStream(&d.acc, func(f can.Frame) {
				d.pending = append(d.pending, f)
			})
			d.mu.Unlock()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("serial read: %w", err)
		}
		// n == 0 with nil/EOF error is an idle poll interval; loop until a
		// frame arrives or the deadline expires.
	}
}

func (d *Device) popPending() (can.Frame, bool) {
	for len(d.pending) > 0 {
		f := d.pending[0]
		d.pending = d.pending[1:]
		if d.accepts(f) {
			return f, true
		}
	}
	return can.Frame{}, false
}

func (d *Device) accepts(f can.Frame) bool {
	if len(d.filters) == 0 {
		return true
	}
	for _, flt := range d.filters {
		if flt.Match(f) {
			return true
		}
	}
	return false
}

// WriteFrame encodes and transmits one frame.
func (d *Device) WriteFrame(fr can.Frame) error {
	line, err := d.codec.Encode(fr)
	if err != nil {
		return err
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if _, err := d.port.Write(line); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// SetFilters installs software acceptance rules; the adapter itself receives
// everything. An empty slice restores accept-all.
func (d *Device) SetFilters(filters []can.Filter) error {
	d.mu.Lock()
	d.filters = append([]can.Filter(nil), filters...)
	d.mu.Unlock()
	return nil
}

// ClearFilters restores accept-all reception.
func (d *Device) ClearFilters() error { return d.SetFilters(nil) }
