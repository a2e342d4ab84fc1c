package canstream

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-canstream/can"
)

var errFakeTimeout = fmt.Errorf("fake: read timeout: %w", os.ErrDeadlineExceeded)

// step is one scripted ReadFrame outcome.
type step struct {
	f   can.Frame
	err error
}

// fakeDevice implements Device with a scripted read sequence. An exhausted
// script behaves like an idle bus: ReadFrame waits out its timeout and
// reports a deadline failure.
type fakeDevice struct {
	mu      sync.Mutex
	steps   []step
	writes  []can.Frame
	filters [][]can.Filter
	cleared int
	closed  bool
	reads   int
}

func frames(fs ...can.Frame) []step {
	steps := make([]step, len(fs))
	for i, f := range fs {
		steps[i] = step{f: f}
	}
	return steps
}

func (d *fakeDevice) ReadFrame(fr *can.Frame, timeout time.Duration) error {
	d.mu.Lock()
	d.reads++
	if len(d.steps) == 0 {
		d.mu.Unlock()
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return errFakeTimeout
	}
	st := d.steps[0]
	d.steps = d.steps[1:]
	d.mu.Unlock()
	if st.err != nil {
		return st.err
	}
	*fr = st.f
	return nil
}

func (d *fakeDevice) WriteFrame(f can.Frame) error {
	d.mu.Lock()
	d.writes = append(d.writes, f)
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) SetFilters(filters []can.Filter) error {
	d.mu.Lock()
	d.filters = append(d.filters, filters)
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) ClearFilters() error {
	d.mu.Lock()
	d.cleared++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) readCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *fakeDevice) sentFrames() []can.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]can.Frame(nil), d.writes...)
}
