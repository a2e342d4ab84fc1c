package canstream

import (
	"errors"
	"iter"
	"time"

	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/metrics"
)

var errMaxFramesRequired = errors.New("MaxFrames must be > 0")

// StreamOptions tunes a pull-model frame sequence.
type StreamOptions struct {
	// Timeout bounds each individual read attempt (there is no global
	// deadline); DefaultReceiveTimeout when <= 0.
	Timeout time.Duration
	// MaxFrames bounds the sequence length; 0 means unbounded, in which case
	// the consumer must stop pulling to terminate.
	MaxFrames int
	// Filter drops non-matching frames as if they never existed on the
	// sequence; dropped frames do not count toward MaxFrames.
	Filter can.FrameFilter
}

// Frames returns a lazy sequence of classified frames in arrival order.
// Strictly pull-driven: each element suspends the caller in exactly one
// bounded device read, and no read is in flight between pulls. The sequence
// ends normally at MaxFrames and abnormally — yielding a coded error as its
// final element — on a read timeout or any device failure. Breaking out early
// releases the receive path with no further reads; an exhausted or abandoned
// sequence is not restartable.
//
// The sequence takes the receive-path owner marker for its whole lifetime, so
// it cannot run alongside a listener or a second sequence on the same socket.
func (s *Socket) Frames(opts StreamOptions) iter.Seq2[can.Frame, error] {
	return func(yield func(can.Frame, error) bool) {
		dev, derr := s.device("frames")
		if derr != nil {
			yield(can.Frame{}, derr)
			return
		}
		if !s.rxOwner.CompareAndSwap(rxFree, rxStream) {
			yield(can.Frame{}, opErr(CodeReceiverBusy, "frames", nil))
			return
		}
		defer s.rxOwner.CompareAndSwap(rxStream, rxFree)

		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultReceiveTimeout
		}
		for n := 0; opts.MaxFrames == 0 || n < opts.MaxFrames; {
			var f can.Frame
			if err := dev.ReadFrame(&f, timeout); err != nil {
				if isTimeout(err) {
					metrics.IncReceiveTimeout()
				} else {
					metrics.IncError(metrics.ErrDeviceRead)
				}
				yield(can.Frame{}, deviceErr("frames", err))
				return
			}
			if opts.Filter != nil && !opts.Filter(f) {
				continue
			}
			metrics.IncRx(metrics.SrcStream)
			if !yield(f, nil) {
				return
			}
			n++
		}
	}
}

// FramesWithID is Frames with an implicit exact-identifier filter composed
// before any caller-supplied one; a frame must satisfy both.
func (s *Socket) FramesWithID(id uint32, opts StreamOptions) iter.Seq2[can.Frame, error] {
	opts.Filter = can.And(can.ByID(id), opts.Filter)
	return s.Frames(opts)
}

// FramesOfType is Frames restricted to one classified kind, composed the
// same way.
func (s *Socket) FramesOfType(kind can.Kind, opts StreamOptions) iter.Seq2[can.Frame, error] {
	opts.Filter = can.And(can.OfKind(kind), opts.Filter)
	return s.Frames(opts)
}

// CollectFrames drives a Frames sequence to exhaustion and materializes it.
// MaxFrames must be positive. All-or-nothing: a failure before MaxFrames
// discards everything collected so far and surfaces only the error — the
// result otherwise matches manually pulling Frames with the same options
// element for element.
func (s *Socket) CollectFrames(opts StreamOptions) ([]can.Frame, error) {
	if opts.MaxFrames <= 0 {
		return nil, opErr(CodeInvalidArgument, "collect_frames", errMaxFramesRequired)
	}
	out := make([]can.Frame, 0, opts.MaxFrames)
	for f, err := range s.Frames(opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
