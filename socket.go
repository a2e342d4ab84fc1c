// Package canstream exposes a CAN bus frame stream through three consumption
// models sharing one physical receive channel: push events from a polling
// listener, pull sequences built on range-over-func iterators, and one-shot
// batch collection.
//
// The two consumption engines never run concurrently on one socket: an
// atomic owner marker on the receive path makes StartListening and an open
// frame sequence mutually exclusive. One-shot Receive is deliberately left
// outside the marker; interleaving it with an active consumer hands each
// frame to exactly one of them, in unspecified order.
package canstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/logging"
	"github.com/kstaniek/go-canstream/internal/metrics"
	"github.com/kstaniek/go-canstream/internal/slcan"
	"github.com/kstaniek/go-canstream/internal/socketcan"
	"github.com/kstaniek/go-canstream/internal/transport"
)

// Documented operation defaults.
const (
	// DefaultReceiveTimeout bounds one-shot reads and sequence pulls when no
	// timeout is given.
	DefaultReceiveTimeout = time.Second
	// DefaultListenInterval is the pause between listener read attempts.
	DefaultListenInterval = 10 * time.Millisecond
	// DefaultTickReadTimeout bounds the single read each listener tick makes.
	DefaultTickReadTimeout = time.Millisecond
	// DefaultTxQueueSize is the capacity of the async TX queue.
	DefaultTxQueueSize = 1024
)

// Device is the native socket primitive every backend implements: one
// blocking-with-timeout read returning one frame, a synchronous write, filter
// installation and teardown. Read timeouts are signalled by errors matching
// os.ErrDeadlineExceeded.
type Device interface {
	ReadFrame(fr *can.Frame, timeout time.Duration) error
	WriteFrame(fr can.Frame) error
	SetFilters(filters []can.Filter) error
	ClearFilters() error
	Close() error
}

// receive-path owner marker values
const (
	rxFree int32 = iota
	rxListener
	rxStream
)

// Socket owns one CAN device handle and exposes the push, pull and batch
// consumption models over it. Safe for concurrent use; the state machine, not
// a lock, arbitrates the receive path.
type Socket struct {
	iface  string
	fdMode bool
	log    *slog.Logger
	events *emitter

	mu     sync.Mutex // lifecycle: dev handle and closed flag
	dev    Device
	closed bool

	tx       *transport.TxQueue
	txCancel context.CancelFunc

	rxOwner    atomic.Int32
	listenStop context.CancelFunc
	listenDone chan struct{}
}

type options struct {
	fdMode  bool
	log     *slog.Logger
	txQueue int
	dev     Device
}

// Option configures Open/OpenSerial.
type Option func(*options)

// WithFD opens the socket in CAN FD mode (64-byte payloads, FD frame
// delivery). SocketCAN backend only.
func WithFD() Option { return func(o *options) { o.fdMode = true } }

// WithLogger sets the logger used for socket diagnostics; defaults to the
// process-wide logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithTxQueue sets the async TX queue capacity.
func WithTxQueue(n int) Option { return func(o *options) { o.txQueue = n } }

// WithDevice substitutes a custom Device; Open then skips the SocketCAN
// handshake entirely. Used by tests and exotic backends.
func WithDevice(d Device) Option { return func(o *options) { o.dev = d } }

func buildOptions(opts []Option) options {
	o := options{txQueue: DefaultTxQueueSize}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logging.L()
	}
	return o
}

// Open binds a SocketCAN interface (e.g. "can0") and returns a live socket.
func Open(iface string, opts ...Option) (*Socket, error) {
	o := buildOptions(opts)
	dev := o.dev
	if dev == nil {
		d, err := socketcan.Open(iface, o.fdMode)
		if err != nil {
			metrics.IncError(metrics.ErrDeviceOpen)
			return nil, deviceErr("open", err)
		}
		dev = d
	}
	return newSocket(dev, iface, o), nil
}

// OpenSerial attaches to an SLCAN serial adapter (e.g. "/dev/ttyACM0").
// Serial adapters cannot carry CAN FD frames.
func OpenSerial(device string, baud int, opts ...Option) (*Socket, error) {
	o := buildOptions(opts)
	if o.fdMode {
		return nil, opErr(CodeInvalidCombination, "open", fmt.Errorf("fd mode not supported on serial adapters"))
	}
	dev := o.dev
	if dev == nil {
		d, err := slcan.Open(device, baud)
		if err != nil {
			metrics.IncError(metrics.ErrDeviceOpen)
			return nil, deviceErr("open", err)
		}
		dev = d
	}
	return newSocket(dev, device, o), nil
}

func newSocket(dev Device, iface string, o options) *Socket {
	s := &Socket{
		iface:  iface,
		fdMode: o.fdMode,
		log:    o.log.With("if", iface),
		dev:    dev,
	}
	s.events = newEmitter(s.log)
	ctx, cancel := context.WithCancel(context.Background())
	s.txCancel = cancel
	s.tx = transport.NewTxQueue(ctx, o.txQueue, dev.WriteFrame, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrDeviceWrite)
			s.log.Warn("async_tx_error", "error", err)
		},
		OnSent: metrics.IncTx,
		OnFull: func() error {
			metrics.IncTxOverflow()
			return opErr(CodeTxOverflow, "send_async", nil)
		},
	})
	s.log.Info("socket_open", "fd_mode", o.fdMode)
	return s
}

// Interface returns the name the socket was opened on.
func (s *Socket) Interface() string { return s.iface }

// IsOpen reports whether the handle is still live.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// device returns the live handle or a NOT_OPEN failure.
func (s *Socket) device(op string) (Device, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, opErr(CodeNotOpen, op, nil)
	}
	return s.dev, nil
}

// Close stops any running listener, drains the TX queue and releases the
// handle. Idempotent; emits close exactly once.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dev := s.dev
	s.mu.Unlock()

	s.StopListening()
	s.txCancel()
	s.tx.Close()
	err := dev.Close()
	s.events.emitLifecycle(EventClose)
	s.log.Info("socket_close")
	if err != nil {
		return opErr(CodeNative, "close", err)
	}
	return nil
}

// Send validates the frame against the socket mode and writes it
// synchronously. Validation runs before any device call and never retries.
func (s *Socket) Send(f can.Frame) error {
	dev, derr := s.device("send")
	if derr != nil {
		return derr
	}
	if err := s.validateOutbound(f); err != nil {
		return err
	}
	if err := dev.WriteFrame(f); err != nil {
		metrics.IncError(metrics.ErrDeviceWrite)
		return deviceErr("send", err)
	}
	metrics.IncTx()
	return nil
}

// SendAsync validates the frame and queues it on the TX worker. Fails with
// TX_OVERFLOW instead of blocking when the queue is full.
func (s *Socket) SendAsync(f can.Frame) error {
	if _, derr := s.device("send_async"); derr != nil {
		return derr
	}
	if err := s.validateOutbound(f); err != nil {
		return err
	}
	if err := s.tx.Enqueue(f); err != nil {
		if _, ok := err.(*Error); ok {
			return err
		}
		return opErr(CodeNotOpen, "send_async", err)
	}
	return nil
}

func (s *Socket) validateOutbound(f can.Frame) error {
	if err := f.Validate(); err != nil {
		return validationErr("send", err)
	}
	if f.FD && !s.fdMode {
		return opErr(CodeInvalidCombination, "send", fmt.Errorf("fd frame on a classic socket"))
	}
	if f.Remote && s.fdMode {
		return opErr(CodeInvalidCombination, "send", fmt.Errorf("remote frame on an fd socket"))
	}
	return nil
}

// Receive performs one timeout-bounded read. timeout <= 0 applies
// DefaultReceiveTimeout. An expired deadline fails with RECEIVE_TIMEOUT.
func (s *Socket) Receive(timeout time.Duration) (can.Frame, error) {
	dev, derr := s.device("receive")
	if derr != nil {
		return can.Frame{}, derr
	}
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	var f can.Frame
	if err := dev.ReadFrame(&f, timeout); err != nil {
		if isTimeout(err) {
			metrics.IncReceiveTimeout()
		} else {
			metrics.IncError(metrics.ErrDeviceRead)
		}
		return can.Frame{}, deviceErr("receive", err)
	}
	metrics.IncRx(metrics.SrcReceive)
	return f, nil
}

// SetFilters validates and installs kernel acceptance rules, replacing any
// previous set. An empty slice restores accept-all reception.
func (s *Socket) SetFilters(filters []can.Filter) error {
	dev, derr := s.device("set_filters")
	if derr != nil {
		return derr
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return validationErr("set_filters", err)
		}
	}
	if err := dev.SetFilters(filters); err != nil {
		metrics.IncError(metrics.ErrSetFilters)
		return deviceErr("set_filters", err)
	}
	return nil
}

// ClearFilters restores accept-all reception.
func (s *Socket) ClearFilters() error {
	dev, derr := s.device("clear_filters")
	if derr != nil {
		return derr
	}
	if err := dev.ClearFilters(); err != nil {
		metrics.IncError(metrics.ErrSetFilters)
		return deviceErr("clear_filters", err)
	}
	return nil
}

// OnFrame registers a frame observer; the returned func unregisters it.
func (s *Socket) OnFrame(fn func(can.Frame)) func() { return s.events.onFrame(fn) }

// OnError registers an error observer. Register one before StartListening;
// error events with no observer are logged, not delivered.
func (s *Socket) OnError(fn func(error)) func() { return s.events.onError(fn) }

// OnClose registers an observer for the close lifecycle event.
func (s *Socket) OnClose(fn func()) func() { return s.events.onLifecycle(EventClose, fn) }

// OnListening registers an observer for the listening lifecycle event.
func (s *Socket) OnListening(fn func()) func() { return s.events.onLifecycle(EventListening, fn) }

// OnStopped registers an observer for the stopped lifecycle event.
func (s *Socket) OnStopped(fn func()) func() { return s.events.onLifecycle(EventStopped, fn) }

// Classification helpers mirroring the frame model, kept on the package
// surface for callers that never touch the can package directly.

// IsRemoteFrame reports whether f classifies as a remote request.
func IsRemoteFrame(f can.Frame) bool { return f.Kind() == can.KindRemote }

// IsErrorFrame reports whether f carries a controller-reported error.
func IsErrorFrame(f can.Frame) bool { return f.Kind() == can.KindError }

// IsCanFDFrame reports whether f uses CAN FD framing.
func IsCanFDFrame(f can.Frame) bool { return f.Kind() == can.KindFD }
