package canstream

import (
	"context"
	"time"

	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/metrics"
)

// ListenOptions tunes the push-model polling loop.
type ListenOptions struct {
	// Interval between read attempts; DefaultListenInterval when <= 0.
	Interval time.Duration
	// ReadTimeout bounds the single read each tick performs;
	// DefaultTickReadTimeout when <= 0.
	ReadTimeout time.Duration
}

// StartListening arms the polling loop and transitions the socket from Idle
// to Listening. Each tick performs exactly one timeout-bounded read: a frame
// becomes a frame event, an expired deadline is a silent no-op, and any other
// failure becomes a LISTENING_ERROR error event that ends the session.
//
// Fails with ALREADY_LISTENING when a listener is running and with
// RECEIVER_BUSY when a frame sequence owns the receive path; in both cases
// the running consumer is left untouched. Returns only after the loop is
// armed, immediately after the listening event fires.
func (s *Socket) StartListening(opts ListenOptions) error {
	dev, derr := s.device("start_listening")
	if derr != nil {
		return derr
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultListenInterval
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultTickReadTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	armed := make(chan struct{})

	// Marker CAS and stop-handle assignment stay under the lifecycle lock so
	// a concurrent StopListening never observes the marker without handles.
	s.mu.Lock()
	if !s.rxOwner.CompareAndSwap(rxFree, rxListener) {
		owner := s.rxOwner.Load()
		s.mu.Unlock()
		cancel()
		if owner == rxStream {
			return opErr(CodeReceiverBusy, "start_listening", nil)
		}
		return opErr(CodeAlreadyListening, "start_listening", nil)
	}
	s.listenStop = cancel
	s.listenDone = done
	s.mu.Unlock()

	go s.listenLoop(ctx, cancel, dev, interval, readTimeout, armed, done)
	<-armed

	metrics.ActiveListeners.Inc()
	s.log.Info("listening_started", "interval", interval)
	s.events.emitLifecycle(EventListening)
	return nil
}

func (s *Socket) listenLoop(ctx context.Context, cancel context.CancelFunc, dev Device, interval, readTimeout time.Duration, armed, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	close(armed)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var f can.Frame
		err := dev.ReadFrame(&f, readTimeout)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil:
			metrics.IncRx(metrics.SrcListener)
			s.events.emitFrame(f)
		case isTimeout(err):
			// idle tick
		default:
			// Fatal to this listening session; surface and stop. The owner
			// marker is released here so StopListening becomes a no-op, and
			// the session context is cancelled just as on the stop path.
			metrics.IncListenerError()
			metrics.IncError(metrics.ErrDeviceRead)
			s.log.Warn("listener_read_error", "error", err)
			s.events.emitError(opErr(CodeListeningError, "listen", err))
			if s.rxOwner.CompareAndSwap(rxListener, rxFree) {
				metrics.ActiveListeners.Dec()
			}
			cancel()
			return
		}
	}
}

// StopListening cancels the polling loop and transitions back to Idle,
// emitting stopped. Idempotent: when no listener is running it does nothing
// and emits nothing. No tick fires after it returns.
func (s *Socket) StopListening() {
	s.mu.Lock()
	if !s.rxOwner.CompareAndSwap(rxListener, rxFree) {
		s.mu.Unlock()
		return
	}
	cancel, done := s.listenStop, s.listenDone
	s.mu.Unlock()
	cancel()
	<-done
	metrics.ActiveListeners.Dec()
	s.log.Info("listening_stopped")
	s.events.emitLifecycle(EventStopped)
}

// IsListening reports whether the socket is in the Listening state. Pure
// state read; never blocks.
func (s *Socket) IsListening() bool { return s.rxOwner.Load() == rxListener }
