package canstream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-canstream/can"
)

// eventLog records lifecycle transitions in emission order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(name string) func() {
	return func() {
		l.mu.Lock()
		l.events = append(l.events, name)
		l.mu.Unlock()
	}
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestListenerDeliversFramesInOrder(t *testing.T) {
	a, b := can.New(0x100, []byte{1}), can.New(0x200, []byte{2})
	dev := &fakeDevice{steps: frames(a, b)}
	s := newTestSocket(t, dev)

	var mu sync.Mutex
	var got []can.Frame
	s.OnFrame(func(f can.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(got) == 2 }, "frames not delivered")
	s.StopListening()

	if got[0] != a || got[1] != b {
		t.Fatalf("got %+v, want [%+v %+v]", got, a, b)
	}
}

func TestListenerLifecycleEvents(t *testing.T) {
	s := newTestSocket(t, &fakeDevice{})
	var log eventLog
	s.OnListening(log.record("listening"))
	s.OnStopped(log.record("stopped"))

	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsListening() {
		t.Fatal("expected Listening state")
	}
	s.StopListening()
	if s.IsListening() {
		t.Fatal("expected Idle state")
	}

	want := []string{"listening", "stopped"}
	got := log.snapshot()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStartListeningTwiceFailsFast(t *testing.T) {
	dev := &fakeDevice{steps: frames(can.New(0x42, nil))}
	s := newTestSocket(t, dev)
	delivered := make(chan can.Frame, 1)
	s.OnFrame(func(f can.Frame) {
		select {
		case delivered <- f:
		default:
		}
	})

	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("second start: %v, want ALREADY_LISTENING", err)
	}
	// The first session keeps running.
	if !s.IsListening() {
		t.Fatal("first session was disturbed")
	}
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("first session stopped delivering")
	}
	s.StopListening()
}

func TestListenerSwallowsTimeouts(t *testing.T) {
	s := newTestSocket(t, &fakeDevice{}) // idle bus: every tick times out
	errs := make(chan error, 8)
	s.OnError(func(err error) { errs <- err })

	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if !s.IsListening() {
		t.Fatal("listener stopped on timeouts")
	}
	select {
	case err := <-errs:
		t.Fatalf("timeout surfaced as error event: %v", err)
	default:
	}
	s.StopListening()
}

func TestListenerFatalErrorStopsSession(t *testing.T) {
	busErr := errors.New("bus off")
	dev := &fakeDevice{steps: []step{{err: busErr}}}
	s := newTestSocket(t, dev)
	errs := make(chan error, 1)
	s.OnError(func(err error) { errs <- err })
	var log eventLog
	s.OnStopped(log.record("stopped"))

	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	var got error
	select {
	case got = <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
	if CodeOf(got) != CodeListeningError || !errors.Is(got, busErr) {
		t.Fatalf("error event = %v", got)
	}
	waitFor(t, func() bool { return !s.IsListening() }, "listener did not transition to Idle")
	// The session is over, not merely paused: no stopped event, and a new
	// session can start.
	if len(log.snapshot()) != 0 {
		t.Fatalf("unexpected stopped event on fatal path")
	}
	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("restart after fatal error: %v", err)
	}
	s.StopListening()
}

func TestStopListeningIdempotent(t *testing.T) {
	s := newTestSocket(t, &fakeDevice{})
	var log eventLog
	s.OnStopped(log.record("stopped"))
	s.StopListening() // Idle: no-op, no event
	if len(log.snapshot()) != 0 {
		t.Fatal("stopped emitted while Idle")
	}

	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.StopListening()
	s.StopListening()
	if got := log.snapshot(); len(got) != 1 {
		t.Fatalf("stopped events = %v, want exactly one", got)
	}
}

func TestNoReadsAfterStopReturns(t *testing.T) {
	dev := &fakeDevice{}
	s := newTestSocket(t, dev)
	if err := s.StartListening(ListenOptions{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	s.StopListening()
	n := dev.readCount()
	time.Sleep(20 * time.Millisecond)
	if m := dev.readCount(); m != n {
		t.Fatalf("reads continued after stop: %d -> %d", n, m)
	}
}
