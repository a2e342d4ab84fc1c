// Package transport provides the asynchronous transmission queue that funnels
// all device writes through a single goroutine.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canstream/can"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("transport: tx queue closed")

// Hooks let the owning socket attach metrics and logging without the queue
// knowing about either.
type Hooks struct {
	// OnError runs when the write function fails; the frame is not retried.
	OnError func(error)
	// OnSent runs after a successful write.
	OnSent func()
	// OnFull runs when the buffer is full; its error is returned from Enqueue.
	// A nil hook makes overflow silent (fire-and-forget).
	OnFull func() error
}

// TxQueue provides non-blocking enqueue semantics over a synchronous frame
// writer: producers never block behind a slow or wedged device. Frames are
// written in enqueue order by one worker goroutine.
type TxQueue struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	write  func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// NewTxQueue starts the worker with a buffer of size buf.
func NewTxQueue(parent context.Context, buf int, write func(can.Frame) error, hooks Hooks) *TxQueue {
	ctx, cancel := context.WithCancel(parent)
	q := &TxQueue{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		write:  write,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *TxQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case fr, ok := <-q.ch:
			if !ok {
				return
			}
			if err := q.write(fr); err != nil {
				if q.hooks.OnError != nil {
					q.hooks.OnError(err)
				}
				continue
			}
			if q.hooks.OnSent != nil {
				q.hooks.OnSent()
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// Enqueue queues a frame for asynchronous transmission. When the buffer is
// full the OnFull hook decides the returned error.
func (q *TxQueue) Enqueue(fr can.Frame) error {
	if q.closed.Load() {
		return ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		if q.hooks.OnFull != nil {
			return q.hooks.OnFull()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. Idempotent.
func (q *TxQueue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
