// Package transporttest provides in-memory sockets, a scripted dialer and a
// manual scheduler for exercising transports without a network.
package transporttest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/voice-stream/internal/transport"
)

const waitTimeout = 2 * time.Second

var (
	ErrSocketClosed = errors.New("socket closed")
	ErrRefused      = errors.New("connection refused")
)

// Socket is an in-memory transport.Socket. Frames pushed with Deliver are
// returned by ReadMessage; written frames are recorded.
type Socket struct {
	URL string

	inbound   chan []byte
	idle      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
	failIn   int
}

func NewSocket(url string) *Socket {
	return &Socket{
		URL:     url,
		inbound: make(chan []byte),
		idle:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *Socket) ReadMessage() ([]byte, error) {
	for {
		select {
		case data := <-s.inbound:
			return data, nil
		case <-s.closed:
			return nil, ErrSocketClosed
		case s.idle <- struct{}{}:
		}
	}
}

func (s *Socket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrSocketClosed
	}
	if s.writeErr != nil {
		if s.failIn <= 0 {
			return s.writeErr
		}
		s.failIn--
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Socket) Closed() bool {
	return s.isClosed()
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// FailWrites makes writes fail with err after the next n successful writes.
func (s *Socket) FailWrites(err error, after int) {
	s.mu.Lock()
	s.writeErr = err
	s.failIn = after
	s.mu.Unlock()
}

func (s *Socket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}

// Deliver hands a frame to the reader and waits until the transport has
// finished handling it and is reading again.
func (s *Socket) Deliver(tb testing.TB, frame string) {
	tb.Helper()

	select {
	case s.inbound <- []byte(frame):
	case <-s.closed:
		tb.Fatalf("deliver %s: socket closed", frame)
	case <-time.After(waitTimeout):
		tb.Fatalf("deliver %s: reader not running", frame)
	}

	select {
	case <-s.idle:
	case <-s.closed:
	case <-time.After(waitTimeout):
		tb.Fatalf("deliver %s: handler did not return", frame)
	}
}

// Dialer hands out Sockets, failing the scripted number of attempts first.
type Dialer struct {
	mu       sync.Mutex
	sockets  []*Socket
	failNext int
	failAll  bool
	attempts int
}

func (d *Dialer) Dial(ctx context.Context, url string) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failAll {
		return nil, ErrRefused
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, ErrRefused
	}
	s := NewSocket(url)
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

func (d *Dialer) FailAll(fail bool) {
	d.mu.Lock()
	d.failAll = fail
	d.mu.Unlock()
}

func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *Dialer) Sockets() []*Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Socket(nil), d.sockets...)
}

// Last returns the most recently opened socket, or nil.
func (d *Dialer) Last() *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// Scheduler is a manual clock. Timers fire synchronously on the goroutine
// calling Advance.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*Timer
}

type Timer struct {
	s       *Scheduler
	seq     int
	due     time.Duration
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) transport.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &Timer{s: s, seq: s.seq, due: s.now + d, delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *Scheduler) pendingLocked() []*Timer {
	var out []*Timer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].due == out[j].due {
			return out[i].seq < out[j].seq
		}
		return out[i].due < out[j].due
	})
	return out
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, earliest first.
func (s *Scheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.pendingLocked() {
		out = append(out, t.delay)
	}
	return out
}

// Advance moves the clock forward, firing due timers in order.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		pending := s.pendingLocked()
		if len(pending) == 0 || pending[0].due > target {
			break
		}
		next := pending[0]
		next.fired = true
		s.now = next.due
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// FireNext advances to the earliest pending timer and fires it.
func (s *Scheduler) FireNext() bool {
	s.mu.Lock()
	pending := s.pendingLocked()
	if len(pending) == 0 {
		s.mu.Unlock()
		return false
	}
	d := pending[0].due - s.now
	s.mu.Unlock()
	s.Advance(d)
	return true
}

// Eventually polls cond until it holds or the wait times out.
func Eventually(tb testing.TB, cond func() bool, msg string) {
	tb.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("condition not met: %s", msg)
}
