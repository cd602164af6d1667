package hub

// Mock Transport to test session code without a hub.

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
)

const mockTimeout = 5 * time.Second

type MockTransport struct {
	mu      sync.Mutex
	openErr error
	opened  chan *MockSocket
	closed  int32
}

func NewMockTransport() *MockTransport {
	return &MockTransport{opened: make(chan *MockSocket, 16)}
}

// OpenError makes every following Push/Req/Sub fail with e.
func (t *MockTransport) OpenError(e error) {
	t.mu.Lock()
	t.openErr = e
	t.mu.Unlock()
}

func (t *MockTransport) Push(ctx context.Context, endpoint string) (Socket, error) {
	return t.open(ctx, "push", endpoint)
}
func (t *MockTransport) Req(ctx context.Context, endpoint string) (Socket, error) {
	return t.open(ctx, "req", endpoint)
}
func (t *MockTransport) Sub(ctx context.Context, endpoint string) (Socket, error) {
	return t.open(ctx, "sub", endpoint)
}

func (t *MockTransport) Close() error {
	atomic.AddInt32(&t.closed, 1)
	return nil
}

func (t *MockTransport) CloseCalls() int { return int(atomic.LoadInt32(&t.closed)) }

// WaitOpen returns the next socket the code under test opened.
func (t *MockTransport) WaitOpen(tb testing.TB) *MockSocket {
	tb.Helper()
	select {
	case s := <-t.opened:
		return s
	case <-time.After(mockTimeout):
		tb.Fatalf("mock transport WaitOpen timeout guard. code under test did not open a socket")
		return nil
	}
}

func (t *MockTransport) open(ctx context.Context, kind, endpoint string) (Socket, error) {
	t.mu.Lock()
	err := t.openErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := &MockSocket{
		Kind:     kind,
		Endpoint: endpoint,
		ctx:      ctx,
		sent:     make(chan []byte),
		inbox:    make(chan [][]byte, 16),
		closed:   make(chan struct{}),
	}
	select {
	case t.opened <- s:
	case <-time.After(mockTimeout):
		panic("mock transport open overflow guard. test did not drain WaitOpen")
	}
	return s, nil
}

// MockSocket blocks Send until the test takes the payload, so a silent
// peer is simply a test that never calls TakeSent.
type MockSocket struct {
	Kind     string
	Endpoint string

	ctx       context.Context
	sent      chan []byte
	inbox     chan [][]byte
	closed    chan struct{}
	closeN    int32
	closeOnce sync.Once
}

func (s *MockSocket) Send(p []byte) error {
	select {
	case s.sent <- p:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-s.closed:
		return errors.New("mock socket closed")
	}
}

func (s *MockSocket) Recv() ([][]byte, error) {
	select {
	case frames := <-s.inbox:
		return frames, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case <-s.closed:
		return nil, errors.New("mock socket closed")
	}
}

func (s *MockSocket) Close() error {
	atomic.AddInt32(&s.closeN, 1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *MockSocket) CloseCalls() int { return int(atomic.LoadInt32(&s.closeN)) }

func (s *MockSocket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// TakeSent acknowledges one Send from the code under test.
func (s *MockSocket) TakeSent(tb testing.TB) []byte {
	tb.Helper()
	select {
	case p := <-s.sent:
		return p
	case <-time.After(mockTimeout):
		tb.Fatalf("mock socket TakeSent timeout guard. code under test did not Send")
		return nil
	}
}

// Feed queues one publish. No frames means an empty message, a valid
// keepalive reply.
func (s *MockSocket) Feed(tb testing.TB, frames ...[]byte) {
	tb.Helper()
	select {
	case s.inbox <- frames:
	case <-time.After(mockTimeout):
		tb.Fatalf("mock socket Feed overflow guard")
	}
}

func (s *MockSocket) WaitClosed(tb testing.TB) {
	tb.Helper()
	select {
	case <-s.closed:
	case <-time.After(mockTimeout):
		tb.Fatalf("mock socket WaitClosed timeout guard. code under test did not Close")
	}
}
