package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/hublink/log2"
)

const (
	DefaultConfigurePoll = 1 * time.Second
	DefaultLinger        = 2 * time.Second
)

type SessionOptions struct {
	Log *log2.Log

	// Transport overrides the ZeroMQ default. Tests inject a mock.
	Transport Transport

	// ConfigurePoll is the delivery ack poll step in Configure.
	// Default 1s, never longer than the caller's timeout.
	ConfigurePoll time.Duration

	// Linger bounds Close waiting for running operations to release
	// their channels. Default 2s.
	Linger time.Duration

	// LegacyKeepAlive selects one-way pings for old hubs that do not
	// serve the reply endpoint. No peer death detection in this mode.
	LegacyKeepAlive bool
}

// Session talks to the drivers of one hub. Create with NewSession, use
// the channel operations from as many tasks as needed, Close once.
type Session struct {
	addr  string
	base  uint16
	alive *alive.Alive
	tr    Transport
	opt   SessionOptions
	stat  Stat
	log   *log2.Log
}

func NewSession(addr string, base uint16, opt SessionOptions) (*Session, error) {
	if addr == "" {
		return nil, errors.NotValidf("hub address empty")
	}
	if base == 0 {
		return nil, errors.NotValidf("base port 0")
	}
	if opt.ConfigurePoll == 0 {
		opt.ConfigurePoll = DefaultConfigurePoll
	}
	if opt.Linger == 0 {
		opt.Linger = DefaultLinger
	}
	s := &Session{
		addr:  addr,
		base:  base,
		alive: alive.NewAlive(),
		opt:   opt,
		log:   opt.Log,
	}
	s.tr = opt.Transport
	if s.tr == nil {
		s.tr = newZMQTransport(s.log)
	}
	return s, nil
}

func (s *Session) String() string { return fmt.Sprintf("hub=%s base=%d", s.addr, s.base) }

func (s *Session) Stat() *Stat { return &s.stat }

// Endpoint resolves a channel role against this session's peer.
func (s *Session) Endpoint(c Channel) string {
	return fmt.Sprintf("tcp://%s:%d", s.addr, c.Port(s.base))
}

// Configure delivers one driver configuration payload.
// Returns nil on confirmed delivery and on cancellation (cancel is not
// a delivery failure), ErrConfigureTimeout when the transport does not
// confirm within timeout. The channel is released on every path.
func (s *Session) Configure(ctx context.Context, payload []byte, timeout time.Duration) error {
	if !s.alive.Add(1) {
		return ErrClosing
	}
	defer s.alive.Done()
	opctx, cancel := s.opContext(ctx)
	defer cancel()

	sock, err := s.tr.Push(opctx, s.Endpoint(ChannelConfig))
	if err != nil {
		return errors.Annotate(err, "configure open")
	}
	defer sock.Close()

	// Send blocks until the payload left the local buffer, which is
	// never while the peer refuses the connection. The poll loop keeps
	// the caller's timeout authoritative over the transport's own.
	done := make(chan error, 1)
	go func() { done <- sock.Send(payload) }()

	poll := s.opt.ConfigurePoll
	if poll > timeout {
		poll = timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		select {
		case err = <-done:
			if err != nil {
				if opctx.Err() != nil {
					return nil
				}
				return errors.Annotate(err, "configure send")
			}
			s.stat.Configs.Add(1)
			s.log.Debugf("configure delivered bytes=%d", len(payload))
			return nil

		case <-opctx.Done():
			return nil

		case <-time.After(poll):
			if !time.Now().Before(deadline) {
				return ErrConfigureTimeout
			}
		}
	}
}

// KeepAlive runs the watchdog loop: empty ping, reply within timeout,
// sleep delay, repeat. Never returns nil. ErrKeepAliveTimeout means the
// peer is dead and the session must be rebuilt; on cancellation it
// returns ctx.Err(), or ErrClosing when the session was closed.
func (s *Session) KeepAlive(ctx context.Context, delay, timeout time.Duration) error {
	if !s.alive.Add(1) {
		return ErrClosing
	}
	defer s.alive.Done()
	opctx, cancel := s.opContext(ctx)
	defer cancel()

	if s.opt.LegacyKeepAlive {
		return s.pingOneWay(ctx, opctx, delay)
	}

	sock, err := s.tr.Req(opctx, s.Endpoint(ChannelKeepAlive))
	if err != nil {
		return errors.Annotate(err, "keepalive open")
	}
	defer sock.Close()

	// timeout covers the whole round: a peer that takes the ping but
	// never replies and a peer that stopped accepting look the same.
	for round := 1; ; round++ {
		fail := make(chan error, 1)
		go func() {
			if serr := sock.Send(nil); serr != nil {
				fail <- errors.Annotate(serr, "ping")
				return
			}
			s.stat.Pings.Add(1)
			_, rerr := sock.Recv()
			fail <- rerr
		}()

		select {
		case err = <-fail:
			if err != nil {
				if opctx.Err() != nil {
					return s.stopCause(ctx)
				}
				return errors.Annotatef(err, "keepalive round=%d", round)
			}

		case <-time.After(timeout):
			s.log.Errorf("keepalive no reply round=%d timeout=%s", round, timeout)
			return ErrKeepAliveTimeout

		case <-opctx.Done():
			return s.stopCause(ctx)
		}
		s.stat.Pongs.Add(1)
		s.stat.LastPong.SetNow()

		select {
		case <-time.After(delay):
		case <-opctx.Done():
			return s.stopCause(ctx)
		}
	}
}

// Old hubs only require periodic pings to keep publishing and serve no
// reply endpoint. The loop ends only via cancellation.
func (s *Session) pingOneWay(ctx, opctx context.Context, delay time.Duration) error {
	sock, err := s.tr.Push(opctx, s.Endpoint(ChannelKeepAlive))
	if err != nil {
		return errors.Annotate(err, "keepalive open")
	}
	defer sock.Close()

	for {
		if err = sock.Send(nil); err != nil {
			if opctx.Err() != nil {
				return s.stopCause(ctx)
			}
			return errors.Annotate(err, "keepalive ping")
		}
		s.stat.Pings.Add(1)
		select {
		case <-time.After(delay):
		case <-opctx.Done():
			return s.stopCause(ctx)
		}
	}
}

// Close stops the session. Running operations are cancelled and must
// release their channels within the linger budget.
func (s *Session) Close() error {
	s.alive.Stop()
	select {
	case <-s.alive.WaitChan():
	case <-time.After(s.opt.Linger):
		return errors.Timeoutf("session close: channels still busy after %s", s.opt.Linger)
	}
	return s.tr.Close()
}

// opContext binds an operation to both the caller's context and the
// session lifetime.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opctx, cancel := context.WithCancel(ctx)
	stopch := s.alive.StopChan()
	go func() {
		select {
		case <-stopch:
			cancel()
		case <-opctx.Done():
		}
	}()
	return opctx, cancel
}

// stopCause tells a cancelled caller apart from a closed session.
func (s *Session) stopCause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosing
}
