package hub

import (
	"context"

	"github.com/go-zeromq/zmq4"
	"github.com/juju/errors"
	"github.com/temoto/hublink/log2"
)

// Transport creates a session's channels. Channel creation may happen
// from concurrent tasks; each returned Socket is owned by exactly one
// task and is not safe for concurrent use.
type Transport interface {
	// Push opens the outbound one-shot pattern (driver configuration).
	Push(ctx context.Context, endpoint string) (Socket, error)
	// Req opens the request/reply pattern (keepalive).
	Req(ctx context.Context, endpoint string) (Socket, error)
	// Sub opens the subscribe-everything pattern (status/data/frames).
	Sub(ctx context.Context, endpoint string) (Socket, error)
	Close() error
}

// Socket is one open channel. Send blocks until the transport took the
// payload, Recv blocks for the next inbound message; both are unblocked
// by the context the socket was opened with.
type Socket interface {
	Send(p []byte) error
	Recv() ([][]byte, error)
	Close() error
}

// ZeroMQ transport, the production default.
type zmqTransport struct {
	log *log2.Log
}

func newZMQTransport(log *log2.Log) *zmqTransport { return &zmqTransport{log: log} }

func (t *zmqTransport) Push(ctx context.Context, endpoint string) (Socket, error) {
	return t.dial(zmq4.NewPush(ctx), endpoint)
}

func (t *zmqTransport) Req(ctx context.Context, endpoint string) (Socket, error) {
	return t.dial(zmq4.NewReq(ctx), endpoint)
}

func (t *zmqTransport) Sub(ctx context.Context, endpoint string) (Socket, error) {
	z := zmq4.NewSub(ctx)
	sock, err := t.dial(z, endpoint)
	if err != nil {
		return nil, err
	}
	if err = z.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sock.Close()
		return nil, errors.Annotatef(err, "subscribe %s", endpoint)
	}
	return sock, nil
}

func (t *zmqTransport) dial(z zmq4.Socket, endpoint string) (Socket, error) {
	if err := z.Dial(endpoint); err != nil {
		_ = z.Close()
		return nil, errors.Annotatef(err, "dial %s", endpoint)
	}
	t.log.Debugf("dial %s", endpoint)
	return &zmqSocket{z: z}, nil
}

func (t *zmqTransport) Close() error { return nil }

type zmqSocket struct{ z zmq4.Socket }

func (s *zmqSocket) Send(p []byte) error { return s.z.Send(zmq4.NewMsg(p)) }

func (s *zmqSocket) Recv() ([][]byte, error) {
	m, err := s.z.Recv()
	if err != nil {
		return nil, err
	}
	return m.Frames, nil
}

func (s *zmqSocket) Close() error { return s.z.Close() }
