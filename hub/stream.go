package hub

import (
	"context"
	"expvar"
	"io"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/hublink/wire"
)

// Stream pulls messages from one subscribed channel. Created lazily:
// the socket is opened by StatusStream/DataStream/FrameStream and
// released exactly once, whether the consumer reads to the end, calls
// Close, cancels the context or closes the session.
type Stream struct {
	sock   Socket
	opctx  context.Context
	cancel context.CancelFunc
	done   func()
	once   sync.Once
	count  *expvar.Int
}

// subscribe opens a SUB channel and starts the release watcher.
func (s *Session) subscribe(ctx context.Context, c Channel, count *expvar.Int) (*Stream, error) {
	if !s.alive.Add(1) {
		return nil, ErrClosing
	}
	opctx, cancel := s.opContext(ctx)
	sock, err := s.tr.Sub(opctx, s.Endpoint(c))
	if err != nil {
		cancel()
		s.alive.Done()
		return nil, errors.Annotatef(err, "subscribe %s", c.String())
	}
	st := &Stream{
		sock:   sock,
		opctx:  opctx,
		cancel: cancel,
		done:   s.alive.Done,
		count:  count,
	}
	go func() {
		<-opctx.Done()
		st.release()
	}()
	return st, nil
}

// Next returns the payload of the next message. io.EOF means the
// stream ended cleanly and will not produce more messages.
func (st *Stream) Next() ([]byte, error) {
	if st.opctx.Err() != nil {
		return nil, io.EOF
	}
	frames, err := st.sock.Recv()
	if err != nil {
		if st.opctx.Err() != nil {
			return nil, io.EOF
		}
		st.release()
		return nil, errors.Annotate(err, "stream recv")
	}
	// Multipart publishes carry the payload in the first frame.
	var payload []byte
	if len(frames) > 0 {
		payload = frames[0]
	}
	if st.count != nil {
		st.count.Add(1)
	}
	return payload, nil
}

// Close releases the stream's channel. Safe to call more than once and
// concurrently with Next.
func (st *Stream) Close() error {
	st.release()
	return nil
}

func (st *Stream) release() {
	st.once.Do(func() {
		st.cancel()
		_ = st.sock.Close()
		st.done()
	})
}

// StatusStream decodes driver status reports.
type StatusStream struct{ *Stream }

// Next returns the next decoded status. A decode error is reported but
// does not end the stream; only io.EOF does.
func (st *StatusStream) Next() (*wire.Status, error) {
	p, err := st.Stream.Next()
	if err != nil {
		return nil, err
	}
	status, err := wire.ParseStatus(p)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// StatusStream subscribes to all driver status reports.
func (s *Session) StatusStream(ctx context.Context) (*StatusStream, error) {
	st, err := s.subscribe(ctx, ChannelStatus, &s.stat.Status)
	if err != nil {
		return nil, err
	}
	return &StatusStream{Stream: st}, nil
}

// DataStream subscribes to driver-specific sample payloads.
func (s *Session) DataStream(ctx context.Context) (*Stream, error) {
	return s.subscribe(ctx, ChannelData, &s.stat.Data)
}

// FrameStream subscribes to the camera frame channel. Unlike the other
// channels it lives on a fixed port shared by all drivers.
func (s *Session) FrameStream(ctx context.Context) (*Stream, error) {
	return s.subscribe(ctx, ChannelFrame, &s.stat.Frames)
}
