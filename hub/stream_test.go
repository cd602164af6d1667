package hub_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/hublink/helpers"
	"github.com/temoto/hublink/hub"
	"github.com/temoto/hublink/wire"
)

// Whole session against an IMU driver: configure 2s updates with 10s
// ping budget, then pull data updates in publish order.
func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t, hub.SessionOptions{})

	conf := wire.NewDriverConfig(2*time.Second, 10*time.Second)
	confch := make(chan error, 1)
	go func() { confch <- sess.Configure(context.Background(), conf.Bytes(), 5*time.Second) }()
	csock := tr.WaitOpen(t)
	assert.Equal(t, "push", csock.Kind)
	assert.Equal(t, "tcp://127.0.0.1:20013", csock.Endpoint)
	assert.Equal(t, helpers.MustHex("0d000000401500002041"), csock.TakeSent(t))
	require.NoError(t, <-confch)
	csock.WaitClosed(t)

	stream, err := sess.DataStream(context.Background())
	require.NoError(t, err)
	dsock := tr.WaitOpen(t)
	assert.Equal(t, "sub", dsock.Kind)
	assert.Equal(t, "tcp://127.0.0.1:20016", dsock.Endpoint)

	sent := [][]byte{[]byte("imu-1"), []byte("imu-2"), []byte("imu-3")}
	for _, p := range sent {
		dsock.Feed(t, p)
	}
	for _, expect := range sent {
		p, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, expect, p)
	}

	require.NoError(t, stream.Close())
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
	dsock.WaitClosed(t)
	assert.Equal(t, 1, dsock.CloseCalls())
	assert.EqualValues(t, 3, sess.Stat().Data.Value())

	require.NoError(t, sess.Close())
	assert.Equal(t, 1, tr.CloseCalls())
}

func TestStatusStreamDecode(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t, hub.SessionOptions{})
	stream, err := sess.StatusStream(context.Background())
	require.NoError(t, err)
	sock := tr.WaitOpen(t)
	assert.Equal(t, "sub", sock.Kind)
	assert.Equal(t, "tcp://127.0.0.1:20015", sock.Endpoint)

	sock.Feed(t, helpers.MustHex("080612036162631a04626f6f6d"))
	st, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, st.Type)
	assert.Equal(t, "abc", st.UUID)
	assert.Equal(t, "boom", st.Message)
	assert.Equal(t, "Error log uuid=abc msg=boom", st.String())

	// one malformed record is reported, the stream lives on
	sock.Feed(t, helpers.MustHex("ff"))
	_, err = stream.Next()
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
	assert.False(t, sock.IsClosed())

	sock.Feed(t, helpers.MustHex("0801"))
	st, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusStarted, st.Type)
	assert.Equal(t, "Started", st.String())

	require.NoError(t, stream.Close())
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
	sock.WaitClosed(t)
	require.NoError(t, sess.Close())
}

// Abandoning a stream through its context must release the channel
// without another Next call.
func TestStreamAbandonReleases(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t, hub.SessionOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := sess.DataStream(ctx)
	require.NoError(t, err)
	sock := tr.WaitOpen(t)
	cancel()
	sock.WaitClosed(t)
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
	require.NoError(t, sess.Close())
}

func TestStreamSessionClose(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t, hub.SessionOptions{})
	stream, err := sess.DataStream(context.Background())
	require.NoError(t, err)
	sock := tr.WaitOpen(t)

	errch := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		errch <- err
	}()
	require.NoError(t, sess.Close())
	assert.Equal(t, io.EOF, <-errch)
	sock.WaitClosed(t)
	assert.Equal(t, 1, tr.CloseCalls())
}

func TestFrameStreamFixedPort(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t, hub.SessionOptions{})
	stream, err := sess.FrameStream(context.Background())
	require.NoError(t, err)
	sock := tr.WaitOpen(t)
	assert.Equal(t, "sub", sock.Kind)
	assert.Equal(t, "tcp://127.0.0.1:60001", sock.Endpoint)

	// multipart publish carries the payload in the first frame
	sock.Feed(t, []byte{0xff, 0xd8, 0xff}, []byte("ignored"))
	p, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, p)
	assert.EqualValues(t, 1, sess.Stat().Frames.Value())

	require.NoError(t, stream.Close())
	require.NoError(t, sess.Close())
}

func TestStreamOpenError(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t, hub.SessionOptions{})
	tr.OpenError(errors.New("connection refused"))
	_, err := sess.DataStream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe data")
	require.NoError(t, sess.Close())
}
