package runner_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/hublink/helpers"
	"github.com/temoto/hublink/hub"
	"github.com/temoto/hublink/log2"
	"github.com/temoto/hublink/runner"
	"github.com/temoto/hublink/wire"
)

func testSession(t testing.TB) (*hub.Session, *hub.MockTransport) {
	t.Helper()
	tr := hub.NewMockTransport()
	sess, err := hub.NewSession("127.0.0.1", hub.BaseIMU, hub.SessionOptions{
		Log:       log2.NewTest(t, log2.LDebug),
		Transport: tr,
	})
	require.NoError(t, err)
	return sess, tr
}

func waitOpenAll(t testing.TB, tr *hub.MockTransport, n int) map[string]*hub.MockSocket {
	t.Helper()
	m := make(map[string]*hub.MockSocket, n)
	for i := 0; i < n; i++ {
		s := tr.WaitOpen(t)
		m[s.Endpoint] = s
	}
	return m
}

func TestRunPullsAll(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t)
	stch := make(chan *wire.Status, 8)
	datach := make(chan []byte, 8)
	framech := make(chan []byte, 8)
	cfg := runner.RunConfig{
		Log:         log2.NewTest(t, log2.LDebug),
		Config:      wire.NewDriverConfig(2*time.Second, 10*time.Second).Bytes(),
		PingDelay:   time.Hour,
		PingTimeout: 5 * time.Second,
		Frames:      true,
		OnStatus:    func(st *wire.Status) error { stch <- st; return nil },
		OnData:      func(p []byte) error { datach <- p; return nil },
		OnFrame:     func(p []byte) error { framech <- p; return nil },
	}
	ctx, cancel := context.WithCancel(context.Background())
	errch := make(chan error, 1)
	go func() { errch <- runner.Run(ctx, sess, cfg) }()

	csock := tr.WaitOpen(t)
	assert.Equal(t, "push", csock.Kind)
	assert.Equal(t, cfg.Config, csock.TakeSent(t))

	socks := waitOpenAll(t, tr, 4)
	ka := socks["tcp://127.0.0.1:20014"]
	status := socks["tcp://127.0.0.1:20015"]
	data := socks["tcp://127.0.0.1:20016"]
	frame := socks["tcp://127.0.0.1:60001"]
	require.NotNil(t, ka)
	require.NotNil(t, status)
	require.NotNil(t, data)
	require.NotNil(t, frame)

	assert.Len(t, ka.TakeSent(t), 0)
	ka.Feed(t)

	status.Feed(t, helpers.MustHex("0801"))
	st := <-stch
	assert.Equal(t, wire.StatusStarted, st.Type)

	data.Feed(t, []byte("d1"))
	data.Feed(t, []byte("d2"))
	assert.Equal(t, []byte("d1"), <-datach)
	assert.Equal(t, []byte("d2"), <-datach)

	frame.Feed(t, []byte{0xff, 0xd8}, []byte("meta"))
	assert.Equal(t, []byte{0xff, 0xd8}, <-framech)

	select {
	case err := <-errch:
		t.Fatalf("run ended early: %v", err)
	default:
	}
	cancel()
	assert.Equal(t, context.Canceled, errors.Cause(<-errch))
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, tr.CloseCalls())
}

func TestRunKeepAliveFatal(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t)
	cfg := runner.RunConfig{
		Log:         log2.NewTest(t, log2.LDebug),
		PingDelay:   5 * time.Millisecond,
		PingTimeout: 30 * time.Millisecond,
	}
	errch := make(chan error, 1)
	go func() { errch <- runner.Run(context.Background(), sess, cfg) }()

	socks := waitOpenAll(t, tr, 2)
	ka := socks["tcp://127.0.0.1:20014"]
	status := socks["tcp://127.0.0.1:20015"]
	require.NotNil(t, ka)
	require.NotNil(t, status)

	assert.Len(t, ka.TakeSent(t), 0)
	ka.Feed(t)
	_ = ka.TakeSent(t) // this ping gets no reply

	err := <-errch
	assert.Equal(t, hub.ErrKeepAliveTimeout, errors.Cause(err))
	ka.WaitClosed(t)
	status.WaitClosed(t)
	require.NoError(t, sess.Close())
}

func TestRunStatusDecodeContinues(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t)
	stch := make(chan *wire.Status, 8)
	cfg := runner.RunConfig{
		Log:         log2.NewTest(t, log2.LDebug),
		PingDelay:   time.Hour,
		PingTimeout: 5 * time.Second,
		OnStatus:    func(st *wire.Status) error { stch <- st; return nil },
	}
	ctx, cancel := context.WithCancel(context.Background())
	errch := make(chan error, 1)
	go func() { errch <- runner.Run(ctx, sess, cfg) }()

	socks := waitOpenAll(t, tr, 2)
	ka := socks["tcp://127.0.0.1:20014"]
	status := socks["tcp://127.0.0.1:20015"]
	require.NotNil(t, ka)
	require.NotNil(t, status)
	assert.Len(t, ka.TakeSent(t), 0)
	ka.Feed(t)

	status.Feed(t, helpers.MustHex("ff")) // malformed, logged and skipped
	status.Feed(t, helpers.MustHex("0801"))
	st := <-stch
	assert.Equal(t, wire.StatusStarted, st.Type)

	cancel()
	assert.Equal(t, context.Canceled, errors.Cause(<-errch))
	require.NoError(t, sess.Close())
}

func TestRunHandlerErrorFatal(t *testing.T) {
	t.Parallel()
	sess, tr := testSession(t)
	boom := errors.New("boom")
	cfg := runner.RunConfig{
		Log:         log2.NewTest(t, log2.LDebug),
		PingDelay:   time.Hour,
		PingTimeout: 5 * time.Second,
		OnData:      func([]byte) error { return boom },
	}
	errch := make(chan error, 1)
	go func() { errch <- runner.Run(context.Background(), sess, cfg) }()

	socks := waitOpenAll(t, tr, 3)
	ka := socks["tcp://127.0.0.1:20014"]
	data := socks["tcp://127.0.0.1:20016"]
	require.NotNil(t, ka)
	require.NotNil(t, data)
	assert.Len(t, ka.TakeSent(t), 0)
	ka.Feed(t)

	data.Feed(t, []byte("d1"))
	err := <-errch
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.Contains(t, err.Error(), "data handler")
	require.NoError(t, sess.Close())
}

func TestRunConfigureTimeout(t *testing.T) {
	t.Parallel()
	sess, _ := testSession(t)
	cfg := runner.RunConfig{
		Log:              log2.NewTest(t, log2.LDebug),
		Config:           []byte{0x0d},
		ConfigureTimeout: 50 * time.Millisecond,
	}
	err := runner.Run(context.Background(), sess, cfg)
	require.Error(t, err)
	assert.Equal(t, hub.ErrConfigureTimeout, errors.Cause(err))
	require.NoError(t, sess.Close())
}

func TestSuperviseRebuilds(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var connects int32
	connect := func() (*hub.Session, error) {
		n := atomic.AddInt32(&connects, 1)
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		if n >= 3 {
			cancel()
		}
		sess, err := hub.NewSession("127.0.0.1", hub.BaseIMU, hub.SessionOptions{
			Log:       log,
			Transport: hub.NewMockTransport(),
		})
		require.NoError(t, err)
		return sess, nil
	}
	cfg := runner.RunConfig{
		Log:         log,
		PingDelay:   5 * time.Millisecond,
		PingTimeout: 20 * time.Millisecond,
		RestartMin:  5 * time.Millisecond,
		RestartMax:  20 * time.Millisecond,
	}
	err := runner.Supervise(ctx, cfg, connect)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.True(t, atomic.LoadInt32(&connects) >= 3, "connects=%d", connects)
}
