// Package runner drives complete driver sessions: configure once, then
// keepalive watchdog and subscription pulls until the first fatal
// problem or cancellation.
package runner

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/hublink/helpers"
	"github.com/temoto/hublink/hub"
	"github.com/temoto/hublink/log2"
	"github.com/temoto/hublink/wire"
)

const (
	DefaultConfigureTimeout = 5 * time.Second
	DefaultPingDelay        = 5 * time.Second
	DefaultPingTimeout      = 10 * time.Second
	DefaultRestartMin       = 1 * time.Second
	DefaultRestartMax       = 30 * time.Second
)

type RunConfig struct {
	Log *log2.Log

	// Config is the encoded driver configuration. Empty skips the
	// configure step.
	Config           []byte
	ConfigureTimeout time.Duration
	PingDelay        time.Duration
	PingTimeout      time.Duration

	// Supervise restart backoff bounds.
	RestartMin time.Duration
	RestartMax time.Duration

	// Frames adds the camera frame subscription.
	Frames bool

	// Handlers run on the pull tasks, one at a time per channel.
	// A handler error ends the session. OnData=nil skips the data
	// subscription, OnStatus/OnFrame=nil only log.
	OnStatus func(*wire.Status) error
	OnData   func([]byte) error
	OnFrame  func([]byte) error
}

func (cfg *RunConfig) setDefaults() {
	if cfg.ConfigureTimeout == 0 {
		cfg.ConfigureTimeout = DefaultConfigureTimeout
	}
	if cfg.PingDelay == 0 {
		cfg.PingDelay = DefaultPingDelay
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.RestartMin == 0 {
		cfg.RestartMin = DefaultRestartMin
	}
	if cfg.RestartMax == 0 {
		cfg.RestartMax = DefaultRestartMax
	}
}

// Run configures the driver and pumps its channels until the session
// dies. Never returns nil: the result is the reason the session ended,
// ctx.Err() after caller cancellation. The session is left for the
// caller to Close.
func Run(ctx context.Context, sess *hub.Session, cfg RunConfig) error {
	cfg.setDefaults()

	if len(cfg.Config) > 0 {
		if err := sess.Configure(ctx, cfg.Config, cfg.ConfigureTimeout); err != nil {
			return errors.Annotate(err, "configure")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := alive.NewAlive()
	var firstErr helpers.AtomicError
	die := func(e error) {
		if _, found := firstErr.StoreOnce(e); !found {
			cfg.Log.Debugf("run die e=%v", e)
		}
		cancel()
		a.Stop()
	}

	a.Add(1)
	go func() {
		defer a.Done()
		die(sess.KeepAlive(runCtx, cfg.PingDelay, cfg.PingTimeout))
	}()

	if statuses, err := sess.StatusStream(runCtx); err != nil {
		die(errors.Annotate(err, "status subscribe"))
	} else {
		a.Add(1)
		go func() {
			defer a.Done()
			pumpStatus(statuses, &cfg, die)
		}()
	}

	if cfg.OnData != nil {
		if stream, err := sess.DataStream(runCtx); err != nil {
			die(errors.Annotate(err, "data subscribe"))
		} else {
			a.Add(1)
			go func() {
				defer a.Done()
				pump("data", stream, &cfg, cfg.OnData, die)
			}()
		}
	}

	if cfg.Frames {
		if stream, err := sess.FrameStream(runCtx); err != nil {
			die(errors.Annotate(err, "frame subscribe"))
		} else {
			a.Add(1)
			go func() {
				defer a.Done()
				pump("frame", stream, &cfg, cfg.OnFrame, die)
			}()
		}
	}

	a.Wait()
	err, _ := firstErr.Load()
	return err
}

func pumpStatus(stream *hub.StatusStream, cfg *RunConfig, die func(error)) {
	for {
		st, err := stream.Next()
		switch {
		case err == io.EOF:
			return
		case errors.IsNotValid(err):
			cfg.Log.Errorf("status decode e=%v", err)
			continue
		case err != nil:
			die(errors.Annotate(err, "status"))
			return
		}
		cfg.Log.Debugf("status %s", st.String())
		if cfg.OnStatus != nil {
			if err = cfg.OnStatus(st); err != nil {
				die(errors.Annotate(err, "status handler"))
				return
			}
		}
	}
}

func pump(name string, stream *hub.Stream, cfg *RunConfig, handler func([]byte) error, die func(error)) {
	for {
		p, err := stream.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			die(errors.Annotate(err, name))
			return
		}
		cfg.Log.Debugf("%s bytes=%d", name, len(p))
		if handler != nil {
			if err = handler(p); err != nil {
				die(errors.Annotatef(err, "%s handler", name))
				return
			}
		}
	}
}

// Supervise keeps one driver connected: connect, Run, rebuild after
// failures with exponential backoff. Returns only via ctx.
func Supervise(ctx context.Context, cfg RunConfig, connect func() (*hub.Session, error)) error {
	cfg.setDefaults()
	b := &helpers.Backoff{Min: cfg.RestartMin, Max: cfg.RestartMax, K: 2}
	for {
		if err := sleepCtx(ctx, b.DelayBefore()); err != nil {
			return err
		}
		sess, err := connect()
		if err != nil {
			cfg.Log.Errorf("supervise connect e=%v", err)
			b.Failure()
			continue
		}
		began := time.Now()
		err = Run(ctx, sess, cfg)
		if e := sess.Close(); e != nil {
			cfg.Log.Errorf("supervise close %s e=%v", sess.String(), e)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cfg.Log.Errorf("supervise session %s ended e=%v", sess.String(), err)
		b.Update(time.Since(began) >= cfg.RestartMax)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
