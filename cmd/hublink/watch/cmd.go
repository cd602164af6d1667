// Watch prints everything the configured drivers publish. Debug tool,
// pipe friendly: records to stdout, logs to stderr.
package watch

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/hublink/cmd/hublink/subcmd"
	"github.com/temoto/hublink/helpers"
	"github.com/temoto/hublink/hub"
	hub_config "github.com/temoto/hublink/hub/config"
	"github.com/temoto/hublink/log2"
	"github.com/temoto/hublink/runner"
	"github.com/temoto/hublink/wire"
)

var Mod = subcmd.Mod{Name: "watch", Main: Main}

func Main(ctx context.Context, config *hub_config.Config) error {
	log := log2.ContextValueLogger(ctx, log2.ContextKey)
	drivers := config.Enabled()
	if len(drivers) == 0 {
		return errors.NotValidf("no enabled drivers in config")
	}

	// first driver to end takes the others down
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := alive.NewAlive()
	var firstErr helpers.AtomicError
	for _, d := range drivers {
		d := d
		a.Add(1)
		go func() {
			defer a.Done()
			err := watchDriver(wctx, log, config, d)
			firstErr.StoreOnce(errors.Annotatef(err, "driver=%s", d.Name))
			cancel()
		}()
	}
	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("watching drivers=%d hub=%s", len(drivers), config.Hub.Address)
	a.Wait()
	err, _ := firstErr.Load()
	return err
}

func watchDriver(ctx context.Context, log *log2.Log, config *hub_config.Config, d hub_config.DriverConfig) error {
	base, err := d.Base()
	if err != nil {
		return err
	}
	sess, err := hub.NewSession(config.Hub.Address, base, hub.SessionOptions{
		Log:             log,
		Linger:          config.Linger(),
		LegacyKeepAlive: config.Hub.LegacyKeepalive,
	})
	if err != nil {
		return err
	}
	defer func() {
		if e := sess.Close(); e != nil {
			log.Errorf("close %s e=%v", sess.String(), e)
		}
	}()

	name := d.Name
	cfg := runner.RunConfig{
		Log:              log,
		Config:           wire.NewDriverConfig(d.UpdateDelay(), d.DriverTimeout()).Bytes(),
		ConfigureTimeout: d.ConfigureTimeout(),
		PingDelay:        d.PingDelay(),
		PingTimeout:      d.PingTimeout(),
		Frames:           d.Frames,
		OnStatus: func(st *wire.Status) error {
			fmt.Printf("%s status %s\n", name, st.String())
			return nil
		},
		OnData: func(p []byte) error {
			fmt.Printf("%s data %x\n", name, p)
			return nil
		},
		OnFrame: func(p []byte) error {
			fmt.Printf("%s frame bytes=%d\n", name, len(p))
			return nil
		},
	}
	return runner.Run(ctx, sess, cfg)
}
