package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/hublink/cmd/hublink/mqtt"
	"github.com/temoto/hublink/cmd/hublink/repl"
	"github.com/temoto/hublink/cmd/hublink/subcmd"
	"github.com/temoto/hublink/cmd/hublink/watch"
	hub_config "github.com/temoto/hublink/hub/config"
	"github.com/temoto/hublink/log2"
)

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	mqtt.Mod,
	repl.Mod,
	watch.Mod,
}

const usage = `usage: hublink [flags] command
commands: mqtt repl watch
flags: -config=hublink.hcl -log-debug`

func main() {
	flagConfig := flag.String("config", "hublink.hcl", "")
	flagLogDebug := flag.Bool("log-debug", false, "")
	flag.Parse()

	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	if *flagLogDebug {
		log.SetLevel(log2.LDebug)
	}

	mod, err := subcmd.Find(flag.Arg(0), modules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "command line error: %v\n%s\n", err, usage)
		os.Exit(1)
	}

	config := hub_config.MustReadConfigFile(log, *flagConfig)
	if err = config.Validate(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, log2.ContextKey, log) //nolint:staticcheck
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigch
		log.Infof("caught signal %v", sig)
		cancel()
	}()

	log.Debugf("command=%s config=%s", mod.Name, *flagConfig)
	if err = mod.Main(ctx, config); err != nil && errors.Cause(err) != context.Canceled {
		log.Fatal(errors.ErrorStack(err))
	}
	log.Infof("goodbye")
}
