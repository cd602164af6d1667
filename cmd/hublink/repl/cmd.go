// Interactive client for poking one driver at a time. Development tool.
package repl

import (
	"context"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/hublink/cmd/hublink/subcmd"
	"github.com/temoto/hublink/helpers/cli"
	"github.com/temoto/hublink/hub"
	hub_config "github.com/temoto/hublink/hub/config"
	"github.com/temoto/hublink/log2"
	"github.com/temoto/hublink/wire"
)

const modName = "repl"

var Mod = subcmd.Mod{Name: modName, Main: Main}

const usage = `syntax: commands separated by whitespace
(main)
- conf [delay=SEC] [timeout=SEC]  send driver configuration
- raw XX... | @XX...              send raw configuration from hex
- ka start|stop                   keepalive loop in background
- status [N]                      pull N status records (default 1)
- data [N]                        pull N data updates
- frame [N]                       pull N camera frames
- stat                            session counters
- use NAME                        switch to another configured driver

(meta)
- sN       pause N milliseconds
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

type doFunc func(ctx context.Context) error

type client struct {
	log    *log2.Log
	config *hub_config.Config
	driver hub_config.DriverConfig
	sess   *hub.Session

	kaCancel context.CancelFunc
	kaDone   chan struct{}
}

func Main(ctx context.Context, config *hub_config.Config) error {
	log := log2.ContextValueLogger(ctx, log2.ContextKey)
	log.SetFlags(log2.LInteractiveFlags)
	drivers := config.Enabled()
	if len(drivers) == 0 {
		return errors.NotValidf("no enabled drivers in config")
	}

	c := &client{log: log, config: config}
	if err := c.use(drivers[0].Name); err != nil {
		return err
	}
	defer func() {
		if err := c.closeSession(); err != nil {
			log.Errorf("close e=%v", err)
		}
	}()

	log.Infof("hub=%s try: help", config.Hub.Address)
	cli.MainLoop(modName, c.newExecutor(ctx), newCompleter())
	return nil
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		prompt.Suggest{Text: "conf", Description: "send driver configuration"},
		prompt.Suggest{Text: "raw", Description: "send raw configuration from hex"},
		prompt.Suggest{Text: "ka", Description: "keepalive start|stop"},
		prompt.Suggest{Text: "status", Description: "pull N status records"},
		prompt.Suggest{Text: "data", Description: "pull N data updates"},
		prompt.Suggest{Text: "frame", Description: "pull N camera frames"},
		prompt.Suggest{Text: "stat", Description: "session counters"},
		prompt.Suggest{Text: "use", Description: "switch driver"},
		prompt.Suggest{Text: "sN", Description: "pause for N ms"},
		prompt.Suggest{Text: "loop=N", Description: "repeat line N times"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func (c *client) newExecutor(ctx context.Context) func(string) {
	return func(line string) {
		d, err := c.parseLine(line)
		if err != nil {
			c.log.Errorf(errors.ErrorStack(err))
			return
		}
		if d == nil {
			return
		}
		if err = d(ctx); err != nil {
			c.log.Errorf(errors.ErrorStack(err))
		}
	}
}

func (c *client) parseLine(line string) (doFunc, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil, nil
	}

	// pre-parse special commands
	loopn := uint(0)
	wordsRest := make([]string, 0, len(words))
	for _, word := range words {
		switch {
		case word == "help":
			return func(context.Context) error { c.log.Infof(usage); return nil }, nil
		case strings.HasPrefix(word, "loop="):
			if loopn != 0 {
				return nil, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return nil, errors.Annotatef(err, "word=%s", word)
			}
			loopn = uint(i)
		default:
			wordsRest = append(wordsRest, word)
		}
	}

	seq := make([]doFunc, 0, len(wordsRest))
	for len(wordsRest) > 0 {
		var d doFunc
		var err error
		if d, wordsRest, err = c.parseCommand(wordsRest); err != nil {
			return nil, err
		}
		seq = append(seq, d)
	}

	if loopn == 0 {
		loopn = 1
	}
	return func(ctx context.Context) error {
		for i := uint(0); i < loopn; i++ {
			for _, d := range seq {
				if err := d(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	}, nil
}

// parseCommand takes the head command and its arguments off words,
// returns the rest for the next command on the line.
func (c *client) parseCommand(words []string) (doFunc, []string, error) {
	word := words[0]
	rest := words[1:]
	switch {
	case word == "log=yes":
		return func(context.Context) error { c.log.SetLevel(log2.LDebug); return nil }, rest, nil

	case word == "log=no":
		return func(context.Context) error { c.log.SetLevel(log2.LInfo); return nil }, rest, nil

	case word == "stat":
		return func(context.Context) error {
			c.log.Infof("%s %s", c.sess.String(), c.sess.Stat().String())
			return nil
		}, rest, nil

	case word == "conf":
		delay := c.driver.UpdateDelay()
		timeout := c.driver.DriverTimeout()
	argLoop:
		for len(rest) > 0 {
			switch {
			case strings.HasPrefix(rest[0], "delay="):
				f, err := strconv.ParseFloat(rest[0][len("delay="):], 32)
				if err != nil {
					return nil, nil, errors.Annotatef(err, "word=%s", rest[0])
				}
				delay = time.Duration(f * float64(time.Second))
			case strings.HasPrefix(rest[0], "timeout="):
				f, err := strconv.ParseFloat(rest[0][len("timeout="):], 32)
				if err != nil {
					return nil, nil, errors.Annotatef(err, "word=%s", rest[0])
				}
				timeout = time.Duration(f * float64(time.Second))
			default:
				break argLoop
			}
			rest = rest[1:]
		}
		return c.doConfigure(wire.NewDriverConfig(delay, timeout).Bytes()), rest, nil

	case word == "raw":
		if len(rest) == 0 {
			return nil, nil, errors.Errorf("raw needs hex argument. try: help")
		}
		payload, err := hex.DecodeString(strings.TrimPrefix(rest[0], "@"))
		if err != nil {
			return nil, nil, errors.Annotatef(err, "word=%s", rest[0])
		}
		return c.doConfigure(payload), rest[1:], nil

	case word == "ka":
		if len(rest) == 0 || (rest[0] != "start" && rest[0] != "stop") {
			return nil, nil, errors.Errorf("ka start|stop")
		}
		start := rest[0] == "start"
		return func(ctx context.Context) error {
			if start {
				return c.startKeepAlive(ctx)
			}
			return c.stopKeepAlive()
		}, rest[1:], nil

	case word == "status" || word == "data" || word == "frame":
		kind := word
		n := uint64(1)
		if len(rest) > 0 {
			if i, err := strconv.ParseUint(rest[0], 10, 32); err == nil {
				n = i
				rest = rest[1:]
			}
		}
		return func(ctx context.Context) error { return c.pull(ctx, kind, n) }, rest, nil

	case word == "use":
		if len(rest) == 0 {
			return nil, nil, errors.Errorf("use DRIVER")
		}
		name := rest[0]
		return func(context.Context) error { return c.use(name) }, rest[1:], nil

	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "word=%s", word)
		}
		return func(ctx context.Context) error {
			select {
			case <-time.After(time.Duration(i) * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		}, rest, nil

	case word[0] == '@':
		payload, err := hex.DecodeString(word[1:])
		if err != nil {
			return nil, nil, errors.Annotatef(err, "word=%s", word)
		}
		return c.doConfigure(payload), rest, nil

	default:
		return nil, nil, errors.Errorf("invalid command: '%s'. try: help", word)
	}
}

func (c *client) doConfigure(payload []byte) doFunc {
	return func(ctx context.Context) error {
		if err := c.sess.Configure(ctx, payload, c.driver.ConfigureTimeout()); err != nil {
			return err
		}
		c.log.Infof("config delivered driver=%s bytes=%d", c.driver.Name, len(payload))
		return nil
	}
}

func (c *client) startKeepAlive(ctx context.Context) error {
	if c.kaDone != nil {
		return errors.Errorf("keepalive already running")
	}
	kctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.kaCancel, c.kaDone = cancel, done
	delay, timeout := c.driver.PingDelay(), c.driver.PingTimeout()
	sess := c.sess
	go func() {
		defer close(done)
		err := sess.KeepAlive(kctx, delay, timeout)
		if err != nil && errors.Cause(err) != context.Canceled {
			c.log.Errorf("keepalive ended: %s", errors.ErrorStack(err))
		}
	}()
	c.log.Infof("keepalive started delay=%s timeout=%s", delay, timeout)
	return nil
}

func (c *client) stopKeepAlive() error {
	if c.kaDone == nil {
		return errors.Errorf("keepalive is not running")
	}
	c.kaCancel()
	<-c.kaDone
	c.kaCancel, c.kaDone = nil, nil
	c.log.Infof("keepalive stopped")
	return nil
}

func (c *client) pull(ctx context.Context, kind string, n uint64) error {
	if kind == "status" {
		stream, err := c.sess.StatusStream(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()
		for i := uint64(0); i < n; i++ {
			st, err := stream.Next()
			switch {
			case err == io.EOF:
				return nil
			case errors.IsNotValid(err):
				c.log.Errorf("status decode e=%v", err)
			case err != nil:
				return err
			default:
				c.log.Infof("status %s", st.String())
			}
		}
		return nil
	}

	var stream *hub.Stream
	var err error
	if kind == "frame" {
		stream, err = c.sess.FrameStream(ctx)
	} else {
		stream, err = c.sess.DataStream(ctx)
	}
	if err != nil {
		return err
	}
	defer stream.Close()
	for i := uint64(0); i < n; i++ {
		payload, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if kind == "frame" {
			c.log.Infof("frame bytes=%d", len(payload))
		} else {
			c.log.Infof("data %x", payload)
		}
	}
	return nil
}

func (c *client) use(name string) error {
	var found *hub_config.DriverConfig
	for i := range c.config.Drivers {
		d := &c.config.Drivers[i]
		if d.Name == name && !d.Disabled {
			found = d
			break
		}
	}
	if found == nil {
		return errors.NotFoundf("driver=%s in config", name)
	}
	base, err := found.Base()
	if err != nil {
		return err
	}
	if err = c.closeSession(); err != nil {
		c.log.Errorf("close previous session e=%v", err)
	}
	sess, err := hub.NewSession(c.config.Hub.Address, base, hub.SessionOptions{
		Log:             c.log,
		Linger:          c.config.Linger(),
		LegacyKeepAlive: c.config.Hub.LegacyKeepalive,
	})
	if err != nil {
		return err
	}
	c.driver, c.sess = *found, sess
	c.log.Infof("using driver=%s base=%d", found.Name, base)
	return nil
}

func (c *client) closeSession() error {
	if c.kaDone != nil {
		_ = c.stopKeepAlive()
	}
	if c.sess == nil {
		return nil
	}
	err := c.sess.Close()
	c.sess = nil
	return err
}
