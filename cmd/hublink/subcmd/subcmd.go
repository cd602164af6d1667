// Subcommand registry for the hublink binary.
// It's simple but fine so far.
// Can switch to github.com/urfave/cli later.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	hub_config "github.com/temoto/hublink/hub/config"
)

type Mod struct {
	Name string
	Main func(context.Context, *hub_config.Config) error
}

// Find resolves the first positional argument to a module.
func Find(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, errors.Errorf("want command: %s", Names(modules))
	}
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error empty module name %#v", m))
		}
		if m.Name == command {
			return m, nil
		}
	}
	return nil, errors.Errorf("unknown command=%s want: %s", command, Names(modules))
}

func Names(modules []Mod) string {
	ss := make([]string, 0, len(modules))
	for _, m := range modules {
		ss = append(ss, m.Name)
	}
	return strings.Join(ss, " ")
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
