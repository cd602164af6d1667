// Config file for the hublink commands. Separate package so importers
// of hub are not forced to carry the hcl reader.
package hub_config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/hublink/helpers"
	"github.com/temoto/hublink/hub"
	"github.com/temoto/hublink/log2"
)

const (
	DefaultUpdateDelay      = 1 * time.Second
	DefaultDriverTimeout    = 10 * time.Second
	DefaultPingDelay        = 5 * time.Second
	DefaultPingTimeout      = 10 * time.Second
	DefaultConfigureTimeout = 5 * time.Second
	DefaultLinger           = 2 * time.Second
	DefaultMqttKeepalive    = 60 * time.Second
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Hub struct { //nolint:maligned
		Address         string `hcl:"address"`
		LingerSec       int    `hcl:"linger_sec"`
		RestartMinSec   int    `hcl:"restart_min_sec"`
		RestartMaxSec   int    `hcl:"restart_max_sec"`
		LegacyKeepalive bool   `hcl:"legacy_keepalive"`
	} `hcl:"hub"`

	Drivers []DriverConfig `hcl:"driver"`

	MQTT struct { //nolint:maligned
		Enabled      bool   `hcl:"enable"`
		Broker       string `hcl:"broker"`
		ClientID     string `hcl:"client_id"`
		Username     string `hcl:"username"`
		Password     string `hcl:"password"` // secret
		TopicPrefix  string `hcl:"topic_prefix"`
		QOS          int    `hcl:"qos"`
		KeepaliveSec int    `hcl:"keepalive_sec"`
		LogDebug     bool   `hcl:"log_debug"`
	} `hcl:"mqtt"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type DriverConfig struct { //nolint:maligned
	Name     string `hcl:"name,key"`
	Disabled bool   `hcl:"disable"`

	// BasePort overrides the well-known port of Name.
	BasePort int `hcl:"base_port"`

	// UpdateDelaySec and DriverTimeoutSec go to the driver in its
	// configuration: publish interval and how long to keep running
	// after the last ping.
	UpdateDelaySec   float64 `hcl:"update_delay_sec"`
	DriverTimeoutSec float64 `hcl:"driver_timeout_sec"`

	PingDelaySec        float64 `hcl:"ping_delay_sec"`
	PingTimeoutSec      float64 `hcl:"ping_timeout_sec"`
	ConfigureTimeoutSec float64 `hcl:"configure_timeout_sec"`

	Frames bool `hcl:"frames"`
}

func (c *Config) Linger() time.Duration {
	return helpers.IntSecondDefault(c.Hub.LingerSec, DefaultLinger)
}

// RestartMin and RestartMax return zero when not set, callers fall
// back to their own defaults.
func (c *Config) RestartMin() time.Duration {
	return time.Duration(c.Hub.RestartMinSec) * time.Second
}

func (c *Config) RestartMax() time.Duration {
	return time.Duration(c.Hub.RestartMaxSec) * time.Second
}

func (c *Config) MqttClientID() string {
	if c.MQTT.ClientID == "" {
		return "hublink"
	}
	return c.MQTT.ClientID
}

func (c *Config) MqttTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return c.MqttClientID()
	}
	return c.MQTT.TopicPrefix
}

func (c *Config) MqttKeepalive() time.Duration {
	return helpers.IntSecondDefault(c.MQTT.KeepaliveSec, DefaultMqttKeepalive)
}

func (d *DriverConfig) Base() (uint16, error) {
	if d.BasePort != 0 {
		if d.BasePort < 0 || d.BasePort > 0xffff {
			return 0, errors.NotValidf("driver=%s base_port=%d", d.Name, d.BasePort)
		}
		return uint16(d.BasePort), nil
	}
	if base, ok := hub.BaseByName(d.Name); ok {
		return base, nil
	}
	return 0, errors.NotValidf("driver=%s is not well-known, set base_port", d.Name)
}

func (d *DriverConfig) UpdateDelay() time.Duration {
	return helpers.FloatSecondDefault(d.UpdateDelaySec, DefaultUpdateDelay)
}
func (d *DriverConfig) DriverTimeout() time.Duration {
	return helpers.FloatSecondDefault(d.DriverTimeoutSec, DefaultDriverTimeout)
}
func (d *DriverConfig) PingDelay() time.Duration {
	return helpers.FloatSecondDefault(d.PingDelaySec, DefaultPingDelay)
}
func (d *DriverConfig) PingTimeout() time.Duration {
	return helpers.FloatSecondDefault(d.PingTimeoutSec, DefaultPingTimeout)
}
func (d *DriverConfig) ConfigureTimeout() time.Duration {
	return helpers.FloatSecondDefault(d.ConfigureTimeoutSec, DefaultConfigureTimeout)
}

// Enabled filters out disabled driver blocks.
func (c *Config) Enabled() []DriverConfig {
	ds := make([]DriverConfig, 0, len(c.Drivers))
	for _, d := range c.Drivers {
		if !d.Disabled {
			ds = append(ds, d)
		}
	}
	return ds
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	if c.Hub.Address == "" {
		errs = append(errs, errors.NotValidf("hub address empty"))
	}
	if c.Hub.RestartMaxSec != 0 && c.Hub.RestartMaxSec < c.Hub.RestartMinSec {
		errs = append(errs, errors.NotValidf("hub restart_max_sec=%d < restart_min_sec=%d", c.Hub.RestartMaxSec, c.Hub.RestartMinSec))
	}
	seen := make(map[string]struct{}, len(c.Drivers))
	for i := range c.Drivers {
		d := &c.Drivers[i]
		if d.Name == "" {
			errs = append(errs, errors.NotValidf("driver without name"))
			continue
		}
		if _, ok := seen[d.Name]; ok {
			errs = append(errs, errors.NotValidf("driver=%s duplicate", d.Name))
		}
		seen[d.Name] = struct{}{}
		if _, err := d.Base(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.NotValidf("mqtt enabled with empty broker"))
		}
		if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
			errs = append(errs, errors.NotValidf("mqtt qos=%d", c.MQTT.QOS))
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func MustReadConfigFile(log *log2.Log, path string) *Config {
	return MustReadConfig(log, NewOsFullReader(""), path)
}
