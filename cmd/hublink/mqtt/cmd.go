// Bridge driver streams to an MQTT broker.
// Topics: PREFIX/c connect marker, PREFIX/DRIVER/status decoded text,
// PREFIX/DRIVER/data and PREFIX/DRIVER/frame raw payload.
package mqtt

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/daemon"
	mqtt "github.com/eclipse/paho.mqtt.golang"
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

var Mod = subcmd.Mod{Name: "mqtt", Main: Main}

func Main(ctx context.Context, config *hub_config.Config) error {
	log := log2.ContextValueLogger(ctx, log2.ContextKey)
	if !config.MQTT.Enabled {
		return errors.NotValidf("mqtt is not enabled in config")
	}
	drivers := config.Enabled()
	if len(drivers) == 0 {
		return errors.NotValidf("no enabled drivers in config")
	}

	b := newBridge(log, config)
	if err := b.connect(); err != nil {
		return err
	}
	defer b.close()

	a := alive.NewAlive()
	var firstErr helpers.AtomicError
	for _, d := range drivers {
		d := d
		a.Add(1)
		go func() {
			defer a.Done()
			if err := b.superviseDriver(ctx, d); err != nil && errors.Cause(err) != context.Canceled {
				firstErr.StoreOnce(errors.Annotatef(err, "driver=%s", d.Name))
			}
		}()
	}
	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("bridge running drivers=%d broker=%s prefix=%s", len(drivers), config.MQTT.Broker, b.prefix)
	a.Wait()
	err, _ := firstErr.Load()
	return err
}

type bridge struct {
	log    *log2.Log
	config *hub_config.Config
	m      mqtt.Client
	prefix string
	qos    byte
}

func newBridge(log *log2.Log, config *hub_config.Config) *bridge {
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if config.MQTT.LogDebug {
		mqtt.DEBUG = log
	}

	b := &bridge{
		log:    log,
		config: config,
		prefix: config.MqttTopicPrefix(),
		qos:    byte(config.MQTT.QOS),
	}
	topicConnect := b.prefix + "/c"
	mopt := mqtt.NewClientOptions().
		AddBroker(config.MQTT.Broker).
		SetBinaryWill(topicConnect, []byte{0x00}, b.qos, true).
		SetCleanSession(false).
		SetClientID(config.MqttClientID()).
		SetKeepAlive(config.MqttKeepalive()).
		SetOrderMatters(false).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.log.Infof("mqtt connected")
			c.Publish(topicConnect, b.qos, true, []byte{0x01})
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, e error) {
			b.log.Errorf("mqtt connection lost e=%v", e)
		})
	if config.MQTT.Username != "" {
		mopt = mopt.SetUsername(config.MQTT.Username).SetPassword(config.MQTT.Password)
	}
	b.m = mqtt.NewClient(mopt)
	return b
}

// With retry enabled the token resolves on first success, errors are
// passed to the lost handler, so only option mistakes surface here.
func (b *bridge) connect() error {
	token := b.m.Connect()
	if err := token.Error(); err != nil {
		return errors.Annotate(err, "mqtt connect")
	}
	return nil
}

func (b *bridge) close() { b.m.Disconnect(250) }

// Fire and forget: paho queues while reconnecting, a broker hiccup
// must not take the driver session down with it.
func (b *bridge) publish(topic string, payload []byte) error {
	b.m.Publish(topic, b.qos, false, payload)
	return nil
}

func (b *bridge) superviseDriver(ctx context.Context, d hub_config.DriverConfig) error {
	base, err := d.Base()
	if err != nil {
		return err
	}
	topicStatus := fmt.Sprintf("%s/%s/status", b.prefix, d.Name)
	topicData := fmt.Sprintf("%s/%s/data", b.prefix, d.Name)
	topicFrame := fmt.Sprintf("%s/%s/frame", b.prefix, d.Name)
	cfg := runner.RunConfig{
		Log:              b.log,
		Config:           wire.NewDriverConfig(d.UpdateDelay(), d.DriverTimeout()).Bytes(),
		ConfigureTimeout: d.ConfigureTimeout(),
		PingDelay:        d.PingDelay(),
		PingTimeout:      d.PingTimeout(),
		RestartMin:       b.config.RestartMin(),
		RestartMax:       b.config.RestartMax(),
		Frames:           d.Frames,
		OnStatus: func(st *wire.Status) error {
			return b.publish(topicStatus, []byte(st.String()))
		},
		OnData: func(p []byte) error {
			return b.publish(topicData, p)
		},
	}
	if d.Frames {
		cfg.OnFrame = func(p []byte) error {
			return b.publish(topicFrame, p)
		}
	}
	connect := func() (*hub.Session, error) {
		return hub.NewSession(b.config.Hub.Address, base, hub.SessionOptions{
			Log:             b.log,
			Linger:          b.config.Linger(),
			LegacyKeepAlive: b.config.Hub.LegacyKeepalive,
		})
	}
	return runner.Supervise(ctx, cfg, connect)
}
