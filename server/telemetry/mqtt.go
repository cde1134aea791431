// Package telemetry publishes cycle records to an MQTT broker, for greenhouse
// dashboards and automation that subscribe rather than poll.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/sproutcast/sproutcast/server/pipeline"
)

type Options struct {
	Broker      string `json:"broker"`      // host:port of the MQTT broker
	ClientID    string `json:"clientId"`    //
	TopicPrefix string `json:"topicPrefix"` // eg "sproutcast/greenhouse/bed1/cam0"
	QoS         byte   `json:"qos"`         //
}

// Emitter publishes each cycle to {prefix}/telemetry, and each plant instance
// to {prefix}/plants/{index}/telemetry. Publish failures are counted and logged, never
// fatal: the pipeline must keep cycling whether or not the broker is up.
type Emitter struct {
	log    logs.Log
	opts   Options
	client mqtt.Client

	lock      sync.Mutex
	connected bool
	published uint64
	errors    uint64
}

func NewEmitter(logger logs.Log, opts Options) *Emitter {
	return &Emitter{
		log:  logs.NewPrefixLogger(logger, "mqtt"),
		opts: opts,
	}
}

// Connect establishes the broker connection. The client auto-reconnects after
// that, so this is the only place a broker outage surfaces as an error.
func (e *Emitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.opts.Broker))
	opts.SetClientID(e.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		e.lock.Lock()
		e.connected = true
		e.lock.Unlock()
		e.log.Infof("Connected to broker %v", e.opts.Broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.lock.Lock()
		e.connected = false
		e.lock.Unlock()
		e.log.Warnf("Connection lost (%v), waiting for auto-reconnect", err)
	}

	e.client = mqtt.NewClient(opts)
	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection to %v timed out", e.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection to %v failed: %w", e.opts.Broker, err)
	}
	return nil
}

func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Infof("Disconnected")
	}
	e.lock.Lock()
	e.connected = false
	e.lock.Unlock()
}

// PublishCycle sends the full cycle record, then one message per instance.
func (e *Emitter) PublishCycle(rec *pipeline.CycleRecord) error {
	if err := e.publishJSON(e.opts.TopicPrefix+"/telemetry", rec); err != nil {
		return err
	}
	for i := range rec.Current.Instances {
		msg := instanceMessage{
			Index:      i,
			CycleCount: rec.CycleCount,
			Instance:   rec.Current.Instances[i],
		}
		if err := e.publishJSON(instanceTopic(e.opts.TopicPrefix, i), &msg); err != nil {
			return err
		}
	}
	return nil
}

func instanceTopic(prefix string, index int) string {
	return fmt.Sprintf("%v/plants/%v/telemetry", prefix, index)
}

type instanceMessage struct {
	Index      int                 `json:"index"`
	CycleCount int64               `json:"cycleCount"`
	Instance   vegmetrics.Instance `json:"instance"`
}

func (e *Emitter) publishJSON(topic string, msg any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal mqtt payload: %w", err)
	}
	token := e.client.Publish(topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish to %v timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish to %v failed: %w", topic, err)
	}
	e.lock.Lock()
	e.published++
	e.lock.Unlock()
	return nil
}

// Stats is a point-in-time copy of the emitter's counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func (e *Emitter) Stats() Stats {
	e.lock.Lock()
	defer e.lock.Unlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Errors:    e.errors,
	}
}

func (e *Emitter) isConnected() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.lock.Lock()
	e.errors++
	e.lock.Unlock()
}
