// Package altmqtt publishes filter estimates to an MQTT broker.
package altmqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/westphae/altfusion/altkal"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("altmqtt: timed out waiting for broker")

// Config selects the broker and topics.
type Config struct {
	Broker    string        `yaml:"broker"` // e.g. tcp://127.0.0.1:1883
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username,omitempty"`
	Password  string        `yaml:"password,omitempty"`
	Topic     string        `yaml:"topic"`
	QoS       byte          `yaml:"qos"`
	Retained  bool          `yaml:"retained"`
	Timeout   time.Duration `yaml:"timeout"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// DefaultConfig publishes at QoS 0 to altfusion/estimate on a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:    "tcp://127.0.0.1:1883",
		ClientID:  "altfusion",
		Topic:     "altfusion/estimate",
		Timeout:   time.Second,
		KeepAlive: 30 * time.Second,
	}
}

// SummaryTopic is where the run summary goes.
func (c Config) SummaryTopic() string {
	return c.Topic + "/summary"
}

// Client is the part of paho.Client a Publisher uses.
type Client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// ClientOptions translates cfg into paho client options.
func ClientOptions(cfg Config) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetProtocolVersion(4)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// Publisher sends every estimate it is given as a JSON message.
type Publisher struct {
	client Client
	cfg    Config
	log    *slog.Logger
	sent   int
}

// Dial connects to the broker of cfg.
func Dial(cfg Config, logger *slog.Logger) (*Publisher, error) {
	return Connect(paho.NewClient(ClientOptions(cfg)), cfg, logger)
}

// Connect connects c and returns a Publisher using it.
func Connect(c Client, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, errors.New("altmqtt: no topic")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{client: c, cfg: cfg, log: logger}
	if err := p.wait(c.Connect()); err != nil {
		return nil, fmt.Errorf("altmqtt: connecting to %s: %w", cfg.Broker, err)
	}
	logger.Info("AltMQTT: connected", "broker", cfg.Broker, "topic", cfg.Topic)
	return p, nil
}

func (p *Publisher) wait(t paho.Token) error {
	if p.cfg.Timeout > 0 {
		if !t.WaitTimeout(p.cfg.Timeout) {
			return ErrTimeout
		}
	} else {
		t.Wait()
	}
	return t.Error()
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.wait(p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, payload))
}

// Write publishes est to the estimate topic.
func (p *Publisher) Write(est altkal.Estimate) error {
	if err := p.publish(p.cfg.Topic, est.Finite()); err != nil {
		return fmt.Errorf("altmqtt: publishing step %d: %w", est.Step, err)
	}
	p.sent++
	return nil
}

// Summary is the message published at the end of a run.
type Summary struct {
	Total      int                      `json:"total"`
	OutOfOrder int                      `json:"outOfOrder"`
	Unknown    int                      `json:"unknown"`
	Dropped    int                      `json:"dropped"`
	SkipRatio  float64                  `json:"skipRatio"`
	Published  int                      `json:"published"`
	Residuals  []altkal.InnovationStats `json:"residuals,omitempty"`
}

// PublishSummary publishes the anomaly counters and residual statistics of a
// run to the summary topic.
func (p *Publisher) PublishSummary(a altkal.Anomalies, stats []altkal.InnovationStats) error {
	return p.publish(p.cfg.SummaryTopic(), Summary{
		Total:      a.Total,
		OutOfOrder: a.OutOfOrder,
		Unknown:    a.Unknown,
		Dropped:    a.Dropped,
		SkipRatio:  a.SkipRatio(),
		Published:  p.sent,
		Residuals:  stats,
	})
}

// Sent returns the number of estimates published.
func (p *Publisher) Sent() int {
	return p.sent
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	p.log.Debug("AltMQTT: disconnected", "broker", p.cfg.Broker, "sent", p.sent)
	return nil
}
