package ingestion

import (
	"encoding/json"
	"log/slog"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mr1hm/go-rockfall-alerts/internal/config"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttRetryInterval  = 5 * time.Second
	mqttQuiesceMillis  = 250
)

type EstimateSubmitter interface {
	Submit(est models.RiskEstimate) error
}

// MQTTSubscriber feeds risk estimates published by field gateways into ingestion.
type MQTTSubscriber struct {
	cfg       config.MQTTConfig
	submitter EstimateSubmitter
	client    mqtt.Client
}

func NewMQTTSubscriber(cfg config.MQTTConfig, submitter EstimateSubmitter) *MQTTSubscriber {
	return &MQTTSubscriber{cfg: cfg, submitter: submitter}
}

func (s *MQTTSubscriber) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttRetryInterval).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt connection lost", "broker", s.cfg.Broker, "error", err)
		})

	s.client = mqtt.NewClient(opts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		// the client keeps retrying in the background
		slog.Warn("mqtt broker not reachable yet", "broker", s.cfg.Broker)
		return nil
	}
	return tok.Error()
}

// subscribe runs on every (re)connect since the session is clean.
func (s *MQTTSubscriber) subscribe(c mqtt.Client) {
	tok := c.Subscribe(s.cfg.Topic, mqttQoS, s.handleMessage)
	if tok.WaitTimeout(mqttConnectTimeout) && tok.Error() != nil {
		slog.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", tok.Error())
		return
	}
	slog.Info("mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
}

func (s *MQTTSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var est models.RiskEstimate
	if err := json.Unmarshal(msg.Payload(), &est); err != nil {
		slog.Warn("dropping malformed estimate", "topic", msg.Topic(), "error", err)
		return
	}
	// rockfall/estimates/<source> carries the source in the topic
	if est.Source == "" {
		est.Source = models.EstimateSource(path.Base(msg.Topic()))
	}

	if err := s.submitter.Submit(est); err != nil {
		slog.Warn("estimate rejected", "topic", msg.Topic(), "location", est.Location, "error", err)
	}
}

func (s *MQTTSubscriber) Stop() {
	if s.client != nil {
		s.client.Disconnect(mqttQuiesceMillis)
	}
}
