package notifier

import (
	"encoding/json"
	"fmt"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"log/slog"
	"time"
)

// MQTTNotifier publishes every Event as JSON on Topic, e.g. for a home automation hub.
type MQTTNotifier struct {
	Logger  *slog.Logger
	Client  Publisher
	Topic   string
	Timeout time.Duration
}

// Publisher is implemented by mqtt.Client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

var _ Notifier = &MQTTNotifier{}

func (m *MQTTNotifier) Notify(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.Logger.Error("failed to encode event", "err", err)
		return
	}
	timeout := m.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	token := m.Client.Publish(m.Topic, 1, false, payload)
	if !token.WaitTimeout(timeout) {
		m.Logger.Error("failed to publish event", "err", "timeout", "topic", m.Topic)
		return
	}
	if err = token.Error(); err != nil {
		m.Logger.Error("failed to publish event", "err", err, "topic", m.Topic)
	}
}

// NewMQTTClient connects to the MQTT broker at brokerAddr (e.g. tcp://localhost:1883).
func NewMQTTClient(brokerAddr, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerAddr).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return c, nil
}
