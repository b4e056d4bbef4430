// Package mqttpub publishes transcriptions to an MQTT broker so other
// home-automation services can react to what was said. Publishing is
// fire-and-forget: broker trouble is logged and never blocks the
// interaction.
package mqttpub

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hammamikhairi/voicegate/internal/logger"
)

const connectTimeout = 5 * time.Second

// Publisher wraps a paho client. A nil Publisher is valid and inert,
// so callers don't need to branch on whether MQTT is configured.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    *logger.Logger
}

// New connects to the broker. A connection failure is reported but
// yields a working (inert) publisher — MQTT is optional.
func New(brokerURL, topic string, log *logger.Logger) *Publisher {
	if brokerURL == "" {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("voicegate").
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		log.Warn("broker %s not reachable: %v", brokerURL, token.Error())
		return &Publisher{topic: topic, log: log}
	}

	log.Info("connected to %s (topic=%s)", brokerURL, topic)
	return &Publisher{client: client, topic: topic, log: log}
}

// PublishTranscription sends the text. Failures are logged and
// swallowed.
func (p *Publisher) PublishTranscription(text string) {
	if p == nil || p.client == nil || text == "" {
		return
	}
	token := p.client.Publish(p.topic, 0, false, text)
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			p.log.Warn("publish failed: %v", token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
