// Package telemetry exports bot activity: MQTT messages for remote
// observers and Prometheus metrics for scraping.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/util"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "mori"

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// Topic suffixes under <prefix>/.
const (
	topicManager = "manager"
	topicBots    = "bots"
)

// published lists the events forwarded to the broker. Position and log
// events are too chatty for MQTT and are left to the websocket stream.
var published = map[events.EventType]string{
	events.EventConnected:     "connection",
	events.EventDisconnected:  "connection",
	events.EventRedirect:      "connection",
	events.EventPhaseChanged:  "status",
	events.EventWorldEntered:  "world",
	events.EventPlayerJoin:    "players",
	events.EventPlayerLeave:   "players",
	events.EventChat:          "chat",
	events.EventConsole:       "console",
	events.EventDialog:        "dialog",
	events.EventItemsRefresh:  "items",
	events.EventBotCreated:    "lifecycle",
	events.EventBotRemoved:    "lifecycle",
	events.EventHeartbeat:     "heartbeat",
	events.EventHealthWarning: "health",
}

// managerScoped events are published under manager/ regardless of source.
var managerScoped = map[events.EventType]bool{
	events.EventBotCreated: true,
	events.EventBotRemoved: true,
	events.EventHeartbeat:  true,
}

// MQTTHandler manages the MQTT connection and publishes bot events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string

	// send delivers one message; it wraps the client outside tests.
	send func(topic string, retained bool, data []byte)

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	h := newHandler(mqttCfg, eventBus)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	clientID := mqttCfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("mori-%v", h.metadata["hostname"])
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	// Observers see the manager as offline if the process dies.
	opts.SetWill(h.topic(topicManager, "status"), `{"payload":{"online":false}}`, 1, true)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		h.publish(h.topic(topicManager, "status"), true, map[string]interface{}{"online": true})
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.send = h.clientSend
	return h, nil
}

func newHandler(cfg config.MQTTConfig, bus *events.EventBus) *MQTTHandler {
	sysInfo := util.GetSystemInfo()
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: bus,
		prefix:   prefix,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}
}

// Start connects to the broker and forwards events until ctx ends.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.SubscribeAll("mqtt.publish", h.onEvent)
	defer h.eventBus.Unsubscribe("", "mqtt.publish")

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) topic(parts ...string) string {
	t := h.prefix
	for _, p := range parts {
		t += "/" + p
	}
	return t
}

// topicFor returns the topic an event is published on, if any. Bot events
// go under bots/<id>/; manager events and host health warnings under
// manager/.
func (h *MQTTHandler) topicFor(ev events.Event) (string, bool) {
	suffix, ok := published[ev.Type]
	if !ok {
		return "", false
	}
	if managerScoped[ev.Type] || (ev.Source == "" && ev.Type == events.EventHealthWarning) {
		return h.topic(topicManager, suffix), true
	}
	if ev.Source == "" {
		return "", false
	}
	return h.topic(topicBots, ev.Source, suffix), true
}

func (h *MQTTHandler) onEvent(_ context.Context, ev events.Event) error {
	topic, ok := h.topicFor(ev)
	if !ok {
		return nil
	}
	// The latest status is retained so new subscribers see it at once.
	retained := ev.Type == events.EventPhaseChanged
	h.publish(topic, retained, map[string]interface{}{
		"event":   string(ev.Type),
		"bot":     ev.Source,
		"payload": ev.Payload,
	})
	return nil
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, retained bool, payload interface{}) {
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	h.send(topic, retained, data)
}

func (h *MQTTHandler) clientSend(topic string, retained bool, data []byte) {
	if !h.client.IsConnected() {
		return
	}
	token := h.client.Publish(topic, 1, retained, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that the manager is going offline.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(topicManager, "status"), true, map[string]interface{}{"online": false})
}
