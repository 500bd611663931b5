// Package telemetry publishes radio session events to an MQTT broker and
// exports session counters to Prometheus.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/util"
)

// Topic suffixes below <prefix>/<station>.
const (
	TopicStatus     = "status"
	TopicConnection = "connection"
	TopicHeartbeat  = "heartbeat"
	TopicMessage    = "message"
	TopicReplyError = "reply_error"
	TopicObject     = "object"
	TopicAdmin      = "admin"
)

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler publishes session lifecycle events as JSON, QoS 1.
type MQTTHandler struct {
	mu sync.Mutex

	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher
	broker   string
	prefix   string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for the broker in cfg. It does not connect.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplication().MQTT
	radioCfg := cfg.GetRadio()

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(eventBus, mqttCfg.TopicPrefix, radioCfg.Station, sysInfo)

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	handler.broker = fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(handler.broker)

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("flexlink-%s-%s", sysInfo.Hostname, uuid.NewString()[:8]))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)
	opts.SetWill(handler.topic(TopicStatus), "offline", 1, true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", handler.broker).Msg("MQTT connected")
		client.Publish(handler.topic(TopicStatus), 1, true, "online")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client

	return handler, nil
}

func newHandler(bus *events.EventBus, prefix, station string, sysInfo util.SystemInfo) *MQTTHandler {
	if prefix == "" {
		prefix = "flexlink"
	}
	if station == "" {
		station = sysInfo.Hostname
	}
	return &MQTTHandler{
		eventBus: bus,
		prefix:   strings.Trim(prefix, "/") + "/" + topicSafe(station),
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
			"station":   station,
		},
	}
}

func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// topicSafe replaces characters MQTT reserves in topic levels.
func topicSafe(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(s)
}

func (h *MQTTHandler) topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().Str("broker", h.broker).Str("topic", h.prefix).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Publish(h.topic(TopicStatus), 1, true, "offline").WaitTimeout(2 * time.Second)
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

var mqttSubscriptions = []events.EventType{
	events.EventConnectionState,
	events.EventHeartbeat,
	events.EventRadioMessage,
	events.EventReplyError,
	events.EventObjectAdded,
	events.EventObjectRemoving,
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventConnectionState, "mqtt.connectionState", h.onConnectionState)
	h.eventBus.Subscribe(events.EventHeartbeat, "mqtt.heartbeat", h.onHeartbeat)
	h.eventBus.Subscribe(events.EventRadioMessage, "mqtt.radioMessage", h.onRadioMessage)
	h.eventBus.Subscribe(events.EventReplyError, "mqtt.replyError", h.onReplyError)
	h.eventBus.Subscribe(events.EventObjectAdded, "mqtt.objectAdded", h.onObjectAdded)
	h.eventBus.Subscribe(events.EventObjectRemoving, "mqtt.objectRemoving", h.onObjectRemoving)
}

func (h *MQTTHandler) unsubscribeEvents() {
	names := []string{
		"mqtt.connectionState", "mqtt.heartbeat", "mqtt.radioMessage",
		"mqtt.replyError", "mqtt.objectAdded", "mqtt.objectRemoving",
	}
	for i, t := range mqttSubscriptions {
		h.eventBus.Unsubscribe(t, names[i])
	}
}

// publish sends a JSON message to a topic below the station prefix.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pub == nil || !h.pub.IsConnected() {
		return
	}

	topic := h.topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data)
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

func (h *MQTTHandler) onConnectionState(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ConnectionStatePayload)
	if !ok {
		return nil
	}
	h.publish(TopicConnection, map[string]interface{}{
		"session_id": p.SessionID,
		"state":      p.State,
		"reason":     p.Reason,
		"host":       p.Host,
		"port":       p.Port,
		"udp_port":   p.UDPPort,
	})
	return nil
}

func (h *MQTTHandler) onHeartbeat(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.HeartbeatPayload)
	if !ok {
		return nil
	}
	h.publish(TopicHeartbeat, map[string]interface{}{
		"session_id":     p.SessionID,
		"state":          p.State,
		"handle":         p.Handle,
		"objects":        p.Objects,
		"outstanding":    p.Outstanding,
		"cpu_percent":    p.CPUPercent,
		"memory_percent": p.MemoryPercent,
	})
	return nil
}

func (h *MQTTHandler) onRadioMessage(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.RadioMessagePayload)
	if !ok {
		return nil
	}
	h.publish(TopicMessage, map[string]interface{}{
		"code":        fmt.Sprintf("0x%08X", p.Code),
		"severity":    p.Severity,
		"text":        p.Text,
		"received_at": p.ReceivedAt.UTC().Format(time.RFC3339),
	})
	return nil
}

func (h *MQTTHandler) onReplyError(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ReplyErrorPayload)
	if !ok {
		return nil
	}
	h.publish(TopicReplyError, map[string]interface{}{
		"sequence": p.Sequence,
		"command":  p.Command,
		"code":     p.Code,
		"body":     p.Body,
	})
	return nil
}

func (h *MQTTHandler) onObjectAdded(ctx context.Context, event events.Event) error {
	return h.publishObject(event, "added")
}

func (h *MQTTHandler) onObjectRemoving(ctx context.Context, event events.Event) error {
	return h.publishObject(event, "removed")
}

func (h *MQTTHandler) publishObject(event events.Event, action string) error {
	p, ok := event.Payload.(events.ObjectPayload)
	if !ok {
		return nil
	}
	h.publish(TopicObject+"/"+action, map[string]interface{}{
		"kind": p.Kind,
		"id":   p.ID,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
