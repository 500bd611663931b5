package telemetry

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/util"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic string
	qos   byte
	body  map[string]interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &body)
	f.mu.Lock()
	f.messages = append(f.messages, published{topic: topic, qos: qos, body: body})
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func newTestHandler(connected bool) (*MQTTHandler, *fakePublisher, *events.EventBus) {
	bus := events.NewEventBus()
	h := newHandler(bus, "flexlink/", "Shack 1", util.SystemInfo{Hostname: "host"})
	pub := &fakePublisher{connected: connected}
	h.pub = pub
	h.subscribeEvents()
	return h, pub, bus
}

func TestMQTTPublishesConnectionState(t *testing.T) {
	_, pub, bus := newTestHandler(true)
	defer bus.Stop()

	bus.Emit(context.Background(), events.Event{
		Type: events.EventConnectionState,
		Payload: events.ConnectionStatePayload{
			SessionID: "abc",
			State:     events.StateDisconnected,
			Reason:    events.ReasonTimeout,
			Host:      "192.168.1.50",
			Port:      4992,
		},
	})
	bus.Flush()

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "flexlink/Shack_1/connection", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.Equal(t, "Shack 1", msgs[0].body["station"])

	payload := msgs[0].body["payload"].(map[string]interface{})
	assert.Equal(t, "disconnected", payload["state"])
	assert.Equal(t, "timeout", payload["reason"])
	assert.Equal(t, float64(4992), payload["port"])
}

func TestMQTTPublishesMessagesAndObjects(t *testing.T) {
	_, pub, bus := newTestHandler(true)
	defer bus.Stop()
	ctx := context.Background()

	bus.Emit(ctx, events.Event{
		Type:    events.EventRadioMessage,
		Payload: events.RadioMessagePayload{Code: 0x10000001, Severity: "warning", Text: "hot", ReceivedAt: time.Now()},
	})
	bus.Emit(ctx, events.Event{
		Type:    events.EventReplyError,
		Payload: events.ReplyErrorPayload{Sequence: 7, Command: "slice tune 0 14.1", Code: "50000015"},
	})
	bus.EmitSync(ctx, events.Event{
		Type:    events.EventObjectRemoving,
		Payload: events.ObjectPayload{Kind: events.KindSlice, ID: "0"},
	})
	bus.Flush()

	topics := map[string]map[string]interface{}{}
	for _, m := range pub.all() {
		topics[m.topic] = m.body["payload"].(map[string]interface{})
	}
	require.Len(t, topics, 3)
	assert.Equal(t, "0x10000001", topics["flexlink/Shack_1/message"]["code"])
	assert.Equal(t, "slice tune 0 14.1", topics["flexlink/Shack_1/reply_error"]["command"])
	assert.Equal(t, "slice", topics["flexlink/Shack_1/object/removed"]["kind"])
}

func TestMQTTSkipsWhileDisconnected(t *testing.T) {
	h, pub, bus := newTestHandler(false)
	defer bus.Stop()

	bus.Emit(context.Background(), events.Event{
		Type:    events.EventHeartbeat,
		Payload: events.HeartbeatPayload{SessionID: "abc"},
	})
	bus.Flush()
	h.PublishShutdown()

	assert.Empty(t, pub.all())
}

func TestMQTTUnsubscribe(t *testing.T) {
	h, _, bus := newTestHandler(true)
	defer bus.Stop()

	assert.Equal(t, 1, bus.HandlerCount(events.EventHeartbeat))
	h.unsubscribeEvents()
	for _, et := range mqttSubscriptions {
		assert.Zero(t, bus.HandlerCount(et))
	}
}

func TestMetricsRecorder(t *testing.T) {
	m := NewMetrics("")

	m.RecordLine("S")
	m.RecordLine("S")
	m.RecordReply("error")
	m.RecordLoss("audio_stream")
	m.SetObjects("slice", 2)
	m.SetConnectionState(int(events.StateActive))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.linesTotal.WithLabelValues("S")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.repliesTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lostTotal.WithLabelValues("audio_stream")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.objects.WithLabelValues("slice")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.connectionState))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `flexlink_protocol_lines_total{kind="S"} 2`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
