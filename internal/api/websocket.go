package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsQueueSize  = 256
)

// feedTypes are the bus events forwarded to websocket clients by default.
var feedTypes = []events.EventType{
	events.EventConnectionState,
	events.EventStreamActivity,
	events.EventObjectAdded,
	events.EventObjectUpdated,
	events.EventObjectRemoving,
	events.EventRadioUpdated,
	events.EventRadioMessage,
	events.EventReplyError,
	events.EventMeterUpdated,
	events.EventPacketLoss,
	events.EventHeartbeat,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// feedMessage is one event as sent to a websocket client.
type feedMessage struct {
	Type      events.EventType `json:"type"`
	Source    string           `json:"source,omitempty"`
	Payload   interface{}      `json:"payload"`
	Timestamp string           `json:"timestamp"`
}

// handleEvents upgrades to a websocket and streams bus events until the
// client goes away. ?types=a,b narrows the feed; meter updates are only
// sent when asked for.
func (s *Server) handleEvents(c *gin.Context) {
	types := selectFeedTypes(c.Query("types"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := c.ClientIP()
	name := "api.ws." + uuid.NewString()
	queue := make(chan feedMessage, wsQueueSize)
	var dropped sync.Once

	forward := func(ctx context.Context, ev events.Event) error {
		payload := ev.Payload
		if p, ok := payload.(events.ObjectPayload); ok {
			// the live entry is not serialized
			payload = gin.H{"kind": p.Kind, "id": p.ID}
		}
		msg := feedMessage{
			Type:      ev.Type,
			Source:    ev.Source,
			Payload:   payload,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		select {
		case queue <- msg:
		default:
			dropped.Do(func() {
				log.Warn().Str("client", client).Msg("websocket client too slow, dropping events")
			})
		}
		return nil
	}
	for _, t := range types {
		s.eventBus.Subscribe(t, name, forward)
	}
	defer func() {
		for _, t := range types {
			s.eventBus.Unsubscribe(t, name)
		}
	}()

	log.Info().Str("client", client).Int("types", len(types)).Msg("websocket client connected")
	defer log.Info().Str("client", client).Msg("websocket client disconnected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-queue:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// selectFeedTypes parses a comma separated list of event types. Unknown
// names are ignored; an empty list selects every feed type except meter
// updates.
func selectFeedTypes(query string) []events.EventType {
	if query == "" {
		out := make([]events.EventType, 0, len(feedTypes))
		for _, t := range feedTypes {
			if t != events.EventMeterUpdated {
				out = append(out, t)
			}
		}
		return out
	}

	known := make(map[events.EventType]bool, len(feedTypes))
	for _, t := range feedTypes {
		known[t] = true
	}
	var out []events.EventType
	for _, name := range strings.Split(query, ",") {
		t := events.EventType(strings.TrimSpace(name))
		if known[t] {
			out = append(out, t)
		}
	}
	return out
}
