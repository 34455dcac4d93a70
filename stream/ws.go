package stream

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Handler exposes the broker over WebSocket. Clients subscribe by
// passing a comma-separated "topics" query parameter and receive each
// event as one JSON text frame. Clients replenish flow-control credits
// and adjust subscriptions with small JSON control frames:
//
//	{"credits": 500}
//	{"subscribe": ["name:send-email"]}
//	{"unsubscribe": ["firehose"]}
type Handler struct {
	broker *Broker
	logger *slog.Logger

	nextID atomic.Int64
}

// NewHandler creates a WebSocket handler over the given broker.
func NewHandler(broker *Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broker: broker, logger: logger}
}

// controlFrame is a client → server message.
type controlFrame struct {
	Credits     int64    `json:"credits,omitempty"`
	Subscribe   []string `json:"subscribe,omitempty"`
	Unsubscribe []string `json:"unsubscribe,omitempty"`
}

// ServeHTTP upgrades the request and streams events until either side
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := splitTopics(r.URL.Query().Get("topics"))
	if len(topics) == 0 {
		topics = []string{TopicFirehose}
	}
	for _, t := range topics {
		if err := ValidateTopic(t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	subID := "ws-" + strconv.FormatInt(h.nextID.Add(1), 10)
	sub := h.broker.Subscribe(subID, topics...)

	go h.writeLoop(conn, sub)
	go h.readLoop(conn, subID)
}

// writeLoop pushes events until the subscriber closes.
func (h *Handler) writeLoop(conn net.Conn, sub *Subscriber) {
	defer conn.Close() //nolint:errcheck // teardown

	for evt := range sub.C() {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := wsutil.WriteServerText(conn, data); err != nil {
			h.broker.RemoveSubscriber(sub.ID())
			return
		}
	}
}

// readLoop consumes control frames until the peer disconnects, then
// tears the subscription down (which also ends the write loop).
func (h *Handler) readLoop(conn net.Conn, subID string) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			h.broker.RemoveSubscriber(subID)
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		if frame.Credits > 0 {
			if sub, ok := h.broker.GetSubscriber(subID); ok {
				sub.AddCredits(frame.Credits)
			}
		}
		for _, t := range frame.Subscribe {
			if ValidateTopic(t) == nil {
				h.broker.SubscribeTo(subID, t)
			}
		}
		for _, t := range frame.Unsubscribe {
			h.broker.Unsubscribe(subID, t)
		}
	}
}

func splitTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
