package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"traffic_forecaster/internal/predictor"
)

// MaxForecastSteps bounds a single forecast:request.
const MaxForecastSteps = 168

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source is what the handler needs from the application.
type Source interface {
	DataLoaded() DataLoadedPayload
	ForecastHorizon(steps int) (runID string, fs []predictor.Forecast, err error)
}

// Handler manages WebSocket connections and answers client requests.
type Handler struct {
	hub    *Hub
	source Source
	logger *slog.Logger
}

func NewHandler(hub *Hub, source Source, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, source: source, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.hub.Register(client)
	go client.writePump()

	h.reply(client, TypeDataLoaded, h.source.DataLoaded())

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.replyError(c, "invalid message")
		return
	}

	switch env.Type {
	case TypeForecastRequest:
		p := ForecastRequestPayload{Steps: 1}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.replyError(c, "invalid forecast:request payload")
				return
			}
		}
		if p.Steps < 1 || p.Steps > MaxForecastSteps {
			h.replyError(c, "steps must be between 1 and 168")
			return
		}
		runID, fs, err := h.source.ForecastHorizon(p.Steps)
		if err != nil {
			h.replyError(c, err.Error())
			return
		}
		h.reply(c, TypeForecastUpdate, ForecastFromPredictions(runID, fs))

	default:
		h.logger.Debug("unknown websocket message type", "type", env.Type)
		h.replyError(c, "unknown message type: "+env.Type)
	}
}

func (h *Handler) reply(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error("marshaling websocket message", "type", msgType, "error", err)
		return
	}
	c.trySend(msg)
}

func (h *Handler) replyError(c *Client, message string) {
	h.reply(c, TypeError, ErrorPayload{Message: message})
}
