package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"

	"govqueue/internal/ids"
	"govqueue/internal/metrics"
)

const sendBuffer = 16

type Handler struct {
	server *Server
	hub    *Hub
	logger *zap.Logger
}

func NewHandler(server *Server, hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{server: server, hub: hub, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Instrument)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/display", h.handleBoard)
	r.Get("/api/display/stream", h.handleStream)
	r.Handle("/realtime/*", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, h.handleSession))
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.server.Board())
}

// handleStream pushes a board snapshot on connect and after every applied
// change.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := h.server.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	writeEvent(w, h.server.Board())
	flusher.Flush()

	for board := range ch {
		writeEvent(w, board)
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func (h *Handler) handleSession(session sockjs.Session) {
	client := &Client{ID: ids.New(), Send: make(chan []byte, sendBuffer)}
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	board := h.server.Board()
	if payload, err := json.Marshal(Envelope{Type: TopicBoard, Board: &board, CreatedAt: board.GeneratedAt}); err == nil {
		_ = session.Send(string(payload))
	}

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			_ = session.Close(4001, "invalid subscription")
			return
		}
		if parsed.Action == "unsubscribe" {
			h.hub.UpdateSubscription(client, Subscription{Off: true})
			continue
		}
		h.hub.UpdateSubscription(client, Subscription{Topic: parsed.Table})
		h.logger.Debug("client subscribed", zap.String("client_id", client.ID), zap.String("table", parsed.Table))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
