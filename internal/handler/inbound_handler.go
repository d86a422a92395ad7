// internal/handler/inbound_handler.go
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/unclebandit/mailflow-backend/internal/dedup"
	"github.com/unclebandit/mailflow-backend/internal/metrics"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/queue"
)

// InboundHandler accepts reply webhooks and hands them to the worker
// through the queue. Signature verification happens upstream.
type InboundHandler struct {
	Queue    queue.Queue
	Guard    dedup.Guard
	Validate *validator.Validate
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewInboundHandler(q queue.Queue, guard dedup.Guard, logger *slog.Logger) *InboundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundHandler{
		Queue:    q,
		Guard:    guard,
		Validate: validator.New(),
		Logger:   logger,
		Now:      time.Now,
	}
}

func (h *InboundHandler) ReceiveReply(w http.ResponseWriter, r *http.Request) {
	var msg model.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	msg.FromAddress = strings.TrimSpace(msg.FromAddress)
	if err := h.Validate.Struct(msg); err != nil {
		http.Error(w, "from_address must be a valid email", http.StatusBadRequest)
		return
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = h.Now().UTC()
	}

	key := deliveryKey(msg)
	if h.Guard != nil && key != "" {
		first, err := h.Guard.FirstSeen(r.Context(), key)
		if err != nil {
			h.Logger.Warn("dedup guard unavailable, accepting delivery", "error", err)
		} else if !first {
			metrics.DuplicateWebhooks.Inc()
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	if err := h.Queue.Publish(r.Context(), queue.TopicInboundReplies, msg); err != nil {
		h.Logger.Error("failed to enqueue reply", "from", msg.FromAddress, "error", err)
		if h.Guard != nil && key != "" {
			if err := h.Guard.Forget(r.Context(), key); err != nil {
				h.Logger.Warn("failed to release dedup key", "key", key, "error", err)
			}
		}
		http.Error(w, "failed to enqueue reply", http.StatusServiceUnavailable)
		return
	}

	h.Logger.Info("reply accepted", "from", msg.FromAddress, "message_id", msg.MessageID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// deliveryKey identifies a provider delivery. Replies without a provider
// message id skip the guard; the matcher still rejects duplicates.
func deliveryKey(msg model.InboundMessage) string {
	id := msg.MessageID
	if id == "" && msg.Headers != nil {
		id = msg.Headers["Message-ID"]
	}
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
