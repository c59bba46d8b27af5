package ssespec

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bitechdev/NotifySpec/pkg/logger"
)

// Authenticator supplies the current user's id to the HTTP handlers
type Authenticator interface {
	UserID(r *http.Request) (int64, error)
}

// Handler mounts the SSE delivery engine onto a mux router
type Handler struct {
	mgr       *EventManager
	provider  *NotificationProvider
	auth      Authenticator
	heartbeat time.Duration
}

// NewHandler creates a Handler. heartbeat controls the idle frame period; a
// non-positive value falls back to 10 seconds.
func NewHandler(mgr *EventManager, auth Authenticator, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	return &Handler{
		mgr:       mgr,
		provider:  NewNotificationProvider(mgr),
		auth:      auth,
		heartbeat: heartbeat,
	}
}

// Provider returns the notification provider backing the handler
func (h *Handler) Provider() *NotificationProvider {
	return h.provider
}

// RegisterRoutes mounts every endpoint on the router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sse/{event_type}", h.HandleStream).Methods(http.MethodGet)
	r.HandleFunc("/mark_event_read/{event_id}", h.HandleMarkEventRead).Methods(http.MethodPost)
	r.HandleFunc("/mark_events_read", h.HandleMarkEventsRead).Methods(http.MethodPost)
	r.HandleFunc("/generate_notification", h.HandleGenerateNotification).Methods(http.MethodPost)
	r.HandleFunc("/api/events/unread", h.HandleUnread).Methods(http.MethodGet)
	r.HandleFunc("/api/events/stats", h.HandleStats).Methods(http.MethodGet)
}

// HandleStream opens one SSE stream for the authenticated user
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	eventType := mux.Vars(r)["event_type"]

	mb, err := h.mgr.RegisterUserStream(r.Context(), userID, eventType)
	switch {
	case errors.Is(err, ErrUnknownEventType):
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "Unknown event type"})
		return
	case errors.Is(err, ErrManagerNotRunning):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "Service unavailable"})
		return
	case err != nil:
		http.Error(w, "Max connections reached.", http.StatusTooManyRequests)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.mgr.UnregisterUserStream(userID, mb.ID(), eventType)
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Deregistration must happen exactly once, on every exit path
	defer h.mgr.UnregisterUserStream(userID, mb.ID(), eventType)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, err := mb.Get(ctx, h.heartbeat)
		if err != nil {
			// Client gone or mailbox evicted
			return
		}

		var frame []byte
		if ev == nil {
			frame = HeartbeatFrame()
		} else {
			frame, err = ev.Frame()
			if err != nil {
				logger.Warn("Dropping unframeable event: id=%d, error=%v", ev.ID, err)
				continue
			}
		}

		if _, err := w.Write(frame); err != nil {
			// Broken stream: the deferred deregistration cleans up
			return
		}
		flusher.Flush()
	}
}

// HandleMarkEventRead marks one event read for its owner
func (h *Handler) HandleMarkEventRead(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	eventID, err := strconv.ParseInt(mux.Vars(r)["event_id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid event id"})
		return
	}

	result, err := h.mgr.Store().MarkRead(r.Context(), eventID, userID)
	if err != nil {
		logger.Error("Mark read failed: event=%d, user=%d, error=%v", eventID, userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Internal error"})
		return
	}

	switch result {
	case MarkReadOK:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case MarkReadAlreadyRead:
		writeJSON(w, http.StatusOK, map[string]string{"status": "warning", "message": "Already read"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "Not found or access denied"})
	}
}

// HandleMarkEventsRead marks a batch of events read for their owner
func (h *Handler) HandleMarkEventsRead(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		EventIDs []int64 `json:"event_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.EventIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "event_ids required"})
		return
	}

	count, err := h.provider.DismissItems(r.Context(), userID, body.EventIDs)
	if err != nil {
		logger.Error("Bulk mark read failed: user=%d, error=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("%d events marked as read", count),
	})
}

// HandleGenerateNotification creates a SystemNotification from form fields.
// Intended for demo and admin use.
func (h *Handler) HandleGenerateNotification(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid form"})
		return
	}

	title := r.PostFormValue("title")
	message := r.PostFormValue("message")
	priority := ParsePriority(r.PostFormValue("priority"))

	targetUserID := userID
	if raw := r.PostFormValue("target_userid"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			targetUserID = parsed
		}
	}

	expireAfter := 5 * time.Minute
	if raw := r.PostFormValue("expire_after"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			expireAfter = time.Duration(minutes) * time.Minute
		}
	}

	ev, err := h.provider.SendUserNotification(r.Context(), targetUserID, title, message, priority, expireAfter)
	if err != nil || ev == nil {
		logger.Error("Generate notification failed: user=%d, error=%v", targetUserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Internal error"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":     "success",
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"created_at": ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// HandleUnread lists the authenticated user's unread events as wire dicts
func (h *Handler) HandleUnread(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	events, err := h.provider.FetchUnread(r.Context(), userID)
	if err != nil {
		logger.Error("Fetch unread failed: user=%d, error=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Internal error"})
		return
	}

	dicts := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		dicts = append(dicts, ev.WireDict())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "events": dicts})
}

// HandleStats exposes an engine counter snapshot
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}
