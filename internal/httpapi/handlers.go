package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalbridge/internal/event"
	"signalbridge/internal/push"
	"signalbridge/internal/watcher"
	"signalbridge/pkg/logx"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.cfg.Version})
}

// inboundEvent is the canonical ingestion shape. Unknown keys are ignored;
// wrong types are schema violations. id and timestamp are always
// server-assigned.
type inboundEvent struct {
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var in inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid event payload"))
		return
	}
	if strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Source) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("type and source are required"))
		return
	}

	raw := map[string]any{"type": in.Type, "source": in.Source}
	if in.Severity != "" {
		raw["severity"] = in.Severity
	}
	if in.Data != nil {
		raw["data"] = in.Data
	}
	if in.Metadata != nil {
		raw["metadata"] = in.Metadata
	}
	ev := event.Normalize(raw, time.Now())

	res, err := s.bus.Emit(r.Context(), ev)
	if err != nil {
		s.log.Error("event ingestion failed", logx.String("type", ev.Type), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to persist event"))
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "duplicate": true, "eventId": ev.ID})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "duplicate": false, "eventId": ev.ID})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	events, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("recent events query failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("query failed"))
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(events), "events": events})
}

type pushRequest struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data"`
	EventID string         `json:"eventId"`
}

// handlePush lets the agent (running on this host) push the phone after
// judging a signal. Loopback-only; there is no other auth.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		writeJSON(w, http.StatusForbidden, errorBody("local access only"))
		return
	}
	if s.pusher == nil || !s.pusher.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("push token not configured"))
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid push payload"))
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title and body are required"))
		return
	}

	err := s.pusher.Send(r.Context(), push.Notification{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, push.ErrInvalidToken) {
			status = http.StatusServiceUnavailable
		}
		s.log.Error("push request failed", logx.Err(err))
		writeJSON(w, status, errorBody(err.Error()))
		return
	}

	if s.mem != nil && req.EventID != "" {
		if err := s.mem.MarkPushSent(r.Context(), req.EventID); err != nil {
			s.log.Debug("push bookkeeping failed", logx.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": true})
}

func (s *Server) handleMemoryToday(w http.ResponseWriter, r *http.Request) {
	if s.mem == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("memory service not initialized"))
		return
	}
	now := time.Now()
	summary, err := s.mem.TodaySummary(r.Context(), now)
	if err != nil {
		s.log.Error("summary build failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("summary build failed"))
		return
	}
	stats, err := s.mem.TodayStats(r.Context(), now)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("stats query failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": summary, "stats": stats})
}

func (s *Server) handleWatchers(w http.ResponseWriter, r *http.Request) {
	statuses := make([]watcher.Status, 0, len(s.watchers))
	for _, wt := range s.watchers {
		statuses = append(statuses, wt.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "watchers": statuses})
}
