package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
)

// healthCheckTimeout bounds the component checks behind /health.
const healthCheckTimeout = 3 * time.Second

// handleHealth runs every registered check. It answers 200 when all pass
// and 503 otherwise, listing each component's result.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.deps.Version,
		"components": components,
	})
}

type linkView struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// handleStatus reports link, session, output and supervisor state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ls := s.deps.Link.Current()
	lv := linkView{Connected: ls.Connected}
	if ls.Address.IsValid() {
		lv.Address = ls.Address.String()
	}

	body := map[string]any{
		"node":    s.deps.Node,
		"version": s.deps.Version,
		"link":    lv,
		"session": s.deps.Session.Snapshot(),
		"output":  s.deps.Output.Status(),
	}
	if s.deps.Supervisor != nil {
		body["supervisor"] = s.deps.Supervisor.Stats()
	}
	if s.hub != nil {
		body["websocket_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleListEvents returns stored events, newest first.
//
// Query parameters: type, source, since (RFC 3339), limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeUnavailable(w, "event log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Type:   q.Get("type"),
		Source: q.Get("source"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.deps.Events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
