package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/badgelink/internal/audit"
	"github.com/nerrad567/badgelink/internal/badge"
)

// codeRequest is the body of POST /device/badge and POST /codes.
type codeRequest struct {
	Code string `json:"code"`
}

func decodeCode(w http.ResponseWriter, r *http.Request) (badge.Code, bool) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return "", false
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return "", false
	}
	return badge.Code(req.Code), true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.cloner.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"cloner":         st,
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.cloner.Connect(r.Context()); err != nil {
		writeClonerError(w, err)
		return
	}
	st := s.cloner.Status(r.Context())
	s.hub.Broadcast(ChannelDeviceStatus, st)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.cloner.Disconnect(); err != nil {
		writeClonerError(w, err)
		return
	}
	st := s.cloner.Status(r.Context())
	s.hub.Broadcast(ChannelDeviceStatus, st)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWriteBadge(w http.ResponseWriter, r *http.Request) {
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}
	if err := s.cloner.WriteBadge(r.Context(), code); err != nil {
		writeClonerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "written", "code": code.String()})
}

func (s *Server) handleReadBadge(w http.ResponseWriter, r *http.Request) {
	ev, err := s.cloner.ReadBadge(r.Context())
	if err != nil {
		writeClonerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.cloner.Scan(r.Context()); err != nil {
		writeClonerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

func (s *Server) handlePowerOff(w http.ResponseWriter, r *http.Request) {
	if err := s.cloner.PowerOff(r.Context()); err != nil {
		writeClonerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "powering_off"})
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	codes := s.cloner.Codes(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"codes": codes,
		"count": len(codes),
	})
}

func (s *Server) handleAddCode(w http.ResponseWriter, r *http.Request) {
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}
	ev, err := s.cloner.AddCode(r.Context(), code)
	if err != nil {
		writeClonerError(w, err)
		return
	}
	status := http.StatusOK
	if ev.New {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"code": ev.Code, "added": ev.New})
}

func (s *Server) handleClearCodes(w http.ResponseWriter, r *http.Request) {
	if err := s.cloner.ClearCodes(r.Context()); err != nil {
		writeClonerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListCommands serves the command history.
// Query: command, status, limit (max 200), offset.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Command: q.Get("command"),
		Status:  q.Get("status"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command history", "error", err)
		writeInternalError(w, "failed to list command history")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
