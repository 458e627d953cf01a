package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/devflow-ai/devflow/internal/sandbox"
)

type createSessionRequest struct {
	ID      string            `json:"id,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"`
	TTL     string            `json:"ttl,omitempty"`
}

type createSessionResponse struct {
	ID        string `json:"id"`
	ExpiresIn string `json:"expires_in"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "MalformedPayload", "invalid ttl: "+err.Error())
			return
		}
		ttl = parsed
	}

	if s.SandboxLimit != nil {
		if err := s.SandboxLimit.Allow(); err != nil {
			writeErrKind(w, err)
			return
		}
	}

	id, expiresIn, err := s.Sandbox.CreateSession(r.Context(), req.ID, sandbox.CreateOptions{Secrets: req.Secrets, TTL: ttl})
	if err != nil {
		writeErrKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{ID: id, ExpiresIn: expiresIn.String()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.Sandbox.GetSession(id)
	if err != nil {
		writeErrKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Sandbox.DeleteSession(r.Context(), id); err != nil {
		writeErrKind(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionUpgrader mirrors the teacher's permissive-origin posture for a
// single-operator control plane: devflow has no browser-facing origin
// allowlist to enforce since its only client is the operator's own
// tooling, authenticated by the bearer token the /api subrouter already
// requires.
var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSessionWS upgrades to a WebSocket and bridges it onto the
// session's framed stdio connection (§4.A), letting an operator attach a
// terminal to a running sandbox process from a browser.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Sandbox.GetSession(id); err != nil {
		writeErrKind(w, err)
		return
	}

	wsc, err := sessionUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warnw("websocket upgrade failed", "session_id", id, "error", err.Error())
		return
	}

	conn, err := s.Sandbox.Connect(r.Context(), id)
	if err != nil {
		_ = wsc.Close()
		return
	}
	defer conn.Close()

	bridge := newWSConn(wsc)
	defer bridge.Close()

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := bridge.Read(buf)
			if n > 0 {
				if sendErr := conn.SendStdin(append([]byte(nil), buf[:n]...)); sendErr != nil {
					return
				}
			}
			if err != nil {
				_ = conn.SendStdinEOF()
				return
			}
		}
	}()

	for f := range conn.Recv() {
		if _, err := bridge.Write(f.Payload); err != nil {
			return
		}
	}
}
