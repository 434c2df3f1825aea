package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/astraloracle/oracle/internal/bridge"
	"github.com/astraloracle/oracle/internal/oracle"
	"github.com/gorilla/websocket"
)

func (s *Server) handleOracles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Roster.List())
}

type oracleImageRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleOracleImage(w http.ResponseWriter, r *http.Request) {
	var req oracleImageRequest
	if !decode(w, r, maxImageBytes, &req) {
		return
	}
	if !strings.HasPrefix(req.Image, "data:image/") {
		writeError(w, http.StatusBadRequest, "image must be a data:image/ URI")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Roster.SetBaseImage(id, req.Image); err != nil {
		if errors.Is(err, oracle.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := s.deps.Roster.Get(id)
	writeJSON(w, http.StatusOK, p)
}

type simliRequest struct {
	Oracle string `json:"oracle,omitempty"`
	FaceID string `json:"faceId,omitempty"`
}

type simliResponse struct {
	SessionID string `json:"sessionId"`
	FaceID    string `json:"faceId"`
}

// handleSimliSession starts an avatar session on behalf of the page so the
// vendor key never leaves the server.
func (s *Server) handleSimliSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Avatar == nil {
		writeError(w, http.StatusServiceUnavailable, "avatar service not configured")
		return
	}
	var req simliRequest
	if !decode(w, r, maxBodyBytes, &req) {
		return
	}
	face := req.FaceID
	if face == "" && req.Oracle != "" {
		p, err := s.deps.Roster.Get(req.Oracle)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		face = p.SimliFaceID
	}
	if face == "" {
		writeError(w, http.StatusBadRequest, "no avatar face for this request")
		return
	}
	id, err := s.deps.Avatar.StartSession(r.Context(), face)
	if err != nil {
		logger(r).Error("avatar: start session", "face_id", face, "err", err)
		writeError(w, http.StatusBadGateway, "avatar service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, simliResponse{SessionID: id, FaceID: face})
}

// ── Live ───────────────────────────────────────────────────────────────────

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  16 << 10,
		WriteBufferSize: 16 << 10,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts configured origins, or same-host origins when none
// are configured. Requests without an Origin header are not from a browser
// and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) > 0 {
		return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleLiveSessions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Lives == nil {
		writeJSON(w, http.StatusOK, []LiveSession{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Lives.Active())
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lives == nil {
		writeError(w, http.StatusServiceUnavailable, "live sessions not configured")
		return
	}
	oracleID := r.PathValue("oracle")
	if _, err := s.deps.Roster.Get(oracleID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	up := s.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		logger(r).Debug("live: upgrade failed", "err", err)
		return
	}
	log := logger(r).With("oracle", oracleID)
	conn := bridge.New(ws, bridge.WithLogger(log))

	sess, err := s.deps.Lives.Open(oracleID, conn, conn.Hooks(nil))
	if err != nil {
		log.Warn("live: session refused", "err", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer s.deps.Lives.Release(sess.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	if err := conn.Ready(sess.ID()); err != nil {
		return
	}
	if err := conn.Serve(ctx, sess); err != nil {
		log.Info("live: connection lost", "session_id", sess.ID(), "err", err)
	}
}
