package api

import (
	"context"
	"net/http"
	"time"

	"netdisk/internal/auth"
	"netdisk/internal/websocket"
)

// ServeWsHandler upgrades to a websocket that streams the user's committed
// storage events. Browsers cannot set headers here, so the access token
// travels in the query string.
func (s *Server) ServeWsHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "Token is required", http.StatusUnauthorized)
		return
	}

	claims, err := auth.VerifyJWT(tokenString, s.config.JWT.Secret)
	if err != nil {
		s.logger.Debug().Err(err).Msg("ws connection attempt with invalid token")
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	exists, err := s.store.SessionExists(r.Context(), claims.SessionID, claims.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", claims.UserID).Msg("failed to check session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "Session has been terminated", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(s.wsHub, conn, claims.UserID)
	if !s.wsHub.Join(client) {
		conn.Close()
		return
	}

	go client.ReadPump()
	go client.WritePump()
}

type HealthResponse struct {
	Status   string `json:"status" example:"ok"`
	Database string `json:"database" example:"ok"`
}

// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health [get]
func (s *Server) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.GetPool().Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check: database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Database: "unreachable"})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"})
}
