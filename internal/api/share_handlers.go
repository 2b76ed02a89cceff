package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"netdisk/internal/models"
)

type SaveShareRequest struct {
	// ParentID is the destination directory; omitted means the root.
	ParentID *string `json:"parent_id,omitempty" example:"V1StGXR8_Z5jdHi6B-myT"`
}

// @Summary      Share a node
// @Description  Creates a public link to a file or directory.
// @Tags         shares
// @Produce      json
// @Security     BearerAuth
// @Param        nodeId  path      string  true  "Node ID to share"
// @Success      201     {object}  models.ShareLink
// @Failure      401     {string}  string "Unauthorized"
// @Failure      404     {object}  ErrorResponse
// @Router       /nodes/{nodeId}/share [post]
func (s *Server) ShareNodeHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())
	nodeID := chi.URLParam(r, "nodeId")

	link, err := s.disk.CreateShare(r.Context(), claims.UserID, nodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, link)
}

// @Summary      List my shares
// @Description  Lists the caller's share links, newest first, with the shared node when it still exists.
// @Tags         shares
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   models.SharedNode
// @Failure      401  {string}  string "Unauthorized"
// @Router       /shares [get]
func (s *Server) ListSharesHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	shares, err := s.disk.ListShares(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if shares == nil {
		shares = []models.SharedNode{}
	}

	writeJSON(w, http.StatusOK, shares)
}

// @Summary      Revoke a share
// @Tags         shares
// @Security     BearerAuth
// @Param        token  path  string  true  "Share token"
// @Success      204    "No Content"
// @Failure      401    {string}  string "Unauthorized"
// @Failure      404    {object}  ErrorResponse
// @Router       /shares/{token} [delete]
func (s *Server) RevokeShareHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	if err := s.disk.RevokeShare(r.Context(), claims.UserID, chi.URLParam(r, "token")); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// @Summary      Browse a share
// @Description  Without node_id returns the shared node. With node_id returns the children of that directory, which must lie inside the shared subtree.
// @Tags         shares
// @Produce      json
// @Param        token    path      string  true   "Share token"
// @Param        node_id  query     string  false  "Directory inside the share"
// @Success      200      {array}   models.Node
// @Failure      404      {object}  ErrorResponse
// @Failure      410      {object}  ErrorResponse
// @Router       /public/shares/{token} [get]
func (s *Server) ReadShareHandler(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.disk.ReadShare(r.Context(), chi.URLParam(r, "token"), optionalParam(r, "node_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nodes)
}

// @Summary      Save a share to my disk
// @Description  Copies the shared subtree into the caller's tree. The whole size is reserved up front; on failure nothing is left behind.
// @Tags         shares
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        token    path      string            true   "Share token"
// @Param        request  body      SaveShareRequest  false  "Destination"
// @Success      201      {object}  models.CloneReport
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {string}  string "Unauthorized"
// @Failure      404      {object}  ErrorResponse
// @Failure      410      {object}  ErrorResponse
// @Failure      507      {object}  ErrorResponse
// @Router       /shares/{token}/save [post]
func (s *Server) SaveShareHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	var req SaveShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	report, err := s.disk.SaveShareToSelf(r.Context(), claims.UserID, chi.URLParam(r, "token"), req.ParentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, report)
}
