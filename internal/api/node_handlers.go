package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"netdisk/internal/models"
)

type CreateFolderRequest struct {
	Name     string  `json:"name" example:"Documents"`
	ParentID *string `json:"parent_id,omitempty" example:"V1StGXR8_Z5jdHi6B-myT"`
}

type UpdateNodeRequest struct {
	Name string `json:"name" example:"report-final.pdf"`
}

type DeleteNodesRequest struct {
	IDs []string `json:"ids"`
}

type DeleteNodesResponse struct {
	FreedBytes int64    `json:"freed_bytes" example:"300"`
	DeletedIDs []string `json:"deleted_ids"`
}

// optionalParam returns nil for a missing or empty query value.
func optionalParam(r *http.Request, name string) *string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	return &v
}

// @Summary      Create a folder
// @Description  Creates a directory under parent_id, or at the root when parent_id is omitted.
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        folder  body      CreateFolderRequest  true  "Folder details"
// @Success      201     {object}  models.Node
// @Failure      400     {string}  string "Invalid request body"
// @Failure      401     {string}  string "Unauthorized"
// @Failure      404     {object}  ErrorResponse
// @Router       /nodes/folder [post]
func (s *Server) CreateFolderHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	var req CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Folder name is required", http.StatusBadRequest)
		return
	}

	node, err := s.disk.CreateDirectory(r.Context(), claims.UserID, req.ParentID, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, node)
}

// @Summary      List a directory
// @Description  Lists the children of parent_id (the root when omitted). Directories come first, then the order key descending.
// @Tags         nodes
// @Produce      json
// @Security     BearerAuth
// @Param        parent_id  query     string  false  "Directory ID"
// @Param        order_by   query     string  false  "Sort key"  Enums(name, created_at)
// @Param        kind       query     string  false  "Kind filter"  Enums(any, file, directory)
// @Param        ext        query     string  false  "Media type prefix, e.g. image/, or all"
// @Success      200        {array}   models.Node
// @Failure      401        {string}  string "Unauthorized"
// @Failure      404        {object}  ErrorResponse
// @Router       /nodes [get]
func (s *Server) ListNodesHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())
	q := r.URL.Query()

	kind := q.Get("kind")
	switch kind {
	case "", "any", models.KindFile, models.KindDirectory:
	default:
		http.Error(w, "Invalid 'kind' parameter", http.StatusBadRequest)
		return
	}

	opts := models.ListOptions{
		Kind:      kind,
		ExtPrefix: q.Get("ext"),
		OrderBy:   q.Get("order_by"),
	}
	nodes, err := s.disk.List(r.Context(), claims.UserID, optionalParam(r, "parent_id"), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}

	writeJSON(w, http.StatusOK, nodes)
}

// @Summary      Upload a file
// @Description  Stores a file under parent_id. The size is reserved against the quota before any byte is stored.
// @Tags         nodes
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file       formData  file    true   "File to upload"
// @Param        parent_id  formData  string  false  "Directory ID"
// @Success      201        {object}  models.Node
// @Failure      400        {string}  string "Bad Request"
// @Failure      401        {string}  string "Unauthorized"
// @Failure      404        {object}  ErrorResponse
// @Failure      413        {string}  string "File too large"
// @Failure      415        {string}  string "File type not allowed"
// @Failure      502        {object}  ErrorResponse
// @Failure      507        {object}  ErrorResponse
// @Router       /nodes/file [post]
func (s *Server) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	limit := s.config.Upload.MaxBytes
	if limit > 0 {
		// Headroom for the multipart envelope.
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error parsing multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, handler, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error retrieving the file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := filepath.Base(handler.Filename)
	if filename == "." || filename == "/" || strings.TrimSpace(filename) == "" {
		http.Error(w, "File name is required", http.StatusBadRequest)
		return
	}
	if limit > 0 && handler.Size > limit {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !s.config.Upload.IsAllowedExtension(filepath.Ext(filename)) {
		http.Error(w, "File type not allowed", http.StatusUnsupportedMediaType)
		return
	}

	var parentID *string
	if v := r.FormValue("parent_id"); v != "" {
		parentID = &v
	}

	node, err := s.disk.Upload(r.Context(), claims.UserID, parentID, filename, file, handler.Size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, node)
}

// @Summary      Download a file
// @Tags         nodes
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        nodeId  path      string  true  "File ID"
// @Success      200     {file}    file
// @Failure      401     {string}  string "Unauthorized"
// @Failure      404     {object}  ErrorResponse
// @Failure      502     {object}  ErrorResponse
// @Router       /nodes/{nodeId}/download [get]
func (s *Server) DownloadFileHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())
	nodeID := chi.URLParam(r, "nodeId")

	node, rc, err := s.disk.Open(r.Context(), claims.UserID, nodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": node.Name}))
	contentType := node.Extension
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", node.SizeBytes))

	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("download interrupted")
	}
}

// @Summary      Rename a node
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        nodeId  path      string             true  "Node ID"
// @Param        update  body      UpdateNodeRequest  true  "New name"
// @Success      200     {object}  models.Node
// @Failure      400     {string}  string "Invalid request body"
// @Failure      401     {string}  string "Unauthorized"
// @Failure      404     {object}  ErrorResponse
// @Router       /nodes/{nodeId} [patch]
func (s *Server) UpdateNodeHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())
	nodeID := chi.URLParam(r, "nodeId")

	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	node, err := s.disk.Rename(r.Context(), claims.UserID, nodeID, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, node)
}

// @Summary      Delete a node
// @Description  Deletes a node with its whole subtree and returns the freed bytes to the quota.
// @Tags         nodes
// @Produce      json
// @Security     BearerAuth
// @Param        nodeId  path      string  true  "Node ID"
// @Success      200     {object}  DeleteNodesResponse
// @Failure      401     {string}  string "Unauthorized"
// @Failure      404     {object}  ErrorResponse
// @Router       /nodes/{nodeId} [delete]
func (s *Server) DeleteNodeHandler(w http.ResponseWriter, r *http.Request) {
	s.deleteNodes(w, r, []string{chi.URLParam(r, "nodeId")})
}

// @Summary      Delete several nodes
// @Description  Deletes the listed nodes with their subtrees in one transaction.
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      DeleteNodesRequest  true  "Node IDs"
// @Success      200      {object}  DeleteNodesResponse
// @Failure      400      {string}  string "Invalid request body"
// @Failure      401      {string}  string "Unauthorized"
// @Failure      404      {object}  ErrorResponse
// @Router       /nodes/delete [post]
func (s *Server) DeleteNodesHandler(w http.ResponseWriter, r *http.Request) {
	var req DeleteNodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "At least one node ID is required", http.StatusBadRequest)
		return
	}
	s.deleteNodes(w, r, req.IDs)
}

func (s *Server) deleteNodes(w http.ResponseWriter, r *http.Request, ids []string) {
	claims := GetUserFromContext(r.Context())

	report, err := s.disk.Delete(r.Context(), claims.UserID, ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteNodesResponse{
		FreedBytes: report.FreedBytes,
		DeletedIDs: report.IDs(),
	})
}

// @Summary      Search files
// @Description  Returns every file of the caller whose name contains keyword. Matching is case sensitive.
// @Tags         nodes
// @Produce      json
// @Security     BearerAuth
// @Param        keyword  query     string  true  "Substring to look for"
// @Success      200      {array}   models.Node
// @Failure      400      {string}  string "Bad Request"
// @Failure      401      {string}  string "Unauthorized"
// @Router       /search [get]
func (s *Server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		http.Error(w, "Query parameter 'keyword' is required", http.StatusBadRequest)
		return
	}

	nodes, err := s.disk.Search(r.Context(), claims.UserID, keyword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}

	writeJSON(w, http.StatusOK, nodes)
}
