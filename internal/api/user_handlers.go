package api

import (
	"net/http"

	// Imported for the auth.AppClaims response type in the swag annotations.
	_ "netdisk/internal/auth"
)

// @Summary      Get current user info
// @Description  Retrieves information about the currently authenticated user from their JWT token.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  auth.AppClaims
// @Failure      401  {string}  string "Unauthorized"
// @Failure      500  {string}  string "Internal Server Error"
// @Router       /me [get]
func (s *Server) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Could not retrieve user from token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, claims)
}

type StorageUsageResponse struct {
	UsedBytes      int64 `json:"used_bytes" example:"600"`
	QuotaBytes     int64 `json:"quota_bytes" example:"1000"`
	AvailableBytes int64 `json:"available_bytes" example:"400"`
}

// @Summary      Get storage usage
// @Description  Retrieves the current storage usage and quota for the authenticated user.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  StorageUsageResponse
// @Failure      401  {string}  string "Unauthorized"
// @Failure      404  {object}  ErrorResponse
// @Router       /me/storage [get]
func (s *Server) GetStorageUsageHandler(w http.ResponseWriter, r *http.Request) {
	claims := GetUserFromContext(r.Context())

	account, err := s.disk.Usage(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StorageUsageResponse{
		UsedBytes:      account.UsedBytes,
		QuotaBytes:     account.TotalBytes,
		AvailableBytes: account.Available(),
	})
}
