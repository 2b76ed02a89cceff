package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"netdisk/internal/auth"
	"netdisk/internal/models"
)

func doRequest(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	testRouter.ServeHTTP(rr, req)
	return rr
}

func doJSON(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return doRequest(t, method, path, token, body, "application/json")
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func requireErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	require.Equal(t, code, resp.Code)
	return resp
}

func registerUser(t *testing.T, username string) {
	t.Helper()
	rr := doJSON(t, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
		Username: username,
		Password: "password123",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func login(t *testing.T, username string) TokenResponse {
	t.Helper()
	rr := doJSON(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
		Username: username,
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tokens TokenResponse
	decodeBody(t, rr, &tokens)
	return tokens
}

// newUser registers username and returns an access token for it.
func newUser(t *testing.T, username string) string {
	t.Helper()
	registerUser(t, username)
	return login(t, username).AccessToken
}

func uploadRequest(t *testing.T, token string, parentID *string, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if parentID != nil {
		require.NoError(t, mw.WriteField("parent_id", *parentID))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return doRequest(t, http.MethodPost, "/api/v1/nodes/file", token, &buf, mw.FormDataContentType())
}

func uploadFile(t *testing.T, token string, parentID *string, filename string, content []byte) models.Node {
	t.Helper()
	rr := uploadRequest(t, token, parentID, filename, content)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var node models.Node
	decodeBody(t, rr, &node)
	return node
}

func createFolder(t *testing.T, token string, parentID *string, name string) models.Node {
	t.Helper()
	rr := doJSON(t, http.MethodPost, "/api/v1/nodes/folder", token, CreateFolderRequest{Name: name, ParentID: parentID})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var node models.Node
	decodeBody(t, rr, &node)
	return node
}

func storageUsage(t *testing.T, token string) StorageUsageResponse {
	t.Helper()
	rr := doRequest(t, http.MethodGet, "/api/v1/me/storage", token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var usage StorageUsageResponse
	decodeBody(t, rr, &usage)
	return usage
}

func listNodes(t *testing.T, token, query string) []models.Node {
	t.Helper()
	rr := doRequest(t, http.MethodGet, "/api/v1/nodes"+query, token, nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var nodes []models.Node
	decodeBody(t, rr, &nodes)
	return nodes
}

func names(nodes []models.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func claimsOf(t *testing.T, token string) *auth.AppClaims {
	t.Helper()
	claims, err := auth.VerifyJWT(token, testServer.config.JWT.Secret)
	require.NoError(t, err)
	return claims
}
