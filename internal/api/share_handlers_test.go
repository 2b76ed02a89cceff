package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"netdisk/internal/models"
)

func createShare(t *testing.T, token, nodeID string) models.ShareLink {
	t.Helper()
	rr := doRequest(t, http.MethodPost, "/api/v1/nodes/"+nodeID+"/share", token, nil, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var link models.ShareLink
	decodeBody(t, rr, &link)
	return link
}

func TestAPI_ShareBrowseAndSave(t *testing.T) {
	alice := newUser(t, "share_alice")
	bob := newUser(t, "share_bob")

	root := createFolder(t, alice, nil, "trip")
	sub := createFolder(t, alice, &root.ID, "day1")
	uploadFile(t, alice, &root.ID, "plan.txt", bytes.Repeat([]byte("p"), 300))
	uploadFile(t, alice, &sub.ID, "photo.jpg", bytes.Repeat([]byte("j"), 300))
	outside := uploadFile(t, alice, nil, "private.txt", []byte("secret"))

	link := createShare(t, alice, root.ID)
	require.Equal(t, root.ID, link.NodeID)
	require.False(t, link.Revoked)

	// Anonymous browsing.
	rr := doRequest(t, http.MethodGet, "/api/v1/public/shares/"+link.Token, "", nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var nodes []models.Node
	decodeBody(t, rr, &nodes)
	require.Equal(t, []string{"trip"}, names(nodes))

	rr = doRequest(t, http.MethodGet, "/api/v1/public/shares/"+link.Token+"?node_id="+root.ID, "", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &nodes)
	require.Equal(t, []string{"day1", "plan.txt"}, names(nodes))

	rr = doRequest(t, http.MethodGet, "/api/v1/public/shares/"+link.Token+"?node_id="+outside.ID, "", nil, "")
	requireErrorCode(t, rr, http.StatusNotFound, "NODE_NOT_FOUND")

	// Bob saves the subtree into his root.
	rr = doJSON(t, http.MethodPost, "/api/v1/shares/"+link.Token+"/save", bob, SaveShareRequest{})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var report models.CloneReport
	decodeBody(t, rr, &report)
	require.Equal(t, 4, report.NodesCloned)
	require.Equal(t, int64(600), report.BytesCommitted)

	require.Equal(t, int64(600), storageUsage(t, bob).UsedBytes)
	require.Equal(t, int64(606), storageUsage(t, alice).UsedBytes)

	bobRoot := listNodes(t, bob, "")
	require.Len(t, bobRoot, 1)
	require.Equal(t, report.RootID, bobRoot[0].ID)
	require.NotEqual(t, root.ID, report.RootID)
	require.Equal(t, []string{"day1", "plan.txt"}, names(listNodes(t, bob, "?parent_id="+report.RootID)))

	// The copy stays readable after the source is gone.
	copied := listNodes(t, bob, "?parent_id="+report.RootID)[1]
	rr = doRequest(t, http.MethodDelete, "/api/v1/nodes/"+root.ID, alice, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, http.MethodGet, "/api/v1/nodes/"+copied.ID+"/download", bob, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, bytes.Repeat([]byte("p"), 300), rr.Body.Bytes())

	rr = doRequest(t, http.MethodGet, "/api/v1/public/shares/"+link.Token, "", nil, "")
	requireErrorCode(t, rr, http.StatusNotFound, "NODE_NOT_FOUND")
}

func TestAPI_SaveShareIntoDirectory(t *testing.T) {
	alice := newUser(t, "share_dir_alice")
	bob := newUser(t, "share_dir_bob")

	file := uploadFile(t, alice, nil, "single.txt", []byte("12345"))
	link := createShare(t, alice, file.ID)
	inbox := createFolder(t, bob, nil, "inbox")

	rr := doJSON(t, http.MethodPost, "/api/v1/shares/"+link.Token+"/save", bob, SaveShareRequest{ParentID: &inbox.ID})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, []string{"single.txt"}, names(listNodes(t, bob, "?parent_id="+inbox.ID)))

	// An empty body saves into the root.
	rr = doRequest(t, http.MethodPost, "/api/v1/shares/"+link.Token+"/save", bob, nil, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, int64(10), storageUsage(t, bob).UsedBytes)

	missing := "does-not-exist-000000"
	rr = doJSON(t, http.MethodPost, "/api/v1/shares/"+link.Token+"/save", bob, SaveShareRequest{ParentID: &missing})
	requireErrorCode(t, rr, http.StatusNotFound, "DIRECTORY_NOT_FOUND")
}

func TestAPI_SaveShareRejections(t *testing.T) {
	alice := newUser(t, "share_rej_alice")
	bob := newUser(t, "share_rej_bob")

	big := uploadFile(t, alice, nil, "big.txt", bytes.Repeat([]byte("b"), 4000))
	link := createShare(t, alice, big.ID)

	rr := doJSON(t, http.MethodPost, "/api/v1/shares/"+link.Token+"/save", alice, SaveShareRequest{})
	requireErrorCode(t, rr, http.StatusBadRequest, "SELF_SHARE_REJECTED")

	// Fill Bob's quota so the clone cannot fit.
	uploadFile(t, bob, nil, "a.txt", bytes.Repeat([]byte("a"), 4000))
	uploadFile(t, bob, nil, "b.txt", bytes.Repeat([]byte("a"), 3000))
	rr = doJSON(t, http.MethodPost, "/api/v1/shares/"+link.Token+"/save", bob, SaveShareRequest{})
	resp := requireErrorCode(t, rr, http.StatusInsufficientStorage, "QUOTA_EXCEEDED")
	require.Equal(t, int64(1000), resp.Shortfall)
	require.Len(t, listNodes(t, bob, ""), 2)
	require.Equal(t, int64(7000), storageUsage(t, bob).UsedBytes)

	rr = doJSON(t, http.MethodPost, "/api/v1/shares/unknown-token/save", bob, SaveShareRequest{})
	requireErrorCode(t, rr, http.StatusNotFound, "SHARE_NOT_FOUND")
}

func TestAPI_ListAndRevokeShares(t *testing.T) {
	alice := newUser(t, "revoke_alice")
	bob := newUser(t, "revoke_bob")

	first := uploadFile(t, alice, nil, "first.txt", []byte("1"))
	second := uploadFile(t, alice, nil, "second.txt", []byte("2"))
	older := createShare(t, alice, first.ID)
	newer := createShare(t, alice, second.ID)

	rr := doRequest(t, http.MethodGet, "/api/v1/shares", alice, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var shares []models.SharedNode
	decodeBody(t, rr, &shares)
	require.Len(t, shares, 2)
	require.Equal(t, newer.Token, shares[0].Token)
	require.Equal(t, older.Token, shares[1].Token)
	require.NotNil(t, shares[0].Node)
	require.Equal(t, "second.txt", shares[0].Node.Name)

	rr = doRequest(t, http.MethodGet, "/api/v1/shares", bob, nil, "")
	require.JSONEq(t, "[]", rr.Body.String())

	// Only the owner can revoke.
	rr = doRequest(t, http.MethodDelete, "/api/v1/shares/"+older.Token, bob, nil, "")
	requireErrorCode(t, rr, http.StatusNotFound, "SHARE_NOT_FOUND")

	rr = doRequest(t, http.MethodDelete, "/api/v1/shares/"+older.Token, alice, nil, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, http.MethodGet, "/api/v1/public/shares/"+older.Token, "", nil, "")
	requireErrorCode(t, rr, http.StatusGone, "SHARE_REVOKED")

	rr = doJSON(t, http.MethodPost, "/api/v1/shares/"+older.Token+"/save", bob, SaveShareRequest{})
	requireErrorCode(t, rr, http.StatusGone, "SHARE_REVOKED")
	require.Zero(t, storageUsage(t, bob).UsedBytes)
}
