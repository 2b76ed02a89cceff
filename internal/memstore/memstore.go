// Package memstore is a map-backed implementation of disk.Store. A unit of
// work runs on a private copy of the data under a store-wide lock and
// replaces the committed copy only when it succeeds.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"netdisk/internal/disk"
	"netdisk/internal/models"
)

type parentKey struct {
	owner  int64
	parent string
}

type state struct {
	accounts map[int64]models.QuotaAccount
	nodes    map[string]models.Node
	children map[parentKey]map[string]struct{}
	shares   map[string]models.ShareLink
	events   []models.Event
}

func newState() *state {
	return &state{
		accounts: make(map[int64]models.QuotaAccount),
		nodes:    make(map[string]models.Node),
		children: make(map[parentKey]map[string]struct{}),
		shares:   make(map[string]models.ShareLink),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts: make(map[int64]models.QuotaAccount, len(s.accounts)),
		nodes:    make(map[string]models.Node, len(s.nodes)),
		children: make(map[parentKey]map[string]struct{}, len(s.children)),
		shares:   make(map[string]models.ShareLink, len(s.shares)),
		events:   s.events[:len(s.events):len(s.events)],
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.nodes {
		c.nodes[k] = v
	}
	for k, set := range s.children {
		cs := make(map[string]struct{}, len(set))
		for id := range set {
			cs[id] = struct{}{}
		}
		c.children[k] = cs
	}
	for k, v := range s.shares {
		c.shares[k] = v
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *state
}

var _ disk.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(disk.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// CreateAccount opens a quota account with no bytes used.
func (s *Store) CreateAccount(ownerID, totalBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.accounts[ownerID] = models.QuotaAccount{OwnerID: ownerID, TotalBytes: totalBytes}
}

func (s *Store) Account(ownerID int64) (models.QuotaAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.data.accounts[ownerID]
	return acct, ok
}

// Nodes returns every node of ownerID ordered by id.
func (s *Store) Nodes(ownerID int64) []models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Node
	for _, n := range s.data.nodes {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Events(userID int64) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.data.events {
		if e.ID > 0 && eventOwner(e) == userID {
			out = append(out, e)
		}
	}
	return out
}

type tx struct {
	st *state
}

func (t *tx) LockOwner(ctx context.Context, ownerID int64) error {
	return nil
}

func (t *tx) GetQuota(ctx context.Context, ownerID int64) (*models.QuotaAccount, error) {
	acct, ok := t.st.accounts[ownerID]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (t *tx) SwapUsedBytes(ctx context.Context, ownerID int64, expected, next int64) (bool, error) {
	acct, ok := t.st.accounts[ownerID]
	if !ok || acct.UsedBytes != expected {
		return false, nil
	}
	if next > expected && next > acct.TotalBytes {
		return false, nil
	}
	acct.UsedBytes = next
	t.st.accounts[ownerID] = acct
	return true, nil
}

func (t *tx) CreateNode(ctx context.Context, node *models.Node) error {
	if _, exists := t.st.nodes[node.ID]; exists {
		return fmt.Errorf("memstore: node %s already exists", node.ID)
	}
	if node.ParentID != nil {
		if _, ok := t.st.nodes[*node.ParentID]; !ok {
			return fmt.Errorf("memstore: parent %s does not exist", *node.ParentID)
		}
	}
	t.st.nodes[node.ID] = *node
	key := keyOf(node.OwnerID, node.ParentID)
	if t.st.children[key] == nil {
		t.st.children[key] = make(map[string]struct{})
	}
	t.st.children[key][node.ID] = struct{}{}
	return nil
}

func (t *tx) NodeExists(ctx context.Context, id string) (bool, error) {
	_, ok := t.st.nodes[id]
	return ok, nil
}

func (t *tx) GetNodeByID(ctx context.Context, id string, ownerID int64) (*models.Node, error) {
	n, ok := t.st.nodes[id]
	if !ok || n.OwnerID != ownerID {
		return nil, nil
	}
	return &n, nil
}

func (t *tx) GetNodesByParentID(ctx context.Context, ownerID int64, parentID *string, opts models.ListOptions) ([]models.Node, error) {
	opts = opts.Normalize()
	out := []models.Node{}
	for id := range t.st.children[keyOf(ownerID, parentID)] {
		n := t.st.nodes[id]
		if opts.Kind != "" && n.Kind != opts.Kind {
			continue
		}
		if opts.ExtPrefix != "" && !strings.HasPrefix(n.Extension, opts.ExtPrefix) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return opts.Less(&out[i], &out[j]) })
	return out, nil
}

func (t *tx) RenameNode(ctx context.Context, id string, ownerID int64, newName string) (*models.Node, error) {
	n, ok := t.st.nodes[id]
	if !ok || n.OwnerID != ownerID {
		return nil, nil
	}
	n.Name = newName
	n.ModifiedAt = time.Now().UTC().Truncate(time.Microsecond)
	t.st.nodes[id] = n
	return &n, nil
}

func (t *tx) DeleteNodes(ctx context.Context, ownerID int64, ids []string) (int64, error) {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if n, ok := t.st.nodes[id]; ok && n.OwnerID == ownerID {
			remove[id] = struct{}{}
		}
	}
	// Mirrors the parent foreign key: a surviving child must not be orphaned.
	for id := range remove {
		for child := range t.st.children[parentKey{owner: ownerID, parent: id}] {
			if _, gone := remove[child]; !gone {
				return 0, fmt.Errorf("memstore: node %s still has child %s", id, child)
			}
		}
	}
	for id := range remove {
		n := t.st.nodes[id]
		delete(t.st.nodes, id)
		delete(t.st.children[keyOf(n.OwnerID, n.ParentID)], id)
		delete(t.st.children, parentKey{owner: ownerID, parent: id})
	}
	return int64(len(remove)), nil
}

func (t *tx) SearchFiles(ctx context.Context, ownerID int64, keyword string) ([]models.Node, error) {
	out := []models.Node{}
	for _, n := range t.st.nodes {
		if n.OwnerID == ownerID && n.Kind == models.KindFile && strings.Contains(n.Name, keyword) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) CountContentRefs(ctx context.Context, contentRef string) (int64, error) {
	var count int64
	for _, n := range t.st.nodes {
		if n.ContentRef == contentRef {
			count++
		}
	}
	return count, nil
}

func (t *tx) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	if _, exists := t.st.shares[link.Token]; exists {
		return fmt.Errorf("memstore: share %s already exists", link.Token)
	}
	t.st.shares[link.Token] = *link
	return nil
}

func (t *tx) GetShareLink(ctx context.Context, token string) (*models.ShareLink, error) {
	link, ok := t.st.shares[token]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (t *tx) ListShareLinks(ctx context.Context, ownerID int64) ([]models.SharedNode, error) {
	out := []models.SharedNode{}
	for _, link := range t.st.shares {
		if link.OwnerID != ownerID {
			continue
		}
		sn := models.SharedNode{ShareLink: link}
		if n, ok := t.st.nodes[link.NodeID]; ok && n.OwnerID == ownerID {
			sn.Node = &n
		}
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func (t *tx) RevokeShareLink(ctx context.Context, token string, ownerID int64) (bool, error) {
	link, ok := t.st.shares[token]
	if !ok || link.OwnerID != ownerID {
		return false, nil
	}
	link.Revoked = true
	t.st.shares[token] = link
	return true, nil
}

func (t *tx) LogEvent(ctx context.Context, userID int64, eventType string, payload interface{}) error {
	data, err := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	t.st.events = append(t.st.events, models.Event{
		ID:        int64(len(t.st.events) + 1),
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Payload:   data,
	})
	return nil
}

func keyOf(ownerID int64, parentID *string) parentKey {
	if parentID == nil {
		return parentKey{owner: ownerID}
	}
	return parentKey{owner: ownerID, parent: *parentID}
}

func eventOwner(e models.Event) int64 {
	var envelope struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(e.Payload, &envelope); err != nil {
		return 0
	}
	return envelope.UserID
}
