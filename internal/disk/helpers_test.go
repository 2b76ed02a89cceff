package disk_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"netdisk/internal/disk"
	"netdisk/internal/memstore"
	"netdisk/internal/models"
)

// memObjects is an in-memory ObjectStore.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
	short   bool
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(ctx context.Context, key string, r io.Reader, size int64) (*models.StoredObject, error) {
	if m.failPut != nil {
		return nil, m.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if m.short && len(data) > 0 {
		data = data[:len(data)-1]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return &models.StoredObject{Key: key, URL: "mem://" + key, Size: int64(len(data))}, nil
}

func (m *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memObjects) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// flakyStore wraps a store and intercepts node inserts of every unit of work.
type flakyStore struct {
	inner *memstore.Store
	// onCreate runs before each node insert with the 1-based insert count.
	onCreate func(n int64) error
	creates  atomic.Int64
	// conflicts makes the next SwapUsedBytes calls report a lost race.
	conflicts atomic.Int64

	// afterReserve runs once, outside of any unit of work, right after the
	// first unit of work that grows the used bytes of reserveOwner.
	afterReserve func()
	reserveOwner int64
	pending      func()
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(disk.Tx) error) error {
	err := f.inner.WithTx(ctx, func(tx disk.Tx) error {
		return fn(&flakyTx{Tx: tx, store: f})
	})
	if run := f.pending; run != nil {
		f.pending = nil
		run()
	}
	return err
}

type flakyTx struct {
	disk.Tx
	store *flakyStore
}

func (t *flakyTx) CreateNode(ctx context.Context, node *models.Node) error {
	n := t.store.creates.Add(1)
	if t.store.onCreate != nil {
		if err := t.store.onCreate(n); err != nil {
			return err
		}
	}
	return t.Tx.CreateNode(ctx, node)
}

func (t *flakyTx) SwapUsedBytes(ctx context.Context, ownerID int64, expected, next int64) (bool, error) {
	for {
		left := t.store.conflicts.Load()
		if left <= 0 {
			break
		}
		if t.store.conflicts.CompareAndSwap(left, left-1) {
			return false, nil
		}
	}
	swapped, err := t.Tx.SwapUsedBytes(ctx, ownerID, expected, next)
	if swapped && next > expected && ownerID == t.store.reserveOwner && t.store.afterReserve != nil {
		t.store.pending = t.store.afterReserve
		t.store.afterReserve = nil
	}
	return swapped, err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[int64][][]byte
}

func (p *recordingPublisher) PublishEvent(userID int64, eventData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[int64][][]byte)
	}
	p.events[userID] = append(p.events[userID], eventData)
}

func (p *recordingPublisher) count(userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[userID])
}

var errInjected = errors.New("injected failure")

func newTestService(t *testing.T, store disk.Store) (*disk.Service, *memObjects) {
	objects := newMemObjects()
	svc, err := disk.NewService(store, objects)
	require.NoError(t, err)
	return svc, objects
}

func upload(t *testing.T, svc *disk.Service, owner int64, parentID *string, name string, size int) *models.Node {
	node, err := svc.Upload(context.Background(), owner, parentID, name, bytes.NewReader(make([]byte, size)), int64(size))
	require.NoError(t, err)
	return node
}

func mkdir(t *testing.T, svc *disk.Service, owner int64, parentID *string, name string) *models.Node {
	node, err := svc.CreateDirectory(context.Background(), owner, parentID, name)
	require.NoError(t, err)
	return node
}

// requireNoDrift checks that used bytes equal the total size of the owner's nodes.
func requireNoDrift(t *testing.T, store *memstore.Store, owner int64) {
	t.Helper()
	var sum int64
	for _, n := range store.Nodes(owner) {
		sum += n.SizeBytes
	}
	acct, ok := store.Account(owner)
	require.True(t, ok)
	require.Equal(t, sum, acct.UsedBytes, "used bytes drifted from node sizes")
	require.LessOrEqual(t, acct.UsedBytes, acct.TotalBytes)
}

// requireNoOrphans checks that every parent id of the owner resolves to a directory.
func requireNoOrphans(t *testing.T, store *memstore.Store, owner int64) {
	t.Helper()
	byID := make(map[string]models.Node)
	for _, n := range store.Nodes(owner) {
		byID[n.ID] = n
	}
	for _, n := range byID {
		if n.ParentID == nil {
			continue
		}
		parent, ok := byID[*n.ParentID]
		require.True(t, ok, "node %s has dangling parent %s", n.ID, *n.ParentID)
		require.True(t, parent.IsDirectory())
	}
}

func nodeNames(nodes []models.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}
