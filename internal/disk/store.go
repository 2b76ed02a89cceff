package disk

import (
	"context"
	"io"

	"netdisk/internal/models"
)

// Store runs units of work atomically against the persistent store.
// Implementations must not allow nested WithTx calls from inside fn.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of record operations available inside a unit of work.
// Lookups return nil, nil when the record does not exist.
type Tx interface {
	// LockOwner serializes tree mutations of one owner until the unit of work ends.
	LockOwner(ctx context.Context, ownerID int64) error

	GetQuota(ctx context.Context, ownerID int64) (*models.QuotaAccount, error)
	// SwapUsedBytes sets used bytes to next only if they still equal expected
	// and, when growing, next does not exceed the account total. It reports
	// whether the swap happened.
	SwapUsedBytes(ctx context.Context, ownerID int64, expected, next int64) (bool, error)

	CreateNode(ctx context.Context, node *models.Node) error
	NodeExists(ctx context.Context, id string) (bool, error)
	GetNodeByID(ctx context.Context, id string, ownerID int64) (*models.Node, error)
	GetNodesByParentID(ctx context.Context, ownerID int64, parentID *string, opts models.ListOptions) ([]models.Node, error)
	RenameNode(ctx context.Context, id string, ownerID int64, newName string) (*models.Node, error)
	DeleteNodes(ctx context.Context, ownerID int64, ids []string) (int64, error)
	SearchFiles(ctx context.Context, ownerID int64, keyword string) ([]models.Node, error)
	CountContentRefs(ctx context.Context, contentRef string) (int64, error)

	CreateShareLink(ctx context.Context, link *models.ShareLink) error
	GetShareLink(ctx context.Context, token string) (*models.ShareLink, error)
	ListShareLinks(ctx context.Context, ownerID int64) ([]models.SharedNode, error)
	RevokeShareLink(ctx context.Context, token string, ownerID int64) (bool, error)

	LogEvent(ctx context.Context, userID int64, eventType string, payload interface{}) error
}

// ObjectStore holds file contents addressed by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) (*models.StoredObject, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Publisher delivers committed events to connected clients.
type Publisher interface {
	PublishEvent(userID int64, eventData []byte)
}

// runner executes fn in its own unit of work, or inside tx when bound to one.
type runner struct {
	store Store
	tx    Tx
}

func (r runner) run(ctx context.Context, fn func(Tx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.store.WithTx(ctx, fn)
}

func (r runner) bind(tx Tx) runner {
	return runner{store: r.store, tx: tx}
}
