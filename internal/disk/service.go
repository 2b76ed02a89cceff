package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"netdisk/internal/metrics"
	"netdisk/internal/models"
)

const (
	EventNodeCreated  = "node_created"
	EventNodeRenamed  = "node_renamed"
	EventNodesDeleted = "nodes_deleted"
	EventShareCreated = "share_created"
	EventShareRevoked = "share_revoked"
	EventShareSaved   = "share_saved"
)

const gcConcurrency = 4

// Service is the entry point for every storage operation. The owner is
// always passed explicitly and is trusted.
type Service struct {
	store     Store
	objects   ObjectStore
	ledger    *Ledger
	tree      *Tree
	shares    *Shares
	cloner    *Cloner
	publisher Publisher
	keys      idGenerator
	keyPrefix string
	logger    zerolog.Logger
}

func NewService(store Store, objects ObjectStore) (*Service, error) {
	ledger := NewLedger(store)
	tree, err := NewTree(store, ledger)
	if err != nil {
		return nil, err
	}
	shares, err := NewShares(store)
	if err != nil {
		return nil, err
	}
	keys, err := newIDGenerator(nodeIDLength)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:   store,
		objects: objects,
		ledger:  ledger,
		tree:    tree,
		shares:  shares,
		cloner:  NewCloner(store, tree, ledger),
		keys:    keys,
		logger:  zerolog.Nop(),
	}, nil
}

func (s *Service) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "disk").Logger()
	s.ledger.SetLogger(logger)
	s.tree.SetLogger(logger)
	s.cloner.SetLogger(logger)
}

func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *Service) SetKeyPrefix(prefix string) {
	s.keyPrefix = strings.Trim(prefix, "/")
}

// Upload reserves quota, stores the payload and records the file. On any
// failure the reservation is released and the stored object removed.
func (s *Service) Upload(ctx context.Context, ownerID int64, parentID *string, filename string, r io.Reader, size int64) (*models.Node, error) {
	const op = "disk.Upload"

	if err := s.tree.CheckDirectory(ctx, ownerID, parentID); err != nil {
		return nil, err
	}

	res, err := s.ledger.Reserve(ctx, ownerID, size)
	if err != nil {
		return nil, err
	}

	obj, err := s.objects.Put(ctx, s.objectKey(filename), r, size)
	if err != nil {
		metrics.IncObjectStoreError("put")
		s.release(ctx, res)
		return nil, wrapError(op, CodeTransferError, "failed to store file contents", err)
	}
	if obj.Size != size {
		metrics.IncObjectStoreError("put")
		s.release(ctx, res)
		s.deleteObject(ctx, obj.Key)
		return nil, newError(op, CodeTransferError, fmt.Sprintf("stored %d bytes, expected %d", obj.Size, size))
	}

	node, err := s.commitFile(ctx, res, parentID, filename, obj.Key, obj.URL)
	if err != nil {
		s.deleteObject(ctx, obj.Key)
		return nil, err
	}
	return node, nil
}

// UploadCommit records a file whose contents are already stored under contentRef.
func (s *Service) UploadCommit(ctx context.Context, ownerID int64, parentID *string, filename, contentRef string, size int64) (*models.Node, error) {
	res, err := s.ledger.Reserve(ctx, ownerID, size)
	if err != nil {
		return nil, err
	}
	return s.commitFile(ctx, res, parentID, filename, contentRef, "")
}

func (s *Service) commitFile(ctx context.Context, res *Reservation, parentID *string, filename, contentRef, url string) (*models.Node, error) {
	var node *models.Node
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		node, err = s.tree.With(tx).CreateNode(ctx, res.OwnerID, NewNode{
			ParentID:   parentID,
			Kind:       models.KindFile,
			Name:       filename,
			ContentRef: contentRef,
			URL:        url,
			SizeBytes:  res.Bytes,
		})
		if err != nil {
			return err
		}
		return tx.LogEvent(ctx, res.OwnerID, EventNodeCreated, node)
	})
	if err != nil {
		s.release(ctx, res)
		return nil, err
	}
	if err := s.ledger.Commit(res); err != nil {
		return nil, err
	}

	s.publish(res.OwnerID, EventNodeCreated, node)
	return node, nil
}

func (s *Service) CreateDirectory(ctx context.Context, ownerID int64, parentID *string, name string) (*models.Node, error) {
	var node *models.Node
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		node, err = s.tree.With(tx).CreateNode(ctx, ownerID, NewNode{
			ParentID: parentID,
			Kind:     models.KindDirectory,
			Name:     name,
		})
		if err != nil {
			return err
		}
		return tx.LogEvent(ctx, ownerID, EventNodeCreated, node)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ownerID, EventNodeCreated, node)
	return node, nil
}

func (s *Service) Rename(ctx context.Context, ownerID int64, nodeID, newName string) (*models.Node, error) {
	var node *models.Node
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		node, err = s.tree.With(tx).RenameNode(ctx, ownerID, nodeID, newName)
		if err != nil {
			return err
		}
		return tx.LogEvent(ctx, ownerID, EventNodeRenamed, node)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ownerID, EventNodeRenamed, node)
	return node, nil
}

func (s *Service) List(ctx context.Context, ownerID int64, parentID *string, opts models.ListOptions) ([]models.Node, error) {
	return s.tree.ListChildren(ctx, ownerID, parentID, opts)
}

func (s *Service) Search(ctx context.Context, ownerID int64, keyword string) ([]models.Node, error) {
	return s.tree.Search(ctx, ownerID, keyword)
}

// Delete removes the nodes with their subtrees, then drops stored objects no
// other node references anymore.
func (s *Service) Delete(ctx context.Context, ownerID int64, ids []string) (*models.DeleteReport, error) {
	var report *models.DeleteReport
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		report, err = s.tree.With(tx).DeleteNodes(ctx, ownerID, ids)
		if err != nil {
			return err
		}
		return tx.LogEvent(ctx, ownerID, EventNodesDeleted, deletedPayload(report))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ownerID, EventNodesDeleted, deletedPayload(report))
	s.collectGarbage(context.WithoutCancel(ctx), report.Nodes)
	return report, nil
}

func (s *Service) CreateShare(ctx context.Context, ownerID int64, nodeID string) (*models.ShareLink, error) {
	var link *models.ShareLink
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		link, err = s.shares.With(tx).Create(ctx, ownerID, nodeID)
		if err != nil {
			return err
		}
		return tx.LogEvent(ctx, ownerID, EventShareCreated, link)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ownerID, EventShareCreated, link)
	return link, nil
}

func (s *Service) ListShares(ctx context.Context, ownerID int64) ([]models.SharedNode, error) {
	return s.shares.List(ctx, ownerID)
}

func (s *Service) RevokeShare(ctx context.Context, ownerID int64, token string) error {
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := s.shares.With(tx).Revoke(ctx, ownerID, token); err != nil {
			return err
		}
		return tx.LogEvent(ctx, ownerID, EventShareRevoked, map[string]string{"token": token})
	})
	if err != nil {
		return err
	}

	s.publish(ownerID, EventShareRevoked, map[string]string{"token": token})
	return nil
}

// ReadShare returns the shared node itself when nodeID is nil, otherwise the
// children of nodeID, which must lie within the shared subtree.
func (s *Service) ReadShare(ctx context.Context, token string, nodeID *string) ([]models.Node, error) {
	const op = "disk.ReadShare"

	link, err := s.shares.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	var nodes []models.Node
	err = s.store.WithTx(ctx, func(tx Tx) error {
		shared, err := tx.GetNodeByID(ctx, link.NodeID, link.OwnerID)
		if err != nil {
			return err
		}
		if shared == nil {
			return newError(op, CodeNodeNotFound, "shared node no longer exists")
		}
		if nodeID == nil {
			nodes = []models.Node{*shared}
			return nil
		}

		target, err := tx.GetNodeByID(ctx, *nodeID, link.OwnerID)
		if err != nil {
			return err
		}
		if target == nil {
			return newError(op, CodeNodeNotFound, fmt.Sprintf("node %s not found", *nodeID))
		}
		within, err := s.isWithin(ctx, tx, op, target, shared.ID)
		if err != nil {
			return err
		}
		if !within {
			return newError(op, CodeNodeNotFound, fmt.Sprintf("node %s not found", *nodeID))
		}
		if !target.IsDirectory() {
			return newError(op, CodeDirectoryNotFound, fmt.Sprintf("node %s is not a directory", *nodeID))
		}

		nodes, err = tx.GetNodesByParentID(ctx, link.OwnerID, &target.ID, models.ListOptions{}.Normalize())
		return err
	})
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	return nodes, nil
}

// SaveShareToSelf clones the shared subtree into ownerID's tree.
func (s *Service) SaveShareToSelf(ctx context.Context, ownerID int64, token string, destParentID *string) (*models.CloneReport, error) {
	link, err := s.shares.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if link.OwnerID == ownerID {
		return nil, newError("disk.SaveShareToSelf", CodeSelfShareRejected, "cannot save your own share")
	}

	report, err := s.cloner.Clone(ctx, link.OwnerID, link.NodeID, ownerID, destParentID)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{"token": token, "report": report}
	journalCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(journalCtx, func(tx Tx) error {
		return tx.LogEvent(journalCtx, ownerID, EventShareSaved, payload)
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("owner_id", ownerID).Msg("failed to journal saved share")
	}
	s.publish(ownerID, EventShareSaved, payload)
	return report, nil
}

func (s *Service) Usage(ctx context.Context, ownerID int64) (*models.QuotaAccount, error) {
	return s.ledger.Usage(ctx, ownerID)
}

// Open returns a file node with a reader for its contents.
func (s *Service) Open(ctx context.Context, ownerID int64, nodeID string) (*models.Node, io.ReadCloser, error) {
	const op = "disk.Open"

	node, err := s.tree.GetNode(ctx, ownerID, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if node.IsDirectory() {
		return nil, nil, newError(op, CodeNodeNotFound, fmt.Sprintf("node %s is not a file", nodeID))
	}

	rc, err := s.objects.Get(ctx, node.ContentRef)
	if err != nil {
		metrics.IncObjectStoreError("get")
		return nil, nil, wrapError(op, CodeTransferError, "failed to read file contents", err)
	}
	return node, rc, nil
}

// isWithin reports whether node is ancestorID or lies below it.
func (s *Service) isWithin(ctx context.Context, tx Tx, op string, node *models.Node, ancestorID string) (bool, error) {
	seen := make(map[string]struct{})
	current := node
	for {
		if current.ID == ancestorID {
			return true, nil
		}
		if current.ParentID == nil {
			return false, nil
		}
		if _, loop := seen[current.ID]; loop {
			return false, s.tree.violation(op, node.OwnerID, "cycle detected above node %s", node.ID)
		}
		seen[current.ID] = struct{}{}

		parent, err := tx.GetNodeByID(ctx, *current.ParentID, current.OwnerID)
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, nil
		}
		current = parent
	}
}

// collectGarbage removes stored objects of deleted files once no live node
// refers to them. Clones share contents with their source, so a reference
// count of zero is required.
func (s *Service) collectGarbage(ctx context.Context, nodes []models.Node) {
	refs := make(map[string]struct{})
	for _, n := range nodes {
		if n.ContentRef != "" {
			refs[n.ContentRef] = struct{}{}
		}
	}
	if len(refs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gcConcurrency)
	for ref := range refs {
		g.Go(func() error {
			var count int64
			err := s.store.WithTx(gctx, func(tx Tx) error {
				var err error
				count, err = tx.CountContentRefs(gctx, ref)
				return err
			})
			if err != nil {
				return fmt.Errorf("count references of %s: %w", ref, err)
			}
			if count > 0 {
				return nil
			}
			if err := s.objects.Delete(gctx, ref); err != nil {
				metrics.IncObjectStoreError("delete")
				return fmt.Errorf("delete object %s: %w", ref, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn().Err(err).Msg("object garbage collection incomplete")
	}
}

func (s *Service) objectKey(filename string) string {
	id := s.keys()
	key := id[:2] + "/" + id + strings.ToLower(filepath.Ext(filename))
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + "/" + key
}

func (s *Service) release(ctx context.Context, res *Reservation) {
	if err := s.ledger.Release(context.WithoutCancel(ctx), res); err != nil {
		s.logger.Error().Err(err).Int64("owner_id", res.OwnerID).Int64("bytes", res.Bytes).Msg("failed to release reservation")
	}
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		metrics.IncObjectStoreError("delete")
		s.logger.Error().Err(err).Str("key", key).Msg("failed to remove orphaned object")
	}
}

func (s *Service) publish(userID int64, eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"event_type": eventType,
		"payload":    payload,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event")
		return
	}
	s.publisher.PublishEvent(userID, data)
}

func deletedPayload(report *models.DeleteReport) map[string]interface{} {
	return map[string]interface{}{
		"node_ids":    report.IDs(),
		"freed_bytes": report.FreedBytes,
	}
}
