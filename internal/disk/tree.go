package disk

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"netdisk/internal/metrics"
	"netdisk/internal/models"
)

type NewNode struct {
	ParentID   *string
	Kind       string
	Name       string
	ContentRef string
	URL        string
	SizeBytes  int64
}

// Tree manages the node graph of every owner. Nodes live in a flat keyed
// store; subtrees are walked with explicit worklists.
type Tree struct {
	runner
	ledger *Ledger
	nodeID idGenerator
	logger zerolog.Logger
}

func NewTree(store Store, ledger *Ledger) (*Tree, error) {
	gen, err := newIDGenerator(nodeIDLength)
	if err != nil {
		return nil, err
	}
	return &Tree{
		runner: runner{store: store},
		ledger: ledger,
		nodeID: gen,
		logger: zerolog.Nop(),
	}, nil
}

func (t *Tree) SetLogger(logger zerolog.Logger) {
	t.logger = logger.With().Str("component", "tree").Logger()
}

// With returns a tree whose operations, including quota updates, join tx.
func (t *Tree) With(tx Tx) *Tree {
	bound := *t
	bound.runner = t.bind(tx)
	bound.ledger = t.ledger.With(tx)
	return &bound
}

// CreateNode records a node under parentID (nil for the root). Files must be
// covered by a reservation the caller already holds.
func (t *Tree) CreateNode(ctx context.Context, ownerID int64, p NewNode) (*models.Node, error) {
	const op = "tree.CreateNode"

	node := &models.Node{
		OwnerID:  ownerID,
		ParentID: p.ParentID,
		Kind:     p.Kind,
		Name:     p.Name,
	}
	switch p.Kind {
	case models.KindDirectory:
	case models.KindFile:
		if p.SizeBytes < 0 {
			return nil, invariantViolation(op, "file %q has negative size %d", p.Name, p.SizeBytes)
		}
		node.Extension = extensionOf(p.Name)
		node.ContentRef = p.ContentRef
		node.URL = p.URL
		node.SizeBytes = p.SizeBytes
	default:
		return nil, fmt.Errorf("%s: unknown node kind %q", op, p.Kind)
	}

	err := t.run(ctx, func(tx Tx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}
		if _, err := t.directory(ctx, tx, op, ownerID, p.ParentID); err != nil {
			return err
		}

		id, err := t.nodeID.uniqueNodeID(ctx, tx)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Truncate(time.Microsecond)
		node.ID = id
		node.CreatedAt = now
		node.ModifiedAt = now

		return tx.CreateNode(ctx, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (t *Tree) GetNode(ctx context.Context, ownerID int64, id string) (*models.Node, error) {
	var node *models.Node
	err := t.run(ctx, func(tx Tx) error {
		var err error
		node, err = tx.GetNodeByID(ctx, id, ownerID)
		if err != nil {
			return err
		}
		if node == nil {
			return newError("tree.GetNode", CodeNodeNotFound, fmt.Sprintf("node %s not found", id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (t *Tree) RenameNode(ctx context.Context, ownerID int64, id, newName string) (*models.Node, error) {
	var node *models.Node
	err := t.run(ctx, func(tx Tx) error {
		var err error
		node, err = tx.RenameNode(ctx, id, ownerID, newName)
		if err != nil {
			return err
		}
		if node == nil {
			return newError("tree.RenameNode", CodeNodeNotFound, fmt.Sprintf("node %s not found", id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteNodes removes the given nodes and all of their descendants in one
// unit of work and frees the exact number of bytes they held. Unknown ids are
// skipped; if none of them exist the result is a NodeNotFound error.
func (t *Tree) DeleteNodes(ctx context.Context, ownerID int64, ids []string) (*models.DeleteReport, error) {
	const op = "tree.DeleteNodes"
	report := &models.DeleteReport{}

	err := t.run(ctx, func(tx Tx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}

		nodes, err := t.collect(ctx, tx, op, ownerID, ids)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return newError(op, CodeNodeNotFound, "none of the requested nodes exist")
		}

		var freed int64
		removeIDs := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if n.SizeBytes < 0 {
				return t.violation(op, ownerID, "node %s has negative size %d", n.ID, n.SizeBytes)
			}
			freed += n.SizeBytes
			removeIDs = append(removeIDs, n.ID)
		}

		removed, err := tx.DeleteNodes(ctx, ownerID, removeIDs)
		if err != nil {
			return err
		}
		if removed != int64(len(removeIDs)) {
			return t.violation(op, ownerID, "collected %d nodes but removed %d", len(removeIDs), removed)
		}

		if err := t.ledger.With(tx).Free(ctx, ownerID, freed); err != nil {
			return err
		}

		report.FreedBytes = freed
		report.Nodes = nodes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListChildren lists a directory of ownerID; parentID nil lists the root.
func (t *Tree) ListChildren(ctx context.Context, ownerID int64, parentID *string, opts models.ListOptions) ([]models.Node, error) {
	var nodes []models.Node
	err := t.run(ctx, func(tx Tx) error {
		if _, err := t.directory(ctx, tx, "tree.ListChildren", ownerID, parentID); err != nil {
			return err
		}
		var err error
		nodes, err = tx.GetNodesByParentID(ctx, ownerID, parentID, opts.Normalize())
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

// Search returns the owner's files whose name contains keyword, case-sensitively.
func (t *Tree) Search(ctx context.Context, ownerID int64, keyword string) ([]models.Node, error) {
	var nodes []models.Node
	err := t.run(ctx, func(tx Tx) error {
		var err error
		nodes, err = tx.SearchFiles(ctx, ownerID, keyword)
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

// CheckDirectory fails with a DirectoryNotFound error unless parentID is nil
// or names a directory of ownerID.
func (t *Tree) CheckDirectory(ctx context.Context, ownerID int64, parentID *string) error {
	if parentID == nil {
		return nil
	}
	return t.run(ctx, func(tx Tx) error {
		_, err := t.directory(ctx, tx, "tree.CheckDirectory", ownerID, parentID)
		return err
	})
}

// directory resolves parentID to a directory of ownerID. A nil id is the root
// and resolves to nil.
func (t *Tree) directory(ctx context.Context, tx Tx, op string, ownerID int64, parentID *string) (*models.Node, error) {
	if parentID == nil {
		return nil, nil
	}
	dir, err := tx.GetNodeByID(ctx, *parentID, ownerID)
	if err != nil {
		return nil, err
	}
	if dir == nil || !dir.IsDirectory() {
		return nil, newError(op, CodeDirectoryNotFound, fmt.Sprintf("directory %s not found", *parentID))
	}
	return dir, nil
}

// collect resolves ids and gathers every descendant, in breadth-first order.
// Ids that are descendants of other requested ids are gathered once.
func (t *Tree) collect(ctx context.Context, tx Tx, op string, ownerID int64, ids []string) ([]models.Node, error) {
	collected := make(map[string]struct{})
	var out []models.Node

	for _, id := range ids {
		if _, done := collected[id]; done {
			continue
		}
		root, err := tx.GetNodeByID(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}
		if root == nil {
			continue
		}

		err = t.walk(ctx, tx, op, root, func(n *models.Node) error {
			if _, done := collected[n.ID]; done {
				return nil
			}
			collected[n.ID] = struct{}{}
			out = append(out, *n)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// walk visits root and its descendants breadth-first. Reaching a node twice
// means the parent links form a cycle.
func (t *Tree) walk(ctx context.Context, tx Tx, op string, root *models.Node, visit func(*models.Node) error) error {
	visited := map[string]struct{}{root.ID: {}}
	queue := []*models.Node{root}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if err := visit(n); err != nil {
			return err
		}
		if !n.IsDirectory() {
			continue
		}

		parentID := n.ID
		children, err := tx.GetNodesByParentID(ctx, n.OwnerID, &parentID, models.ListOptions{}.Normalize())
		if err != nil {
			return err
		}
		for i := range children {
			child := &children[i]
			if _, seen := visited[child.ID]; seen {
				return t.violation(op, root.OwnerID, "cycle detected at node %s below %s", child.ID, root.ID)
			}
			visited[child.ID] = struct{}{}
			queue = append(queue, child)
		}
	}
	return nil
}

func (t *Tree) violation(op string, ownerID int64, format string, args ...interface{}) error {
	err := invariantViolation(op, format, args...)
	metrics.IncInvariantViolation()
	t.logger.Error().Int64("owner_id", ownerID).Str("op", op).Msg(err.Msg)
	return err
}

func extensionOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	mediaType := mime.TypeByExtension(ext)
	if mediaType == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return mediaType
}
