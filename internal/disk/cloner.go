package disk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"netdisk/internal/metrics"
	"netdisk/internal/models"
)

// Cloner copies a subtree into another location, possibly of another owner.
// A clone is a sequence of small units of work: every file is reserved,
// created and committed on its own, and a failure anywhere deletes whatever
// the invocation created so far.
type Cloner struct {
	store  Store
	tree   *Tree
	ledger *Ledger
	logger zerolog.Logger
}

func NewCloner(store Store, tree *Tree, ledger *Ledger) *Cloner {
	return &Cloner{store: store, tree: tree, ledger: ledger, logger: zerolog.Nop()}
}

func (c *Cloner) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "cloner").Logger()
}

type cloneStep struct {
	src       models.Node
	dstParent *string
}

// Clone copies the subtree rooted at srcNodeID of srcOwner under dstParentID
// of dstOwner (nil for the root).
func (c *Cloner) Clone(ctx context.Context, srcOwner int64, srcNodeID string, dstOwner int64, dstParentID *string) (*models.CloneReport, error) {
	const op = "cloner.Clone"

	root, total, err := c.plan(ctx, op, srcOwner, srcNodeID, dstOwner, dstParentID)
	if err != nil {
		return nil, err
	}

	report := &models.CloneReport{}
	created := make(map[string]struct{})
	stack := []cloneStep{{src: *root, dstParent: dstParentID}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, c.rollback(ctx, dstOwner, report, err)
		}

		step := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := c.cloneNode(ctx, dstOwner, step)
		if err != nil {
			var qe *Error
			if errors.As(err, &qe) && qe.Code == CodeQuotaExceeded {
				err = quotaExceeded(op, total-report.BytesCommitted, qe.Available)
			}
			return nil, c.rollback(ctx, dstOwner, report, err)
		}
		created[node.ID] = struct{}{}
		if report.RootID == "" {
			report.RootID = node.ID
		}
		report.NodesCloned++
		report.BytesCommitted += node.SizeBytes

		if !step.src.IsDirectory() {
			continue
		}

		srcID := step.src.ID
		children, err := c.tree.ListChildren(ctx, srcOwner, &srcID, models.ListOptions{OrderBy: models.OrderByName})
		if err != nil {
			return nil, c.rollback(ctx, dstOwner, report, err)
		}
		// Pushed in reverse so children are cloned in listing order.
		dstID := node.ID
		for i := len(children) - 1; i >= 0; i-- {
			if _, own := created[children[i].ID]; own {
				continue
			}
			stack = append(stack, cloneStep{src: children[i], dstParent: &dstID})
		}
	}

	metrics.AddClonedNodes(report.NodesCloned)
	c.logger.Debug().
		Int64("src_owner", srcOwner).
		Int64("dst_owner", dstOwner).
		Str("root_id", report.RootID).
		Int("nodes", report.NodesCloned).
		Int64("bytes", report.BytesCommitted).
		Msg("subtree cloned")
	return report, nil
}

// plan resolves the source and destination and returns the byte size of the
// subtree. The clone is rejected up front when it cannot fit into the
// destination quota.
func (c *Cloner) plan(ctx context.Context, op string, srcOwner int64, srcNodeID string, dstOwner int64, dstParentID *string) (*models.Node, int64, error) {
	var root *models.Node
	var total int64
	err := c.store.WithTx(ctx, func(tx Tx) error {
		var err error
		root, err = tx.GetNodeByID(ctx, srcNodeID, srcOwner)
		if err != nil {
			return err
		}
		if root == nil {
			return newError(op, CodeNodeNotFound, fmt.Sprintf("node %s not found", srcNodeID))
		}

		if _, err := c.tree.directory(ctx, tx, op, dstOwner, dstParentID); err != nil {
			return err
		}

		err = c.tree.walk(ctx, tx, op, root, func(n *models.Node) error {
			total += n.SizeBytes
			return nil
		})
		if err != nil {
			return err
		}

		acct, err := tx.GetQuota(ctx, dstOwner)
		if err != nil {
			return err
		}
		if acct == nil {
			return newError(op, CodeAccountNotFound, fmt.Sprintf("no quota account for owner %d", dstOwner))
		}
		if total > acct.Available() {
			metrics.IncQuotaExceeded()
			return quotaExceeded(op, total, acct.Available())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return root, total, nil
}

func (c *Cloner) cloneNode(ctx context.Context, dstOwner int64, step cloneStep) (*models.Node, error) {
	p := NewNode{
		ParentID: step.dstParent,
		Kind:     step.src.Kind,
		Name:     step.src.Name,
	}
	if step.src.IsDirectory() {
		return c.tree.CreateNode(ctx, dstOwner, p)
	}

	p.ContentRef = step.src.ContentRef
	p.URL = step.src.URL
	p.SizeBytes = step.src.SizeBytes

	res, err := c.ledger.Reserve(ctx, dstOwner, step.src.SizeBytes)
	if err != nil {
		return nil, err
	}

	// The source owner's lock orders this insert against deletes of the
	// source, so garbage collection either sees the new reference or the
	// clone sees the source gone.
	var node *models.Node
	err = c.store.WithTx(ctx, func(tx Tx) error {
		if err := lockOwners(ctx, tx, step.src.OwnerID, dstOwner); err != nil {
			return err
		}
		src, err := tx.GetNodeByID(ctx, step.src.ID, step.src.OwnerID)
		if err != nil {
			return err
		}
		if src == nil || src.ContentRef != step.src.ContentRef {
			return newError("cloner.cloneNode", CodeNodeNotFound, fmt.Sprintf("node %s was removed during the clone", step.src.ID))
		}
		node, err = c.tree.With(tx).CreateNode(ctx, dstOwner, p)
		return err
	})
	if err != nil {
		if relErr := c.ledger.Release(context.WithoutCancel(ctx), res); relErr != nil {
			c.logger.Error().Err(relErr).Int64("owner_id", dstOwner).Msg("failed to release reservation")
		}
		return nil, err
	}
	if err := c.ledger.Commit(res); err != nil {
		return nil, err
	}
	return node, nil
}

// lockOwners takes both owner locks in ascending order.
func lockOwners(ctx context.Context, tx Tx, a, b int64) error {
	if a > b {
		a, b = b, a
	}
	if err := tx.LockOwner(ctx, a); err != nil {
		return err
	}
	if a == b {
		return nil
	}
	return tx.LockOwner(ctx, b)
}

// rollback deletes the partial clone. The cascade frees exactly the bytes the
// invocation committed. It runs even when ctx is already cancelled.
func (c *Cloner) rollback(ctx context.Context, dstOwner int64, report *models.CloneReport, cause error) error {
	metrics.IncCloneRollback()
	if report.RootID == "" {
		return cause
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := c.tree.DeleteNodes(ctx, dstOwner, []string{report.RootID}); err != nil {
		c.logger.Error().
			Err(err).
			AnErr("cause", cause).
			Int64("owner_id", dstOwner).
			Str("root_id", report.RootID).
			Int64("bytes_committed", report.BytesCommitted).
			Msg("failed to roll back partial clone")
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}

	c.logger.Warn().
		Err(cause).
		Int64("owner_id", dstOwner).
		Int("nodes_removed", report.NodesCloned).
		Msg("partial clone rolled back")
	return cause
}
