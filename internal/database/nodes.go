package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"netdisk/internal/models"
)

const nodeColumns = `id, owner_id, parent_id, name, kind, extension, content_ref, url, size_bytes, created_at, modified_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*models.Node, error) {
	var node models.Node
	err := row.Scan(
		&node.ID,
		&node.OwnerID,
		&node.ParentID,
		&node.Name,
		&node.Kind,
		&node.Extension,
		&node.ContentRef,
		&node.URL,
		&node.SizeBytes,
		&node.CreatedAt,
		&node.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func collectNodes(rows pgx.Rows) ([]models.Node, error) {
	defer rows.Close()

	nodes := []models.Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// LockOwner takes a transaction-scoped advisory lock keyed by the owner id.
func (q *Queries) LockOwner(ctx context.Context, ownerID int64) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ownerID)
	return err
}

func (q *Queries) CreateNode(ctx context.Context, node *models.Node) error {
	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.db.Exec(ctx, query,
		node.ID,
		node.OwnerID,
		node.ParentID,
		node.Name,
		node.Kind,
		node.Extension,
		node.ContentRef,
		node.URL,
		node.SizeBytes,
		node.CreatedAt,
		node.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
	}
	return nil
}

func (q *Queries) NodeExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM nodes WHERE id = $1)"
	err := q.db.QueryRow(ctx, query, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (q *Queries) GetNodeByID(ctx context.Context, id string, ownerID int64) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1 AND owner_id = $2`

	node, err := scanNode(q.db.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return node, nil
}

// GetNodesByParentID lists direct children, directories first. Names compare
// byte-wise so the order does not depend on the database locale.
func (q *Queries) GetNodesByParentID(ctx context.Context, ownerID int64, parentID *string, opts models.ListOptions) ([]models.Node, error) {
	opts = opts.Normalize()

	var b strings.Builder
	b.WriteString(`SELECT ` + nodeColumns + ` FROM nodes WHERE owner_id = $1 AND parent_id IS NOT DISTINCT FROM $2`)
	args := []interface{}{ownerID, parentID}

	if opts.Kind != "" {
		args = append(args, opts.Kind)
		fmt.Fprintf(&b, " AND kind = $%d", len(args))
	}
	if opts.ExtPrefix != "" {
		args = append(args, opts.ExtPrefix)
		fmt.Fprintf(&b, " AND starts_with(extension, $%d)", len(args))
	}

	b.WriteString(" ORDER BY CASE WHEN kind = 'directory' THEN 0 ELSE 1 END, ")
	if opts.OrderBy == models.OrderByCreatedAt {
		b.WriteString("created_at DESC")
	} else {
		b.WriteString(`name COLLATE "C" DESC`)
	}
	b.WriteString(", id ASC")

	rows, err := q.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

func (q *Queries) RenameNode(ctx context.Context, id string, ownerID int64, newName string) (*models.Node, error) {
	query := `
		UPDATE nodes
		SET name = $3, modified_at = date_trunc('microseconds', NOW())
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + nodeColumns

	node, err := scanNode(q.db.QueryRow(ctx, query, id, ownerID, newName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return node, nil
}

// DeleteNodes removes the given nodes of ownerID in one statement. The caller
// passes complete subtrees so the parent foreign key holds at commit.
func (q *Queries) DeleteNodes(ctx context.Context, ownerID int64, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := q.db.Exec(ctx, `DELETE FROM nodes WHERE owner_id = $1 AND id = ANY($2)`, ownerID, ids)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (q *Queries) SearchFiles(ctx context.Context, ownerID int64, keyword string) ([]models.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE owner_id = $1 AND kind = 'file' AND strpos(name, $2) > 0
		ORDER BY name COLLATE "C", id
	`
	rows, err := q.db.Query(ctx, query, ownerID, keyword)
	if err != nil {
		return nil, err
	}
	return collectNodes(rows)
}

func (q *Queries) CountContentRefs(ctx context.Context, contentRef string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM nodes WHERE content_ref = $1`, contentRef).Scan(&count)
	return count, err
}
