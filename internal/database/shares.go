package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"netdisk/internal/models"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (q *Queries) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	query := `
		INSERT INTO share_links (token, owner_id, node_id, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.db.Exec(ctx, query, link.Token, link.OwnerID, link.NodeID, link.Revoked, link.CreatedAt)
	return err
}

func (q *Queries) GetShareLink(ctx context.Context, token string) (*models.ShareLink, error) {
	query := `SELECT token, owner_id, node_id, revoked, created_at FROM share_links WHERE token = $1`

	var link models.ShareLink
	err := q.db.QueryRow(ctx, query, token).Scan(
		&link.Token,
		&link.OwnerID,
		&link.NodeID,
		&link.Revoked,
		&link.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

// ListShareLinks returns the owner's links, newest first, with the shared
// node when it still exists.
func (q *Queries) ListShareLinks(ctx context.Context, ownerID int64) ([]models.SharedNode, error) {
	query := `
		SELECT
			s.token, s.owner_id, s.node_id, s.revoked, s.created_at,
			n.id, n.owner_id, n.parent_id, n.name, n.kind, n.extension,
			n.content_ref, n.url, n.size_bytes, n.created_at, n.modified_at
		FROM share_links s
		LEFT JOIN nodes n ON n.id = s.node_id AND n.owner_id = s.owner_id
		WHERE s.owner_id = $1
		ORDER BY s.created_at DESC, s.token
	`
	rows, err := q.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []models.SharedNode{}
	for rows.Next() {
		var sn models.SharedNode
		var (
			id, name, kind, extension, contentRef, url *string
			nodeOwner, size                            *int64
			parentID                                   *string
			created, modified                          pgtype.Timestamptz
		)
		err := rows.Scan(
			&sn.Token, &sn.OwnerID, &sn.NodeID, &sn.Revoked, &sn.CreatedAt,
			&id, &nodeOwner, &parentID, &name, &kind, &extension,
			&contentRef, &url, &size, &created, &modified,
		)
		if err != nil {
			return nil, err
		}
		if id != nil {
			sn.Node = &models.Node{
				ID:         *id,
				OwnerID:    *nodeOwner,
				ParentID:   parentID,
				Name:       *name,
				Kind:       *kind,
				Extension:  *extension,
				ContentRef: *contentRef,
				URL:        *url,
				SizeBytes:  *size,
				CreatedAt:  created.Time,
				ModifiedAt: modified.Time,
			}
		}
		links = append(links, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// RevokeShareLink marks the owner's link revoked and reports whether it exists.
func (q *Queries) RevokeShareLink(ctx context.Context, token string, ownerID int64) (bool, error) {
	query := `UPDATE share_links SET revoked = TRUE WHERE token = $1 AND owner_id = $2`
	res, err := q.db.Exec(ctx, query, token, ownerID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}
