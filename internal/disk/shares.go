package disk

import (
	"context"
	"fmt"
	"time"

	"netdisk/internal/models"
)

// Shares issues and resolves public share links.
type Shares struct {
	runner
	token idGenerator
}

func NewShares(store Store) (*Shares, error) {
	gen, err := newIDGenerator(shareTokenLength)
	if err != nil {
		return nil, err
	}
	return &Shares{runner: runner{store: store}, token: gen}, nil
}

func (s *Shares) With(tx Tx) *Shares {
	bound := *s
	bound.runner = s.bind(tx)
	return &bound
}

func (s *Shares) Create(ctx context.Context, ownerID int64, nodeID string) (*models.ShareLink, error) {
	var link *models.ShareLink
	err := s.run(ctx, func(tx Tx) error {
		node, err := tx.GetNodeByID(ctx, nodeID, ownerID)
		if err != nil {
			return err
		}
		if node == nil {
			return newError("shares.Create", CodeNodeNotFound, fmt.Sprintf("node %s not found", nodeID))
		}

		link = &models.ShareLink{
			Token:     s.token(),
			OwnerID:   ownerID,
			NodeID:    node.ID,
			CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		return tx.CreateShareLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Resolve returns the live link for token.
func (s *Shares) Resolve(ctx context.Context, token string) (*models.ShareLink, error) {
	const op = "shares.Resolve"
	var link *models.ShareLink
	err := s.run(ctx, func(tx Tx) error {
		var err error
		link, err = tx.GetShareLink(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, newError(op, CodeShareNotFound, "share link not found")
	}
	if link.Revoked {
		return nil, newError(op, CodeShareRevoked, "share link has been revoked")
	}
	return link, nil
}

func (s *Shares) List(ctx context.Context, ownerID int64) ([]models.SharedNode, error) {
	var links []models.SharedNode
	err := s.run(ctx, func(tx Tx) error {
		var err error
		links, err = tx.ListShareLinks(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []models.SharedNode{}
	}
	return links, nil
}

// Revoke marks the owner's link as revoked. Revoking twice succeeds.
func (s *Shares) Revoke(ctx context.Context, ownerID int64, token string) error {
	return s.run(ctx, func(tx Tx) error {
		found, err := tx.RevokeShareLink(ctx, token, ownerID)
		if err != nil {
			return err
		}
		if !found {
			return newError("shares.Revoke", CodeShareNotFound, "share link not found")
		}
		return nil
	})
}
