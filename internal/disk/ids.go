package disk

import (
	"context"
	"fmt"

	"github.com/jaevor/go-nanoid"
)

const (
	nodeIDLength     = 21
	shareTokenLength = 32
	maxIDAttempts    = 10
)

type idGenerator func() string

func newIDGenerator(length int) (idGenerator, error) {
	gen, err := nanoid.Standard(length)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nanoid generator: %w", err)
	}
	return gen, nil
}

func (g idGenerator) uniqueNodeID(ctx context.Context, tx Tx) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := g()
		exists, err := tx.NodeExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check for node existence: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique ID after %d attempts", maxIDAttempts)
}
