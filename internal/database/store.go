package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"netdisk/internal/disk"
)

type Store struct {
	pool *pgxpool.Pool
	*Queries
}

var _ disk.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:    pool,
		Queries: New(pool),
	}
}

func (s *Store) ExecTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	q := New(tx)
	err = fn(q)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// WithTx runs fn as one unit of work of the disk package.
func (s *Store) WithTx(ctx context.Context, fn func(disk.Tx) error) error {
	return s.ExecTx(ctx, func(q *Queries) error {
		return fn(q)
	})
}

func (s *Store) GetPool() *pgxpool.Pool {
	return s.pool
}
