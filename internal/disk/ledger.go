package disk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"netdisk/internal/metrics"
	"netdisk/internal/models"
)

const (
	reservationPending int32 = iota
	reservationCommitted
	reservationReleased
)

// Reservation is provisional quota taken by Ledger.Reserve. The bytes are
// already counted as used; Commit keeps them, Release gives them back.
type Reservation struct {
	ID      uuid.UUID
	OwnerID int64
	Bytes   int64
	state   atomic.Int32
}

func (r *Reservation) Pending() bool {
	return r.state.Load() == reservationPending
}

func (r *Reservation) Committed() bool {
	return r.state.Load() == reservationCommitted
}

var errUsedBytesChanged = errors.New("used bytes changed concurrently")

// Ledger is the only writer of an owner's used bytes. Every update is a
// compare-and-swap on the stored value, retried with backoff on conflict.
type Ledger struct {
	runner
	logger     zerolog.Logger
	maxRetries uint64
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		runner:     runner{store: store},
		logger:     zerolog.Nop(),
		maxRetries: 10,
	}
}

func (l *Ledger) SetLogger(logger zerolog.Logger) {
	l.logger = logger.With().Str("component", "ledger").Logger()
}

// With returns a ledger whose updates join tx instead of running on their own.
func (l *Ledger) With(tx Tx) *Ledger {
	bound := *l
	bound.runner = l.bind(tx)
	return &bound
}

func (l *Ledger) Reserve(ctx context.Context, ownerID int64, bytes int64) (*Reservation, error) {
	const op = "ledger.Reserve"
	if bytes < 0 {
		return nil, invariantViolation(op, "negative reservation of %d bytes", bytes)
	}

	if err := l.adjust(ctx, op, ownerID, bytes); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.IncQuotaExceeded()
		}
		return nil, err
	}
	metrics.AddReservedBytes(bytes)

	return &Reservation{ID: uuid.New(), OwnerID: ownerID, Bytes: bytes}, nil
}

func (l *Ledger) Commit(r *Reservation) error {
	if !r.state.CompareAndSwap(reservationPending, reservationCommitted) {
		return invariantViolation("ledger.Commit", "reservation %s is not pending", r.ID)
	}
	return nil
}

// Release returns the bytes of a pending reservation. Releasing twice is a no-op.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	const op = "ledger.Release"
	if r == nil {
		return nil
	}
	if !r.state.CompareAndSwap(reservationPending, reservationReleased) {
		if r.state.Load() == reservationReleased {
			return nil
		}
		return invariantViolation(op, "reservation %s is already committed", r.ID)
	}

	if err := l.adjust(ctx, op, r.OwnerID, -r.Bytes); err != nil {
		r.state.Store(reservationPending)
		return err
	}
	metrics.AddFreedBytes(r.Bytes)
	return nil
}

// Free returns bytes of removed nodes. A result below zero means the ledger
// drifted from the tree; it is reported and nothing is written.
func (l *Ledger) Free(ctx context.Context, ownerID int64, bytes int64) error {
	const op = "ledger.Free"
	if bytes < 0 {
		return invariantViolation(op, "negative free of %d bytes", bytes)
	}
	if bytes == 0 {
		return nil
	}

	if err := l.adjust(ctx, op, ownerID, -bytes); err != nil {
		return err
	}
	metrics.AddFreedBytes(bytes)
	return nil
}

func (l *Ledger) Usage(ctx context.Context, ownerID int64) (*models.QuotaAccount, error) {
	var acct *models.QuotaAccount
	err := l.run(ctx, func(tx Tx) error {
		var err error
		acct, err = tx.GetQuota(ctx, ownerID)
		if err != nil {
			return err
		}
		if acct == nil {
			return newError("ledger.Usage", CodeAccountNotFound, fmt.Sprintf("no quota account for owner %d", ownerID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *Ledger) adjust(ctx context.Context, op string, ownerID int64, delta int64) error {
	attempt := func() error {
		err := l.run(ctx, func(tx Tx) error {
			acct, err := tx.GetQuota(ctx, ownerID)
			if err != nil {
				return err
			}
			if acct == nil {
				return newError(op, CodeAccountNotFound, fmt.Sprintf("no quota account for owner %d", ownerID))
			}

			next := acct.UsedBytes + delta
			if delta > 0 && next > acct.TotalBytes {
				return quotaExceeded(op, delta, acct.Available())
			}
			if next < 0 {
				return invariantViolation(op, "used bytes of owner %d would drop to %d", ownerID, next)
			}

			swapped, err := tx.SwapUsedBytes(ctx, ownerID, acct.UsedBytes, next)
			if err != nil {
				return err
			}
			if !swapped {
				return errUsedBytesChanged
			}
			return nil
		})
		if err == nil || errors.Is(err, errUsedBytesChanged) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, l.maxRetries), ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errUsedBytesChanged):
		return wrapError(op, CodeInternal, "quota update kept conflicting", err)
	case errors.Is(err, ErrInvariantViolation):
		metrics.IncInvariantViolation()
		l.logger.Error().Err(err).Int64("owner_id", ownerID).Int64("delta", delta).Msg("quota invariant violated")
	}
	return err
}
