package disk_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"netdisk/internal/disk"
	"netdisk/internal/memstore"
)

func TestReserveCommitRelease(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 1000)
	ledger := disk.NewLedger(store)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, 1, 400)
	require.NoError(t, err)
	require.True(t, res.Pending())

	acct, err := ledger.Usage(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(400), acct.UsedBytes)
	require.Equal(t, int64(600), acct.Available())

	require.NoError(t, ledger.Commit(res))
	require.True(t, res.Committed())

	err = ledger.Release(ctx, res)
	require.ErrorIs(t, err, disk.ErrInvariantViolation)
	err = ledger.Commit(res)
	require.ErrorIs(t, err, disk.ErrInvariantViolation)

	other, err := ledger.Reserve(ctx, 1, 100)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, other))
	require.NoError(t, ledger.Release(ctx, other), "second release is a no-op")
	require.NoError(t, ledger.Release(ctx, nil))

	acct, err = ledger.Usage(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(400), acct.UsedBytes)
}

func TestReserveBeyondQuotaLeavesUsageUnchanged(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 100)
	ledger := disk.NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 1, 60)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, 1, 41)
	require.ErrorIs(t, err, disk.ErrQuotaExceeded)

	acct, _ := store.Account(1)
	require.Equal(t, int64(60), acct.UsedBytes)

	_, err = ledger.Reserve(ctx, 1, 40)
	require.NoError(t, err, "filling the quota exactly is allowed")
}

func TestReserveZeroAndNegative(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 0)
	ledger := disk.NewLedger(store)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, 1, 0)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(res))

	_, err = ledger.Reserve(ctx, 1, -5)
	require.ErrorIs(t, err, disk.ErrInvariantViolation)
}

func TestReserveUnknownAccount(t *testing.T) {
	ledger := disk.NewLedger(memstore.New())

	_, err := ledger.Reserve(context.Background(), 42, 1)
	require.ErrorIs(t, err, disk.ErrAccountNotFound)

	_, err = ledger.Usage(context.Background(), 42)
	require.ErrorIs(t, err, disk.ErrAccountNotFound)
}

func TestFreeUnderflowIsInvariantViolation(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 100)
	ledger := disk.NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 1, 30)
	require.NoError(t, err)

	err = ledger.Free(ctx, 1, 31)
	require.ErrorIs(t, err, disk.ErrInvariantViolation)

	acct, _ := store.Account(1)
	require.Equal(t, int64(30), acct.UsedBytes, "underflow must not be clamped")

	require.ErrorIs(t, ledger.Free(ctx, 1, -1), disk.ErrInvariantViolation)
	require.NoError(t, ledger.Free(ctx, 1, 0))
	require.NoError(t, ledger.Free(ctx, 1, 30))

	acct, _ = store.Account(1)
	require.Zero(t, acct.UsedBytes)
}

func TestConcurrentReservesNeverOvercommit(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 500)
	ledger := disk.NewLedger(store)

	var wg sync.WaitGroup
	var granted atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(context.Background(), 1, 10); err == nil {
				granted.Add(1)
			} else {
				require.ErrorIs(t, err, disk.ErrQuotaExceeded)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(50), granted.Load())
	acct, _ := store.Account(1)
	require.Equal(t, int64(500), acct.UsedBytes)
}

func TestReserveRetriesOnConflict(t *testing.T) {
	inner := memstore.New()
	inner.CreateAccount(1, 100)
	store := &flakyStore{inner: inner}
	store.conflicts.Store(3)
	ledger := disk.NewLedger(store)

	_, err := ledger.Reserve(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Zero(t, store.conflicts.Load())

	acct, _ := inner.Account(1)
	require.Equal(t, int64(10), acct.UsedBytes)
}

func TestReserveGivesUpAfterPersistentConflicts(t *testing.T) {
	inner := memstore.New()
	inner.CreateAccount(1, 100)
	store := &flakyStore{inner: inner}
	store.conflicts.Store(1000)
	ledger := disk.NewLedger(store)

	_, err := ledger.Reserve(context.Background(), 1, 10)
	require.Error(t, err)
	require.Equal(t, disk.CodeInternal, disk.CodeOf(err))

	acct, _ := inner.Account(1)
	require.Zero(t, acct.UsedBytes)
}

func TestLedgerJoinsOuterUnitOfWork(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 100)
	ledger := disk.NewLedger(store)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx disk.Tx) error {
		if _, err := ledger.With(tx).Reserve(ctx, 1, 70); err != nil {
			return err
		}
		return errInjected
	})
	require.ErrorIs(t, err, errInjected)

	acct, _ := store.Account(1)
	require.Zero(t, acct.UsedBytes, "reservation must roll back with the outer unit of work")
}
