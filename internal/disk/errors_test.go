package disk_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"netdisk/internal/disk"
	"netdisk/internal/memstore"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	store := memstore.New()
	store.CreateAccount(1, 10)
	ledger := disk.NewLedger(store)

	_, err := ledger.Reserve(context.Background(), 1, 25)
	require.ErrorIs(t, err, disk.ErrQuotaExceeded)
	require.NotErrorIs(t, err, disk.ErrNodeNotFound)
	require.Equal(t, disk.CodeQuotaExceeded, disk.CodeOf(err))

	var derr *disk.Error
	require.True(t, errors.As(err, &derr))
	require.Equal(t, int64(25), derr.Requested)
	require.Equal(t, int64(10), derr.Available)
	require.Equal(t, int64(15), derr.Shortfall())
	require.Contains(t, err.Error(), "short by 15")

	wrapped := fmt.Errorf("handler: %w", err)
	require.ErrorIs(t, wrapped, disk.ErrQuotaExceeded)
	require.Equal(t, disk.CodeQuotaExceeded, disk.CodeOf(wrapped))
}

func TestCodeOfForeignError(t *testing.T) {
	require.Equal(t, disk.CodeInternal, disk.CodeOf(errors.New("plain")))
}

func TestErrorMessageFallsBackToCode(t *testing.T) {
	err := &disk.Error{Op: "tree.GetNode", Code: disk.CodeNodeNotFound}
	require.Equal(t, "tree.GetNode: node not found", err.Error())
}
