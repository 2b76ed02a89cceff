package database

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"netdisk/internal/auth"
)

// createTestUser inserts a user with the given quota and returns its id.
func createTestUser(t *testing.T, username string, quota int64) int64 {
	hashedPassword, err := auth.HashPassword("secretpassword")
	require.NoError(t, err)

	user, err := testStore.CreateUser(context.Background(), CreateUserParams{
		Username:     username,
		PasswordHash: hashedPassword,
		QuotaBytes:   quota,
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	return user.ID
}

func TestCreateAndGetUser(t *testing.T) {
	displayName := "Test User"
	user, err := testStore.CreateUser(context.Background(), CreateUserParams{
		Username:     "testuser",
		PasswordHash: "hash",
		DisplayName:  &displayName,
		QuotaBytes:   1000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), user.StorageQuotaBytes)
	require.Zero(t, user.StorageUsedBytes)

	foundUser, err := testStore.GetUserByUsername(context.Background(), "testuser")
	require.NoError(t, err)
	require.NotNil(t, foundUser)
	require.Equal(t, user.ID, foundUser.ID)
	require.Equal(t, "Test User", *foundUser.DisplayName)

	byID, err := testStore.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "testuser", byID.Username)

	_, err = testStore.CreateUser(context.Background(), CreateUserParams{Username: "testuser", PasswordHash: "x", QuotaBytes: 1})
	require.ErrorIs(t, err, ErrUsernameTaken)

	nonExistentUser, err := testStore.GetUserByUsername(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.Nil(t, nonExistentUser)
}

func TestGetQuota(t *testing.T) {
	userID := createTestUser(t, "quota_get", 500)

	acct, err := testStore.GetQuota(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(500), acct.TotalBytes)
	require.Zero(t, acct.UsedBytes)

	missing, err := testStore.GetQuota(context.Background(), -1)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSwapUsedBytes(t *testing.T) {
	userID := createTestUser(t, "quota_swap", 100)
	ctx := context.Background()

	swapped, err := testStore.SwapUsedBytes(ctx, userID, 0, 100)
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = testStore.SwapUsedBytes(ctx, userID, 0, 50)
	require.NoError(t, err)
	require.False(t, swapped, "stale expected value must not match")

	swapped, err = testStore.SwapUsedBytes(ctx, userID, 100, 101)
	require.NoError(t, err)
	require.False(t, swapped, "growth past the quota must not match")

	swapped, err = testStore.SwapUsedBytes(ctx, userID, 100, 30)
	require.NoError(t, err)
	require.True(t, swapped)

	_, err = testStore.SwapUsedBytes(ctx, userID, 30, -1)
	require.Error(t, err, "the check constraint rejects negative usage")

	acct, err := testStore.GetQuota(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(30), acct.UsedBytes)
}

func TestConcurrentSwapsOnlyOneWins(t *testing.T) {
	userID := createTestUser(t, "quota_race", 1000)

	var wg sync.WaitGroup
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(next int64) {
			defer wg.Done()
			swapped, err := testStore.SwapUsedBytes(context.Background(), userID, 0, next)
			require.NoError(t, err)
			results <- swapped
		}(int64(i + 1))
	}
	wg.Wait()
	close(results)

	wins := 0
	for swapped := range results {
		if swapped {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}
