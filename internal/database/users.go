package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"netdisk/internal/models"
)

var ErrUsernameTaken = errors.New("username is already taken")

const userColumns = `id, username, password_hash, display_name, created_at, storage_quota_bytes, storage_used_bytes`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.CreatedAt,
		&user.StorageQuotaBytes,
		&user.StorageUsedBytes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

type CreateUserParams struct {
	Username     string
	PasswordHash string
	DisplayName  *string
	QuotaBytes   int64
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (*models.User, error) {
	query := `
		INSERT INTO users (username, password_hash, display_name, storage_quota_bytes)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	user, err := scanUser(q.db.QueryRow(ctx, query, arg.Username, arg.PasswordHash, arg.DisplayName, arg.QuotaBytes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *Queries) GetQuota(ctx context.Context, ownerID int64) (*models.QuotaAccount, error) {
	query := `SELECT id, storage_quota_bytes, storage_used_bytes FROM users WHERE id = $1`

	var acct models.QuotaAccount
	err := q.db.QueryRow(ctx, query, ownerID).Scan(&acct.OwnerID, &acct.TotalBytes, &acct.UsedBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &acct, nil
}

// SwapUsedBytes is a compare-and-swap on storage_used_bytes. Growth beyond the
// quota never matches, shrinking always does.
func (q *Queries) SwapUsedBytes(ctx context.Context, ownerID int64, expected, next int64) (bool, error) {
	query := `
		UPDATE users
		SET storage_used_bytes = $3
		WHERE id = $1
		  AND storage_used_bytes = $2
		  AND ($3 <= $2 OR $3 <= storage_quota_bytes)
	`
	res, err := q.db.Exec(ctx, query, ownerID, expected, next)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}
