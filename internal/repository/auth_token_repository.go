package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// AuthTokenRepository manages single-use reset and verification tokens.
type AuthTokenRepository interface {
	Create(ctx context.Context, token *domain.AuthToken) error
	GetByToken(ctx context.Context, purpose domain.TokenPurpose, token string) (*domain.AuthToken, error)
	MarkUsed(ctx context.Context, id string) error
}

type authTokenRepository struct {
	pool *pgxpool.Pool
}

// NewAuthTokenRepository constructs repository.
func NewAuthTokenRepository(pool *pgxpool.Pool) AuthTokenRepository {
	return &authTokenRepository{pool: pool}
}

func (r *authTokenRepository) Create(ctx context.Context, token *domain.AuthToken) error {
	const query = `
        INSERT INTO auth_tokens (user_id, purpose, token, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		token.UserID,
		token.Purpose,
		token.Token,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

func (r *authTokenRepository) GetByToken(ctx context.Context, purpose domain.TokenPurpose, tokenStr string) (*domain.AuthToken, error) {
	const query = `
        SELECT id, user_id, purpose, token, expires_at, used_at, created_at
        FROM auth_tokens WHERE token=$1 AND purpose=$2`
	var token domain.AuthToken
	if err := r.pool.QueryRow(ctx, query, tokenStr, purpose).Scan(
		&token.ID,
		&token.UserID,
		&token.Purpose,
		&token.Token,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

// MarkUsed consumes the token. A token already used yields pgx.ErrNoRows.
func (r *authTokenRepository) MarkUsed(ctx context.Context, id string) error {
	const query = `
        UPDATE auth_tokens SET used_at=NOW()
        WHERE id=$1 AND used_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
