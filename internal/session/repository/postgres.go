package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"authsessions/backend/internal/session/domain"
)

const refreshTokenColumns = `id, user_id, token, expires_at, device_info, ip_address, is_valid, last_used_at, created_at`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a ledger backed by the refresh_tokens table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts rec. Returns ErrDuplicateToken when the token unique index rejects it.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID,
		rec.UserID,
		rec.Token,
		rec.ExpiresAt,
		rec.DeviceInfo,
		rec.IPAddress,
		rec.IsValid,
		rec.LastUsedAt,
		rec.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateToken
	}
	return err
}

// FindByToken returns the valid record for token, or nil if none.
func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token = $1 AND is_valid`, token)
	return scanOne(row)
}

// FindAnyByToken returns the record for token whatever its state, or nil if none.
func (r *PostgresRepository) FindAnyByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token = $1`, token)
	return scanOne(row)
}

// Invalidate marks the record for token invalid. Zero rows affected is not an error.
func (r *PostgresRepository) Invalidate(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET is_valid = FALSE WHERE token = $1 AND is_valid`, token)
	return err
}

// InvalidateAllForUser marks every record owned by userID invalid.
func (r *PostgresRepository) InvalidateAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET is_valid = FALSE WHERE user_id = $1 AND is_valid`, userID)
	return err
}

// TouchLastUsed sets last_used_at on the record for token.
func (r *PostgresRepository) TouchLastUsed(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET last_used_at = $2 WHERE token = $1`, token, at)
	return err
}

// ListActiveSessions returns the user's valid, unexpired records, most recently used first.
func (r *PostgresRepository) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE user_id = $1 AND is_valid AND expires_at > $2
		ORDER BY last_used_at DESC, id DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.RefreshToken, 0)
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeExpiredOrInvalid deletes expired or invalidated records and returns how many went.
// Rows already removed by a concurrent sweep are simply not counted.
func (r *PostgresRepository) PurgeExpiredOrInvalid(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1 OR NOT is_valid`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*domain.RefreshToken, error) {
	rec, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func scanRow(s scanner) (*domain.RefreshToken, error) {
	var rec domain.RefreshToken
	err := s.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Token,
		&rec.ExpiresAt,
		&rec.DeviceInfo,
		&rec.IPAddress,
		&rec.IsValid,
		&rec.LastUsedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
