package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateUser returns an existing user by email or creates a new one.
func (db *DB) GetOrCreateUser(ctx context.Context, email, name string) (*User, error) {
	user, err := db.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	user = &User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err = db.conn.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail returns a user by their email address.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, name, created_at, updated_at FROM users WHERE email = ?`
	return scanUser(db.conn.QueryRowContext(ctx, query, email))
}

// GetUserByID returns a user by their ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`
	return scanUser(db.conn.QueryRowContext(ctx, query, id))
}

func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetCredential returns the stored Google Calendar credential for a user.
// A user who never connected gets a zero-value, disconnected credential.
func (db *DB) GetCredential(ctx context.Context, userID string) (*StoredCredential, error) {
	query := `SELECT gcal_connected, gcal_access_token, gcal_refresh_token, gcal_token_expiry, gcal_email
		FROM users WHERE id = ?`

	var (
		cred    StoredCredential
		access  sql.NullString
		refresh sql.NullString
		expiry  sql.NullTime
		email   sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(&cred.Connected, &access, &refresh, &expiry, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.AccessTokenCipher = access.String
	if refresh.Valid {
		cred.RefreshTokenCipher = &refresh.String
	}
	if expiry.Valid {
		cred.Expiry = expiry.Time
	}
	if email.Valid {
		cred.RemoteAccountEmail = &email.String
	}

	return &cred, nil
}

// SaveCredential replaces the full credential for a user.
func (db *DB) SaveCredential(ctx context.Context, userID string, cred *StoredCredential) error {
	query := `UPDATE users SET
		gcal_connected = ?, gcal_access_token = ?, gcal_refresh_token = ?,
		gcal_token_expiry = ?, gcal_email = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query,
		cred.Connected, nullString(cred.AccessTokenCipher), cred.RefreshTokenCipher,
		cred.Expiry.UTC(), cred.RemoteAccountEmail, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return requireRow(result)
}

// UpdateAccessToken stores a refreshed access token and its expiry.
// The refresh token and connection flag are left untouched.
func (db *DB) UpdateAccessToken(ctx context.Context, userID, accessTokenCipher string, expiry time.Time) error {
	query := `UPDATE users SET gcal_access_token = ?, gcal_token_expiry = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query, accessTokenCipher, expiry.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return requireRow(result)
}

// MarkDisconnected flips the connection flag off without clearing tokens.
func (db *DB) MarkDisconnected(ctx context.Context, userID string) error {
	query := `UPDATE users SET gcal_connected = 0, updated_at = ? WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark credential disconnected: %w", err)
	}
	return requireRow(result)
}

// ClearCredential resets the credential to its empty, disconnected state.
func (db *DB) ClearCredential(ctx context.Context, userID string) error {
	query := `UPDATE users SET
		gcal_connected = 0, gcal_access_token = NULL, gcal_refresh_token = NULL,
		gcal_token_expiry = NULL, gcal_email = NULL, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
