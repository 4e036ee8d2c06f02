package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AuthUser is one registered owner.
type AuthUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const authUserColumns = "id, username, password_hash, disabled, created_at, updated_at"

// CountEnabledUsers returns the number of non-disabled users.
func (s *Store) CountEnabledUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE disabled = 0").Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CreateUser registers one owner. A taken username yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, now time.Time) (*AuthUser, error) {
	username = normalizeAuthUsername(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, fmt.Errorf("password hash is required")
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, disabled, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
	`, username, passwordHash, dbFormatTime(now), dbFormatTime(now))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("username %q: %w", username, ErrConflict)
		}
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &AuthUser{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Disabled:     false,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// GetUserByUsername returns a user by normalized username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*AuthUser, error) {
	username = normalizeAuthUsername(username)
	if username == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+authUserColumns+` FROM users WHERE username = ? LIMIT 1`, username)
	return scanAuthUser(row)
}

// GetUserByID returns a user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*AuthUser, error) {
	if id <= 0 {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+authUserColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	return scanAuthUser(row)
}

// ListUsers returns all users sorted by username.
func (s *Store) ListUsers(ctx context.Context) ([]AuthUser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+authUserColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]AuthUser, 0)
	for rows.Next() {
		user, err := scanAuthUser(rows)
		if err != nil {
			return nil, err
		}
		if user == nil {
			continue
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// SetUserDisabled updates one user's disabled state by username. Disabling
// also revokes every open session of that user.
func (s *Store) SetUserDisabled(ctx context.Context, username string, disabled bool, now time.Time) (user *AuthUser, err error) {
	username = normalizeAuthUsername(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	disabledInt := 0
	if disabled {
		disabledInt = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET disabled = ?, updated_at = ?
		WHERE username = ?
	`, disabledInt, dbFormatTime(now), username)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		err = tx.Rollback()
		return nil, err
	}

	if disabled {
		if _, err = tx.ExecContext(ctx, `
			UPDATE sessions
			SET revoked_at = ?
			WHERE revoked_at IS NULL
			  AND user_id = (SELECT id FROM users WHERE username = ?)
		`, dbFormatTime(now), username); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetUserByUsername(ctx, username)
}

// CreateSession records an issued token id so it can be revoked later.
func (s *Store) CreateSession(ctx context.Context, sessionID string, userID int64, expiresAt, createdAt time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if userID <= 0 {
		return fmt.Errorf("user id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, revoked_at, created_at)
		VALUES (?, ?, ?, NULL, ?)
	`, sessionID, userID, dbFormatTime(expiresAt), dbFormatTime(createdAt))
	return err
}

// SessionActive reports whether sessionID belongs to userID, is neither
// expired nor revoked, and its user is enabled.
func (s *Store) SessionActive(ctx context.Context, sessionID string, userID int64, now time.Time) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
		  AND s.user_id = ?
		  AND s.revoked_at IS NULL
		  AND s.expires_at > ?
		  AND u.disabled = 0
		LIMIT 1
	`, sessionID, userID, dbFormatTime(now)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RevokeSession marks one session revoked.
func (s *Store) RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = ?
		WHERE id = ?
		  AND revoked_at IS NULL
	`, dbFormatTime(revokedAt), sessionID)
	return err
}

// PurgeExpiredSessions deletes sessions that expired before now.
func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, dbFormatTime(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanAuthUser(scanner interface {
	Scan(dest ...any) error
}) (*AuthUser, error) {
	var user AuthUser
	var disabled int
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(&user.ID, &user.Username, &user.PasswordHash, &disabled, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	user.Disabled = disabled != 0
	parsedCreated, err := dbParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	parsedUpdated, err := dbParseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = parsedCreated
	user.UpdatedAt = parsedUpdated
	return &user, nil
}

func normalizeAuthUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}
