// ABOUTME: SQLite persistence for user preferences, display profiles and push device tokens
// ABOUTME: Unknown users get default preferences (messages allowed)

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetPreferences returns the stored preferences, or defaults for unknown users.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var allow int
	var updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT allow_messages, updated_at FROM user_preferences WHERE user_id = ?
	`, userID).Scan(&allow, &updatedAtStr)
	if err == sql.ErrNoRows {
		return &Preferences{UserID: userID, AllowMessages: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}

	prefs := &Preferences{UserID: userID, AllowMessages: allow != 0}
	prefs.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return prefs, nil
}

// SetPreferences saves or updates a user's preferences.
func (s *SQLiteStore) SetPreferences(ctx context.Context, prefs *Preferences) error {
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, allow_messages, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			allow_messages = excluded.allow_messages,
			updated_at = excluded.updated_at
	`, prefs.UserID, boolInt(prefs.AllowMessages), formatTime(prefs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}

	s.logger.Debug("saved preferences", "user_id", prefs.UserID, "allow_messages", prefs.AllowMessages)
	return nil
}

// GetProfile retrieves a display profile.
// Returns ErrNotFound if the user has none.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	var avatarURL, role sql.NullString
	var updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, avatar_url, role, updated_at
		FROM user_profiles WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.DisplayName, &avatarURL, &role, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	p.AvatarURL = avatarURL.String
	p.Role = role.String
	p.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// UpsertProfile saves or replaces a display profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *Profile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, display_name, avatar_url, role, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			role = excluded.role,
			updated_at = excluded.updated_at
	`,
		profile.UserID,
		profile.DisplayName,
		nullString(profile.AvatarURL),
		nullString(profile.Role),
		formatTime(profile.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}

	s.logger.Debug("saved profile", "user_id", profile.UserID)
	return nil
}

// RegisterDevice saves a push token. Re-registering a token moves it to the new user.
func (s *SQLiteStore) RegisterDevice(ctx context.Context, device *Device) error {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (token, user_id, platform, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform
	`, device.Token, device.UserID, device.Platform, formatTime(device.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving device: %w", err)
	}

	s.logger.Debug("registered device", "user_id", device.UserID, "platform", device.Platform)
	return nil
}

// ListDevices returns a user's push tokens, oldest first.
func (s *SQLiteStore) ListDevices(ctx context.Context, userID string) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, user_id, platform, created_at
		FROM device_tokens WHERE user_id = ?
		ORDER BY created_at, token
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var d Device
		var createdAtStr string
		if err := rows.Scan(&d.Token, &d.UserID, &d.Platform, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// DeleteDevice removes a push token.
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
