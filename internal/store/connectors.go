// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comradarr/comradarr/internal/connector"
)

const connectorCols = `id, type, name, base_url, api_key_cipher, enabled, health_status,
	last_health_check_at, last_synced_at, throttle_profile_id, created_at, updated_at`

// CreateConnector inserts a connector and returns it with the assigned ID.
// Uniqueness of (type, name) and base_url is enforced by the schema.
func (s *Store) CreateConnector(ctx context.Context, c Connector) (Connector, error) {
	if err := validateConnector(c); err != nil {
		return Connector{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connectors (type, name, base_url, api_key_cipher, enabled, health_status, throttle_profile_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Type), c.Name, c.BaseURL, c.APIKeyCipher, boolInt(c.Enabled),
		string(HealthUnknown), nullInt(c.ThrottleProfileID), fmtTime(now), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return Connector{}, fmt.Errorf("%w: connector with same type+name or base URL exists", ErrConflict)
		}
		return Connector{}, fmt.Errorf("insert connector: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Connector{}, fmt.Errorf("connector id: %w", err)
	}
	return s.GetConnector(ctx, id)
}

// GetConnector returns the connector with the given ID.
func (s *Store) GetConnector(ctx context.Context, id int64) (Connector, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connectorCols+` FROM connectors WHERE id = ?`, id)
	return scanConnector(row)
}

// ListConnectors returns all connectors ordered by name.
func (s *Store) ListConnectors(ctx context.Context) ([]Connector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+connectorCols+` FROM connectors ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()
	return collectConnectors(rows)
}

// ListEnabledConnectors returns enabled connectors ordered by name.
func (s *Store) ListEnabledConnectors(ctx context.Context) ([]Connector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+connectorCols+` FROM connectors WHERE enabled = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list enabled connectors: %w", err)
	}
	defer rows.Close()
	return collectConnectors(rows)
}

// UpdateConnector persists mutable connector fields. The type is immutable
// after creation; changing it would orphan the mirrored content.
func (s *Store) UpdateConnector(ctx context.Context, c Connector) (Connector, error) {
	if err := validateConnector(c); err != nil {
		return Connector{}, err
	}
	existing, err := s.GetConnector(ctx, c.ID)
	if err != nil {
		return Connector{}, err
	}
	if existing.Type != c.Type {
		return Connector{}, fmt.Errorf("%w: connector type is immutable", ErrInvalidConfig)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE connectors
		SET name = ?, base_url = ?, api_key_cipher = ?, enabled = ?, throttle_profile_id = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.BaseURL, c.APIKeyCipher, boolInt(c.Enabled), nullInt(c.ThrottleProfileID),
		fmtTime(time.Now().UTC()), c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Connector{}, fmt.Errorf("%w: connector with same type+name or base URL exists", ErrConflict)
		}
		return Connector{}, fmt.Errorf("update connector: %w", err)
	}
	return s.GetConnector(ctx, c.ID)
}

// DeleteConnector removes a connector. Mirrored content, registry entries,
// pending commands and per-connector state cascade away with it.
func (s *Store) DeleteConnector(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connectors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConnectorHealth records the outcome of a health probe.
func (s *Store) SetConnectorHealth(ctx context.Context, id int64, status HealthStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connectors SET health_status = ?, last_health_check_at = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(at), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set connector health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConnectorSynced stamps a successful sync completion.
func (s *Store) TouchConnectorSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE connectors SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("touch connector synced: %w", err)
	}
	return nil
}

func validateConnector(c Connector) error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown connector type %q", ErrInvalidConfig, c.Type)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: connector name must not be empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: connector base URL must not be empty", ErrInvalidConfig)
	}
	return nil
}

func scanConnector(row *sql.Row) (Connector, error) {
	var (
		c                    Connector
		typ, health          string
		enabled              int
		lastCheck, lastSync  sql.NullString
		profileID            sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &typ, &c.Name, &c.BaseURL, &c.APIKeyCipher, &enabled, &health,
		&lastCheck, &lastSync, &profileID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Connector{}, ErrNotFound
	}
	if err != nil {
		return Connector{}, fmt.Errorf("scan connector: %w", err)
	}
	c.Type = connector.Type(typ)
	c.Enabled = enabled == 1
	c.HealthStatus = HealthStatus(health)
	c.LastHealthCheckAt = parseNullTime(lastCheck)
	c.LastSyncedAt = parseNullTime(lastSync)
	c.ThrottleProfileID = intPtr(profileID)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func collectConnectors(rows *sql.Rows) ([]Connector, error) {
	var out []Connector
	for rows.Next() {
		var (
			c                    Connector
			typ, health          string
			enabled              int
			lastCheck, lastSync  sql.NullString
			profileID            sql.NullInt64
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.ID, &typ, &c.Name, &c.BaseURL, &c.APIKeyCipher, &enabled, &health,
			&lastCheck, &lastSync, &profileID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan connector row: %w", err)
		}
		c.Type = connector.Type(typ)
		c.Enabled = enabled == 1
		c.HealthStatus = HealthStatus(health)
		c.LastHealthCheckAt = parseNullTime(lastCheck)
		c.LastSyncedAt = parseNullTime(lastSync)
		c.ThrottleProfileID = intPtr(profileID)
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
