package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/internal/entity"
)

const installationColumns = `id, team_id, provider, webhook_url, access_token, workspace_name, enabled, settings, created_at, updated_at`

func scanInstallation(row interface{ Scan(...any) error }) (*integration.Installation, error) {
	var (
		instID, teamID, provider         string
		webhookURL, token, workspaceName string
		enabled                          bool
		settingsJSON                     string
		createdAt, updatedAt             string
	)
	if err := row.Scan(&instID, &teamID, &provider, &webhookURL, &token, &workspaceName,
		&enabled, &settingsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsedID, err := id.ParseInstallationID(instID)
	if err != nil {
		return nil, fmt.Errorf("parse installation ID %q: %w", instID, err)
	}
	var settings integration.Settings
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &integration.Installation{
		Entity:   entity.Entity{CreatedAt: created, UpdatedAt: updated},
		ID:       parsedID,
		TeamID:   teamID,
		Provider: integration.Provider(provider),
		Credentials: integration.Credentials{
			WebhookURL:    webhookURL,
			AccessToken:   token,
			WorkspaceName: workspaceName,
		},
		Enabled:  enabled,
		Settings: settings,
	}, nil
}

// CreateInstallation persists a new installation.
func (s *Store) CreateInstallation(ctx context.Context, inst *integration.Installation) error {
	settingsJSON, err := json.Marshal(inst.Settings)
	if err != nil {
		return fmt.Errorf("courier/sqlite: encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO courier_installations (`+installationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID.String(), inst.TeamID, string(inst.Provider),
		inst.Credentials.WebhookURL, inst.Credentials.AccessToken, inst.Credentials.WorkspaceName,
		inst.Enabled, string(settingsJSON), fmtTime(inst.CreatedAt), fmtTime(inst.UpdatedAt))
	if err != nil {
		return fmt.Errorf("courier/sqlite: create installation: %w", err)
	}
	return nil
}

// GetInstallation returns the installation for a (team, provider) pair.
func (s *Store) GetInstallation(ctx context.Context, teamID string, p integration.Provider) (*integration.Installation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+installationColumns+` FROM courier_installations
WHERE team_id = ? AND provider = ?`, teamID, string(p))

	inst, err := scanInstallation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, integration.ErrNotInstalled
		}
		return nil, fmt.Errorf("courier/sqlite: get installation: %w", err)
	}
	return inst, nil
}

// GetInstallationByID returns an installation by ID.
func (s *Store) GetInstallationByID(ctx context.Context, instID id.ID) (*integration.Installation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+installationColumns+` FROM courier_installations
WHERE id = ?`, instID.String())

	inst, err := scanInstallation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, integration.ErrNotInstalled
		}
		return nil, fmt.Errorf("courier/sqlite: get installation by id: %w", err)
	}
	return inst, nil
}

// UpdateInstallation modifies an existing installation.
func (s *Store) UpdateInstallation(ctx context.Context, inst *integration.Installation) error {
	settingsJSON, err := json.Marshal(inst.Settings)
	if err != nil {
		return fmt.Errorf("courier/sqlite: encode settings: %w", err)
	}

	inst.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
UPDATE courier_installations
SET webhook_url = ?, access_token = ?, workspace_name = ?, enabled = ?, settings = ?, updated_at = ?
WHERE id = ?`,
		inst.Credentials.WebhookURL, inst.Credentials.AccessToken, inst.Credentials.WorkspaceName,
		inst.Enabled, string(settingsJSON), fmtTime(inst.UpdatedAt), inst.ID.String())
	if err != nil {
		return fmt.Errorf("courier/sqlite: update installation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return integration.ErrNotInstalled
	}
	return nil
}

// DeleteInstallation removes the installation for a (team, provider) pair.
func (s *Store) DeleteInstallation(ctx context.Context, teamID string, p integration.Provider) error {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_installations WHERE team_id = ? AND provider = ?`, teamID, string(p))
	if err != nil {
		return fmt.Errorf("courier/sqlite: delete installation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return integration.ErrNotInstalled
	}
	return nil
}

// ListInstallations returns all installations for a team.
func (s *Store) ListInstallations(ctx context.Context, teamID string) ([]*integration.Installation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+installationColumns+` FROM courier_installations
WHERE team_id = ? ORDER BY provider ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: list installations: %w", err)
	}
	defer rows.Close()

	var result []*integration.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: scan installation: %w", err)
		}
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: list installations: %w", err)
	}
	return result, nil
}
