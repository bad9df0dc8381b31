package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/internal/entity"
)

// installationModel is the JSON representation stored in Redis. Credentials
// are serialized here explicitly: the entity's own JSON tags hide them from
// callers, but the store must keep them.
type installationModel struct {
	ID            string                    `json:"id"`
	TeamID        string                    `json:"team_id"`
	Provider      string                    `json:"provider"`
	WebhookURL    string                    `json:"webhook_url,omitempty"`
	AccessToken   string                    `json:"access_token,omitempty"`
	WorkspaceName string                    `json:"workspace_name,omitempty"`
	Enabled       bool                      `json:"enabled"`
	Channels      map[string]channelModel   `json:"channels,omitempty"`
	Types         []string                  `json:"notification_types,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

type channelModel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Types   []string `json:"notification_types"`
}

func toInstallationModel(inst *integration.Installation) *installationModel {
	m := &installationModel{
		ID:            inst.ID.String(),
		TeamID:        inst.TeamID,
		Provider:      string(inst.Provider),
		WebhookURL:    inst.Credentials.WebhookURL,
		AccessToken:   inst.Credentials.AccessToken,
		WorkspaceName: inst.Credentials.WorkspaceName,
		Enabled:       inst.Enabled,
		Types:         typesToStrings(inst.Settings.NotificationTypes),
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
	if len(inst.Settings.Channels) > 0 {
		m.Channels = make(map[string]channelModel, len(inst.Settings.Channels))
		for chID, ch := range inst.Settings.Channels {
			m.Channels[chID] = channelModel{
				ID:      ch.ID,
				Name:    ch.Name,
				Enabled: ch.Enabled,
				Types:   typesToStrings(ch.NotificationTypes),
			}
		}
	}
	return m
}

func fromInstallationModel(m *installationModel) (*integration.Installation, error) {
	instID, err := id.ParseInstallationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse installation ID %q: %w", m.ID, err)
	}
	inst := &integration.Installation{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       instID,
		TeamID:   m.TeamID,
		Provider: integration.Provider(m.Provider),
		Credentials: integration.Credentials{
			WebhookURL:    m.WebhookURL,
			AccessToken:   m.AccessToken,
			WorkspaceName: m.WorkspaceName,
		},
		Enabled: m.Enabled,
		Settings: integration.Settings{
			NotificationTypes: stringsToTypes(m.Types),
		},
	}
	if len(m.Channels) > 0 {
		inst.Settings.Channels = make(map[string]integration.ChannelConfig, len(m.Channels))
		for chID, ch := range m.Channels {
			inst.Settings.Channels[chID] = integration.ChannelConfig{
				ID:                ch.ID,
				Name:              ch.Name,
				Enabled:           ch.Enabled,
				NotificationTypes: stringsToTypes(ch.Types),
			}
		}
	}
	return inst, nil
}

func typesToStrings(types []event.Type) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func stringsToTypes(ss []string) []event.Type {
	if len(ss) == 0 {
		return nil
	}
	out := make([]event.Type, len(ss))
	for i, s := range ss {
		out[i] = event.Type(s)
	}
	return out
}

// CreateInstallation persists a new installation and its indexes.
func (s *Store) CreateInstallation(ctx context.Context, inst *integration.Installation) error {
	m := toInstallationModel(inst)

	if err := s.setEntity(ctx, entityKey(prefixInstallation, m.ID), m); err != nil {
		return fmt.Errorf("courier/redis: create installation: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, installationUniqueKey(m.TeamID, m.Provider), m.ID, 0)
	pipe.SAdd(ctx, sInstallationTeam+m.TeamID, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create installation indexes: %w", err)
	}
	return nil
}

// GetInstallation returns the installation for a (team, provider) pair.
func (s *Store) GetInstallation(ctx context.Context, teamID string, p integration.Provider) (*integration.Installation, error) {
	instID, err := s.rdb.Get(ctx, installationUniqueKey(teamID, string(p))).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, integration.ErrNotInstalled
		}
		return nil, fmt.Errorf("courier/redis: get installation: %w", err)
	}
	return s.loadInstallation(ctx, instID)
}

// GetInstallationByID returns an installation by ID.
func (s *Store) GetInstallationByID(ctx context.Context, instID id.ID) (*integration.Installation, error) {
	return s.loadInstallation(ctx, instID.String())
}

func (s *Store) loadInstallation(ctx context.Context, instID string) (*integration.Installation, error) {
	var m installationModel
	if err := s.getEntity(ctx, entityKey(prefixInstallation, instID), &m); err != nil {
		if isRedisNil(err) {
			return nil, integration.ErrNotInstalled
		}
		return nil, fmt.Errorf("courier/redis: load installation: %w", err)
	}
	return fromInstallationModel(&m)
}

// UpdateInstallation modifies an existing installation.
func (s *Store) UpdateInstallation(ctx context.Context, inst *integration.Installation) error {
	key := entityKey(prefixInstallation, inst.ID.String())
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: update installation: %w", err)
	}
	if exists == 0 {
		return integration.ErrNotInstalled
	}

	inst.UpdatedAt = now()
	if err := s.setEntity(ctx, key, toInstallationModel(inst)); err != nil {
		return fmt.Errorf("courier/redis: update installation: %w", err)
	}
	return nil
}

// DeleteInstallation removes the installation for a (team, provider) pair.
func (s *Store) DeleteInstallation(ctx context.Context, teamID string, p integration.Provider) error {
	instID, err := s.rdb.Get(ctx, installationUniqueKey(teamID, string(p))).Result()
	if err != nil {
		if isRedisNil(err) {
			return integration.ErrNotInstalled
		}
		return fmt.Errorf("courier/redis: delete installation: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixInstallation, instID))
	pipe.Del(ctx, installationUniqueKey(teamID, string(p)))
	pipe.SRem(ctx, sInstallationTeam+teamID, instID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete installation: %w", err)
	}
	return nil
}

// ListInstallations returns all installations for a team.
func (s *Store) ListInstallations(ctx context.Context, teamID string) ([]*integration.Installation, error) {
	ids, err := s.rdb.SMembers(ctx, sInstallationTeam+teamID).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list installations: %w", err)
	}

	result := make([]*integration.Installation, 0, len(ids))
	for _, instID := range ids {
		inst, err := s.loadInstallation(ctx, instID)
		if err != nil {
			if err == integration.ErrNotInstalled {
				continue
			}
			return nil, err
		}
		result = append(result, inst)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Provider < result[j].Provider
	})
	return result, nil
}
