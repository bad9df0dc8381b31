package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
)

// ErrNotInstalled is returned when a (team, provider) pair has no installation.
// Stores return this from Get/Update/Delete; a missing installation during
// destination resolution is not an error.
var ErrNotInstalled = errors.New("integration: not installed")

// JobPurger removes pending delivery jobs for a destination. Implemented by
// the queue store; used when an integration is disconnected so that jobs not
// yet picked up never fire.
type JobPurger interface {
	PurgePending(ctx context.Context, destinationID string) (int64, error)
}

// Registry manages integration installations and resolves the destinations
// interested in an event.
type Registry struct {
	store     Store
	purger    JobPurger
	validator *Validator
	logger    *slog.Logger
}

// NewRegistry creates a registry. purger may be nil, in which case disconnects
// do not purge pending jobs.
func NewRegistry(store Store, purger JobPurger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		purger:    purger,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Install connects a provider for a team, or replaces the existing
// connection's credentials and settings. The installation starts enabled.
func (r *Registry) Install(ctx context.Context, in Input) (*Installation, error) {
	if !in.Provider.Valid() {
		return nil, &ValidationError{Field: "provider", Message: fmt.Sprintf("unsupported provider %q", in.Provider)}
	}
	if in.TeamID == "" {
		return nil, &ValidationError{Field: "team_id", Message: "required"}
	}
	if in.Credentials.WebhookURL != "" {
		if _, err := url.ParseRequestURI(in.Credentials.WebhookURL); err != nil {
			return nil, &ValidationError{Field: "credentials.webhook_url", Message: "invalid URL"}
		}
	}
	if _, err := in.Provider.DestinationURL(in.Credentials); err != nil {
		return nil, &ValidationError{Field: "credentials", Message: err.Error()}
	}
	if err := r.validator.ValidateSettings(in.Provider, in.Settings); err != nil {
		return nil, err
	}

	// One installation per (team, provider): reconfigure in place when one
	// already exists.
	existing, err := r.store.GetInstallation(ctx, in.TeamID, in.Provider)
	if err == nil {
		existing.Credentials = in.Credentials
		existing.Settings = in.Settings
		existing.Enabled = true
		existing.Touch()
		if updateErr := r.store.UpdateInstallation(ctx, existing); updateErr != nil {
			return nil, fmt.Errorf("integration: reinstall: %w", updateErr)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotInstalled) {
		return nil, fmt.Errorf("integration: install lookup: %w", err)
	}

	inst := &Installation{
		Entity:      entity.New(),
		ID:          id.NewInstallationID(),
		TeamID:      in.TeamID,
		Provider:    in.Provider,
		Credentials: in.Credentials,
		Enabled:     true,
		Settings:    in.Settings,
	}
	if err := r.store.CreateInstallation(ctx, inst); err != nil {
		return nil, fmt.Errorf("integration: install: %w", err)
	}

	r.logger.InfoContext(ctx, "integration installed",
		"team_id", in.TeamID, "provider", in.Provider, "installation_id", inst.ID)

	return inst, nil
}

// Get returns the installation for a (team, provider) pair.
func (r *Registry) Get(ctx context.Context, teamID string, p Provider) (*Installation, error) {
	return r.store.GetInstallation(ctx, teamID, p)
}

// List returns all installations for a team.
func (r *Registry) List(ctx context.Context, teamID string) ([]*Installation, error) {
	return r.store.ListInstallations(ctx, teamID)
}

// UpdateSettings replaces the notification settings of an installation.
func (r *Registry) UpdateSettings(ctx context.Context, teamID string, p Provider, s Settings) (*Installation, error) {
	if err := r.validator.ValidateSettings(p, s); err != nil {
		return nil, err
	}

	inst, err := r.store.GetInstallation(ctx, teamID, p)
	if err != nil {
		return nil, err
	}

	inst.Settings = s
	inst.Touch()
	if err := r.store.UpdateInstallation(ctx, inst); err != nil {
		return nil, fmt.Errorf("integration: update settings: %w", err)
	}

	return inst, nil
}

// SetEnabled toggles an installation without removing it.
func (r *Registry) SetEnabled(ctx context.Context, teamID string, p Provider, enabled bool) error {
	inst, err := r.store.GetInstallation(ctx, teamID, p)
	if err != nil {
		return err
	}

	inst.Enabled = enabled
	inst.Touch()
	if err := r.store.UpdateInstallation(ctx, inst); err != nil {
		return fmt.Errorf("integration: set enabled: %w", err)
	}

	return nil
}

// Disconnect removes an installation and purges pending delivery jobs for its
// destinations. Jobs already in flight run to completion.
func (r *Registry) Disconnect(ctx context.Context, teamID string, p Provider) error {
	inst, err := r.store.GetInstallation(ctx, teamID, p)
	if err != nil {
		return err
	}

	if err := r.store.DeleteInstallation(ctx, teamID, p); err != nil {
		return fmt.Errorf("integration: disconnect: %w", err)
	}

	if r.purger != nil {
		purged, purgeErr := r.purger.PurgePending(ctx, inst.ID.String())
		if purgeErr != nil {
			r.logger.ErrorContext(ctx, "purge pending jobs failed",
				"installation_id", inst.ID, "error", purgeErr)
		} else if purged > 0 {
			r.logger.InfoContext(ctx, "purged pending jobs on disconnect",
				"installation_id", inst.ID, "purged", purged)
		}
	}

	r.logger.InfoContext(ctx, "integration disconnected",
		"team_id", teamID, "provider", p, "installation_id", inst.ID)

	return nil
}

// ResolveDestinations returns every destination belonging to teamID that is
// subscribed to eventType. A missing, disabled, or unsubscribed installation
// contributes nothing; the empty slice is the normal quiet case, not an
// error. Only a storage failure errors.
func (r *Registry) ResolveDestinations(ctx context.Context, teamID string, eventType event.Type) ([]Destination, error) {
	installs, err := r.store.ListInstallations(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("integration: resolve destinations: %w", err)
	}

	var dests []Destination
	for _, inst := range installs {
		if !inst.Enabled {
			continue
		}

		destURL, urlErr := inst.Provider.DestinationURL(inst.Credentials)
		if urlErr != nil {
			// Broken credentials on one installation must not block the
			// other destinations for this event.
			r.logger.WarnContext(ctx, "skipping installation with unusable credentials",
				"installation_id", inst.ID, "provider", inst.Provider, "error", urlErr)
			continue
		}
		headers := inst.Provider.DestinationHeaders(inst.Credentials)

		if inst.Provider.ChannelScoped() {
			for _, ch := range inst.Settings.Channels {
				if !ch.Enabled || !wants(ch.NotificationTypes, eventType) {
					continue
				}
				dests = append(dests, Destination{
					InstallationID: inst.ID,
					TeamID:         teamID,
					Provider:       inst.Provider,
					ChannelID:      ch.ID,
					ChannelName:    ch.Name,
					URL:            destURL,
					Headers:        headers,
				})
			}
			continue
		}

		if wants(inst.Settings.NotificationTypes, eventType) {
			dests = append(dests, Destination{
				InstallationID: inst.ID,
				TeamID:         teamID,
				Provider:       inst.Provider,
				URL:            destURL,
				Headers:        headers,
			})
		}
	}

	return dests, nil
}

// ValidationError indicates invalid installation input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "integration validation: " + e.Field + ": " + e.Message
}
