// Package integration manages per-team chat integrations and resolves which
// destinations want to hear about an activity event.
//
// A team installs at most one integration per provider. Channel-scoped
// providers (Slack) configure notification types per channel; flat providers
// (Mattermost, Discord) carry a single notification-type set for the whole
// installation.
package integration

import (
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
)

// Installation is one provider connection owned by one team.
type Installation struct {
	entity.Entity

	// ID is the unique TypeID for this installation.
	ID id.ID `json:"id"`

	// TeamID identifies the owning team.
	TeamID string `json:"team_id"`

	// Provider is the chat provider this installation connects to.
	Provider Provider `json:"provider"`

	// Credentials is the opaque secret material for the connection.
	// Never serialized; callers outside the courier see Redacted() only.
	Credentials Credentials `json:"-"`

	// Enabled indicates whether notifications flow to this installation.
	Enabled bool `json:"enabled"`

	// Settings selects which channels and event types receive notifications.
	Settings Settings `json:"settings"`
}

// Credentials holds the secret connection material for an installation:
// an incoming-webhook URL, or an access token for API-posting providers.
type Credentials struct {
	// WebhookURL is the incoming-webhook destination (Mattermost, Discord).
	WebhookURL string `json:"webhook_url,omitempty"`

	// AccessToken is the bot/user token for API-posting providers (Slack).
	AccessToken string `json:"access_token,omitempty"`

	// WorkspaceName is the human-readable provider workspace, safe to show.
	WorkspaceName string `json:"workspace_name,omitempty"`
}

// RedactedCredentials is the caller-visible view of Credentials.
type RedactedCredentials struct {
	Provider      Provider `json:"provider"`
	WorkspaceName string   `json:"workspace_name,omitempty"`
}

// Redacted returns the public view of this installation's credentials.
func (i *Installation) Redacted() RedactedCredentials {
	return RedactedCredentials{
		Provider:      i.Provider,
		WorkspaceName: i.Credentials.WorkspaceName,
	}
}

// Settings selects which notifications an installation receives.
// Exactly one of Channels / NotificationTypes is used, depending on whether
// the provider is channel-scoped.
type Settings struct {
	// Channels maps channel ID to its config (channel-scoped providers).
	Channels map[string]ChannelConfig `json:"channels,omitempty"`

	// NotificationTypes is the flat subscription set (flat providers).
	NotificationTypes []event.Type `json:"notification_types,omitempty"`
}

// ChannelConfig is one channel's notification subscription.
type ChannelConfig struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Enabled           bool         `json:"enabled"`
	NotificationTypes []event.Type `json:"notification_types"`
}

// wants reports whether t is in the subscription set.
func wants(types []event.Type, t event.Type) bool {
	for _, nt := range types {
		if nt == t {
			return true
		}
	}
	return false
}

// Destination is a single (provider, channel, credentials) tuple eligible to
// receive a notification.
type Destination struct {
	InstallationID id.ID
	TeamID         string
	Provider       Provider

	// ChannelID and ChannelName are set for channel-scoped providers.
	ChannelID   string
	ChannelName string

	// URL is the resolved delivery URL for this destination.
	URL string

	// Headers are provider-required HTTP headers (e.g. bearer auth).
	Headers map[string]string
}

// ID returns the deterministic destination identifier used for dedup keys
// and audit queries: the installation ID, suffixed with the channel ID for
// channel-scoped providers.
func (d Destination) ID() string {
	if d.ChannelID == "" {
		return d.InstallationID.String()
	}
	return d.InstallationID.String() + "/" + d.ChannelID
}

// Input is the payload for installing or reconfiguring an integration.
type Input struct {
	TeamID      string
	Provider    Provider
	Credentials Credentials
	Settings    Settings
	UserID      string
}
