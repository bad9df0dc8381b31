package integration

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Provider is a supported chat provider. The set is closed: provider-specific
// behavior is dispatched on this tag, never on configuration shape.
type Provider string

// The supported providers.
const (
	ProviderSlack      Provider = "slack"
	ProviderMattermost Provider = "mattermost"
	ProviderDiscord    Provider = "discord"
)

// Providers lists all supported providers.
var Providers = []Provider{ProviderSlack, ProviderMattermost, ProviderDiscord}

// slackPostMessageURL is the fixed API destination for Slack installations.
const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderSlack, ProviderMattermost, ProviderDiscord:
		return true
	}
	return false
}

// ChannelScoped reports whether the provider configures notifications per
// channel. Flat providers post everything to a single incoming webhook.
func (p Provider) ChannelScoped() bool {
	return p == ProviderSlack
}

// DestinationURL resolves the delivery URL for the given credentials.
func (p Provider) DestinationURL(creds Credentials) (string, error) {
	switch p {
	case ProviderSlack:
		if creds.AccessToken == "" {
			return "", fmt.Errorf("integration: %s: missing access token", p)
		}
		return slackPostMessageURL, nil
	case ProviderMattermost, ProviderDiscord:
		if creds.WebhookURL == "" {
			return "", fmt.Errorf("integration: %s: missing webhook URL", p)
		}
		return creds.WebhookURL, nil
	default:
		return "", fmt.Errorf("integration: unsupported provider %q", p)
	}
}

// DestinationHeaders returns the provider-required HTTP headers for the given
// credentials, nil when none are needed.
func (p Provider) DestinationHeaders(creds Credentials) map[string]string {
	if p == ProviderSlack {
		return map[string]string{"Authorization": "Bearer " + creds.AccessToken}
	}
	return nil
}

// BuildPayload shapes a composed message into the provider's wire format.
// channelID is ignored by flat providers.
func (p Provider) BuildPayload(channelID, text, displayName string) ([]byte, error) {
	switch p {
	case ProviderSlack:
		return json.Marshal(struct {
			Channel     string `json:"channel"`
			Text        string `json:"text"`
			UnfurlLinks bool   `json:"unfurl_links"`
		}{Channel: channelID, Text: text})
	case ProviderMattermost:
		return json.Marshal(struct {
			Text     string `json:"text"`
			Username string `json:"username,omitempty"`
		}{Text: text, Username: displayName})
	case ProviderDiscord:
		// Discord rejects content above 2000 characters. Truncate on rune
		// boundaries so a multibyte character at the cut stays valid UTF-8.
		const discordContentMax = 2000
		if utf8.RuneCountInString(text) > discordContentMax {
			runes := []rune(text)
			text = string(runes[:discordContentMax-1]) + "…"
		}
		return json.Marshal(struct {
			Content  string `json:"content"`
			Username string `json:"username,omitempty"`
		}{Content: text, Username: displayName})
	default:
		return nil, fmt.Errorf("integration: unsupported provider %q", p)
	}
}
