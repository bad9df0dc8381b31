// Package compose turns raw activity events into provider-ready notification
// messages.
//
// Composition is best-effort: every entity lookup is independently
// fault-tolerant, substituting a fallback string instead of aborting the
// message. A notification with "Unknown" in it beats no notification.
package compose

import (
	"context"
	"log/slog"

	"github.com/supermarkhq/courier/event"
)

// Message is a composed, provider-neutral notification. Provider-specific
// wire shaping happens later, at enqueue time.
type Message struct {
	// Text is the markdown message body.
	Text string

	// DisplayName is the sender name shown in the channel.
	DisplayName string
}

// DocumentInfo is the subset of document data needed for composition.
type DocumentInfo struct {
	ID   string
	Name string
}

// DataroomInfo is the subset of dataroom data needed for composition.
type DataroomInfo struct {
	ID            string
	Name          string
	DocumentCount int
}

// LinkInfo is the subset of shared-link data needed for composition.
type LinkInfo struct {
	ID   string
	Name string
}

// Lookups is the read-only entity access the composer needs from the
// surrounding application.
type Lookups interface {
	Document(ctx context.Context, documentID string) (*DocumentInfo, error)
	Dataroom(ctx context.Context, dataroomID string) (*DataroomInfo, error)
	Link(ctx context.Context, linkID string) (*LinkInfo, error)
}

// Config holds composer settings.
type Config struct {
	// DashboardURL is the base URL for deep links in messages.
	DashboardURL string

	// DisplayName is the sender name attached to messages.
	DisplayName string
}

// Composer builds notification messages from activity events.
type Composer struct {
	lookups Lookups
	config  Config
	logger  *slog.Logger
}

// NewComposer creates a composer. lookups may be nil, in which case every
// entity renders its fallback.
func NewComposer(lookups Lookups, cfg Config, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Supermark"
	}
	return &Composer{
		lookups: lookups,
		config:  cfg,
		logger:  logger,
	}
}

// Compose builds the message for an event. Returns (nil, nil) for event types
// the composer does not know how to render; callers skip enqueueing then.
func (c *Composer) Compose(ctx context.Context, evt *event.ActivityEvent) (*Message, error) {
	switch evt.Type {
	case event.TypeDocumentView:
		return c.documentView(ctx, evt), nil
	case event.TypeDataroomAccess:
		return c.dataroomAccess(ctx, evt), nil
	case event.TypeDocumentDownload:
		return c.documentDownload(ctx, evt), nil
	default:
		return nil, nil
	}
}

// document looks up document info, nil on any failure.
func (c *Composer) document(ctx context.Context, documentID string) *DocumentInfo {
	if documentID == "" || c.lookups == nil {
		return nil
	}
	doc, err := c.lookups.Document(ctx, documentID)
	if err != nil {
		c.logger.DebugContext(ctx, "document lookup failed", "document_id", documentID, "error", err)
		return nil
	}
	return doc
}

// dataroom looks up dataroom info, nil on any failure.
func (c *Composer) dataroom(ctx context.Context, dataroomID string) *DataroomInfo {
	if dataroomID == "" || c.lookups == nil {
		return nil
	}
	dr, err := c.lookups.Dataroom(ctx, dataroomID)
	if err != nil {
		c.logger.DebugContext(ctx, "dataroom lookup failed", "dataroom_id", dataroomID, "error", err)
		return nil
	}
	return dr
}

// link looks up shared-link info, nil on any failure.
func (c *Composer) link(ctx context.Context, linkID string) *LinkInfo {
	if linkID == "" || c.lookups == nil {
		return nil
	}
	l, err := c.lookups.Link(ctx, linkID)
	if err != nil {
		c.logger.DebugContext(ctx, "link lookup failed", "link_id", linkID, "error", err)
		return nil
	}
	return l
}
