package compose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supermarkhq/courier/event"
)

const fallbackName = "Unknown"

// linkRef renders a shared-link reference with fallback handling: the link's
// display name when present, else a short fragment of its ID.
func linkRef(l *LinkInfo, linkID string) string {
	if l != nil && l.Name != "" {
		return fmt.Sprintf("%q", l.Name)
	}
	frag := linkID
	if len(frag) > 5 {
		frag = frag[:5]
	}
	if frag == "" {
		frag = "unknown"
	}
	return fmt.Sprintf("%q", "Link "+frag)
}

// viewerDisplay renders the viewer identity, "Anonymous" when unverified.
func viewerDisplay(evt *event.ActivityEvent) string {
	if evt.ViewerEmail != "" {
		return evt.ViewerEmail
	}
	return "Anonymous"
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC1123)
}

func (c *Composer) deepLink(path string) string {
	base := strings.TrimSuffix(c.config.DashboardURL, "/")
	if base == "" {
		base = "https://app.supermark.io"
	}
	return base + path
}

func (c *Composer) documentView(ctx context.Context, evt *event.ActivityEvent) *Message {
	doc := c.document(ctx, evt.DocumentID)
	dr := c.dataroom(ctx, evt.DataroomID)
	link := c.link(ctx, evt.LinkID)

	docName := fallbackName
	if doc != nil && doc.Name != "" {
		docName = doc.Name
	}

	var accessLine, contextLine string
	switch {
	case dr != nil && dr.Name != "":
		accessLine = "**Dataroom:** " + dr.Name
		contextLine = fmt.Sprintf("Viewed document in dataroom %q", dr.Name)
	case link != nil && link.Name != "":
		accessLine = "**Shared Link:** " + link.Name
		contextLine = "Viewed document via shared link " + linkRef(link, evt.LinkID)
	default:
		accessLine = "**Access:** Direct access"
		contextLine = "Viewed document via shared link " + linkRef(link, evt.LinkID)
	}

	url := c.deepLink("/dashboard")
	if evt.DocumentID != "" {
		url = c.deepLink("/documents/" + evt.DocumentID)
	}

	var b strings.Builder
	b.WriteString("### 📄 Your document has been viewed\n\n")
	fmt.Fprintf(&b, "**Document:** %s\n", docName)
	fmt.Fprintf(&b, "**Viewer:** %s\n", viewerDisplay(evt))
	b.WriteString(accessLine + "\n")
	fmt.Fprintf(&b, "**Time:** %s\n\n", timestamp())
	b.WriteString(contextLine + "\n\n")
	fmt.Fprintf(&b, "[View document](%s)", url)

	return &Message{Text: b.String(), DisplayName: c.config.DisplayName}
}

func (c *Composer) dataroomAccess(ctx context.Context, evt *event.ActivityEvent) *Message {
	dr := c.dataroom(ctx, evt.DataroomID)
	link := c.link(ctx, evt.LinkID)

	drName := fallbackName
	docCount := 0
	if dr != nil {
		if dr.Name != "" {
			drName = dr.Name
		}
		docCount = dr.DocumentCount
	}

	linkLine := "**Access:** Direct access"
	if link != nil && link.Name != "" {
		linkLine = "**Shared Link:** " + link.Name
	}

	url := c.deepLink("/dashboard")
	if evt.DataroomID != "" {
		url = c.deepLink("/datarooms/" + evt.DataroomID)
	}

	var b strings.Builder
	b.WriteString("### 🗂️ Your dataroom has been viewed\n\n")
	fmt.Fprintf(&b, "**Dataroom:** %s\n", drName)
	fmt.Fprintf(&b, "**Viewer:** %s\n", viewerDisplay(evt))
	b.WriteString(linkLine + "\n")
	fmt.Fprintf(&b, "**Time:** %s\n", timestamp())
	fmt.Fprintf(&b, "**Documents:** %d documents\n\n", docCount)
	fmt.Fprintf(&b, "Dataroom accessed via shared link %s\n\n", linkRef(link, evt.LinkID))
	fmt.Fprintf(&b, "[View dataroom](%s)", url)

	return &Message{Text: b.String(), DisplayName: c.config.DisplayName}
}

func (c *Composer) documentDownload(ctx context.Context, evt *event.ActivityEvent) *Message {
	doc := c.document(ctx, evt.DocumentID)
	dr := c.dataroom(ctx, evt.DataroomID)
	link := c.link(ctx, evt.LinkID)

	isBulk := evt.Metadata.Bool(event.MetaBulkDownload)
	isFolder := evt.Metadata.Bool(event.MetaFolderDownload)
	folderName := evt.Metadata.String(event.MetaFolderName)
	docCount := evt.Metadata.Int(event.MetaDocumentCount)

	// Three sub-cases with distinct icons: whole-dataroom bulk download,
	// folder download, single document download.
	downloadType := "Document"
	downloadIcon := "📥"
	downloadContext := ""
	switch {
	case isBulk:
		downloadType = "Dataroom"
		downloadIcon = "📦"
		downloadContext = fmt.Sprintf("(%d documents)", docCount)
	case isFolder:
		downloadType = "Folder"
		downloadIcon = "📁"
		downloadContext = fmt.Sprintf("%q (%d documents)", folderName, docCount)
	case dr != nil && dr.Name != "":
		downloadContext = fmt.Sprintf("from dataroom %q", dr.Name)
	default:
		downloadContext = "via shared link " + linkRef(link, evt.LinkID)
	}

	subject := downloadContext
	switch {
	case isBulk:
		if dr != nil && dr.Name != "" {
			subject = fmt.Sprintf("%s (%d documents)", dr.Name, docCount)
		}
	case isFolder:
		// downloadContext already names the folder and count.
	default:
		if doc != nil && doc.Name != "" {
			subject = doc.Name
		}
	}

	var sourceLine string
	switch {
	case dr != nil && dr.Name != "":
		sourceLine = "**From Dataroom:** " + dr.Name
	case link != nil && link.Name != "":
		sourceLine = "**Shared Link:** " + link.Name
	default:
		sourceLine = "**Context:** " + downloadContext
	}

	var summary string
	switch {
	case isBulk:
		summary = "Bulk dataroom download"
	case isFolder:
		summary = "Folder download"
	default:
		summary = "Document download via shared link " + linkRef(link, evt.LinkID)
	}

	url := c.deepLink("/dashboard")
	switch {
	case evt.DataroomID != "":
		url = c.deepLink("/datarooms/" + evt.DataroomID)
	case evt.DocumentID != "":
		url = c.deepLink("/documents/" + evt.DocumentID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s %s has been downloaded\n\n", downloadIcon, downloadType)
	fmt.Fprintf(&b, "**%s:** %s\n", downloadType, subject)
	fmt.Fprintf(&b, "**Downloaded by:** %s\n", viewerDisplay(evt))
	b.WriteString(sourceLine + "\n")
	fmt.Fprintf(&b, "**Time:** %s\n\n", timestamp())
	b.WriteString(summary + "\n\n")
	fmt.Fprintf(&b, "[View activity](%s)", url)

	return &Message{Text: b.String(), DisplayName: c.config.DisplayName}
}
