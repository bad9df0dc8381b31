// Package courier delivers team activity notifications to chat integrations.
//
// Courier is a library, not a service. Import it into your application to
// fan activity events (document views, dataroom accesses, downloads) out to
// each team's installed chat providers, with durable queueing, retries,
// per-provider rate limiting, and a full delivery audit trail.
//
// Key features:
//   - Per-team integration registry with channel-scoped (Slack) and flat
//     (Mattermost, Discord) subscription settings
//   - Durable delivery queue with interchangeable backends (Redis, SQLite)
//     and a log-and-drop fallback when neither is configured
//   - Enqueue-time dedup: one active job per (destination, event) pair
//   - Exponential backoff retries with a replayable dead-letter set
//   - HMAC-SHA256 signature on every payload
//   - FIFO rate limiting with a configurable send budget
//
// Quick start:
//
//	st, err := courier.OpenStoreFromEnv(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, err := courier.New(
//	    courier.WithStore(st),
//	    courier.WithDashboardURL("https://app.example.com"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.Start(ctx)
//	defer c.Stop(ctx)
//
//	c.NotifyDocumentView(ctx, &event.ActivityEvent{
//	    TeamID:     "team_123",
//	    DocumentID: "doc_456",
//	    LinkID:     "link_789",
//	})
package courier
