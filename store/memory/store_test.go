package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
	courierstore "github.com/supermarkhq/courier/store"
)

func ctx() context.Context { return context.Background() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, courierstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// integration.Store
// ──────────────────────────────────────────────────

func testInstallation(teamID string, p integration.Provider) *integration.Installation {
	return &integration.Installation{
		Entity:   entity.New(),
		ID:       id.NewInstallationID(),
		TeamID:   teamID,
		Provider: p,
		Credentials: integration.Credentials{
			WebhookURL:    "https://hooks.example.com/abc",
			WorkspaceName: "Acme",
		},
		Enabled: true,
		Settings: integration.Settings{
			NotificationTypes: []event.Type{event.TypeDocumentView},
		},
	}
}

func TestInstallationCRUD(t *testing.T) {
	s := New()

	inst := testInstallation("t1", integration.ProviderMattermost)
	if err := s.CreateInstallation(ctx(), inst); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetInstallation(ctx(), "t1", integration.ProviderMattermost)
	if err != nil {
		t.Fatal(err)
	}
	if got.Credentials.WebhookURL != "https://hooks.example.com/abc" {
		t.Fatalf("credentials not round-tripped: %+v", got.Credentials)
	}

	got, err = s.GetInstallationByID(ctx(), inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TeamID != "t1" {
		t.Fatalf("team = %q", got.TeamID)
	}

	got.Enabled = false
	if err := s.UpdateInstallation(ctx(), got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetInstallation(ctx(), "t1", integration.ProviderMattermost)
	if got.Enabled {
		t.Fatal("update not persisted")
	}

	if err := s.DeleteInstallation(ctx(), "t1", integration.ProviderMattermost); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetInstallation(ctx(), "t1", integration.ProviderMattermost); !errors.Is(err, integration.ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	if err := s.DeleteInstallation(ctx(), "t1", integration.ProviderMattermost); !errors.Is(err, integration.ErrNotInstalled) {
		t.Fatalf("double delete: expected ErrNotInstalled, got %v", err)
	}
}

func TestListInstallationsScopedToTeam(t *testing.T) {
	s := New()

	for _, inst := range []*integration.Installation{
		testInstallation("t1", integration.ProviderSlack),
		testInstallation("t1", integration.ProviderDiscord),
		testInstallation("t2", integration.ProviderMattermost),
	} {
		if err := s.CreateInstallation(ctx(), inst); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListInstallations(ctx(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("installations = %d, want 2", len(got))
	}
	// Sorted by provider.
	if got[0].Provider != integration.ProviderDiscord || got[1].Provider != integration.ProviderSlack {
		t.Fatalf("order = %s, %s", got[0].Provider, got[1].Provider)
	}
}

// ──────────────────────────────────────────────────
// queue.Store
// ──────────────────────────────────────────────────

func testJob(destinationID string) *queue.Job {
	j := &queue.Job{
		Entity:         entity.New(),
		ID:             id.NewJobID(),
		DestinationID:  destinationID,
		DestinationURL: "https://hooks.example.com/abc",
		Payload:        []byte(`{"text":"hi"}`),
		EventID:        id.NewEventID(),
		EventType:      event.TypeDocumentView,
		TeamID:         "t1",
		State:          queue.StatePending,
		MaxAttempts:    3,
		NextAttemptAt:  time.Now().UTC(),
	}
	j.DedupKey = queue.DedupKey(j.DestinationID, j.EventID)
	return j
}

func TestEnqueueJobDedup(t *testing.T) {
	s := New()

	j1 := testJob("dest-1")
	if _, err := s.EnqueueJob(ctx(), j1); err != nil {
		t.Fatal(err)
	}

	// Same (destination, event) pair collapses onto the stored job.
	dup := testJob("dest-1")
	dup.EventID = j1.EventID
	dup.DedupKey = queue.DedupKey(dup.DestinationID, dup.EventID)

	got, err := s.EnqueueJob(ctx(), dup)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != j1.ID.String() {
		t.Fatalf("dedup returned new job %s, want %s", got.ID, j1.ID)
	}

	if n, _ := s.CountPending(ctx()); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestDedupKeyReleasedOnTerminalState(t *testing.T) {
	s := New()

	j := testJob("dest-1")
	if _, err := s.EnqueueJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	j.State = queue.StateCompleted
	j.CompletedAt = &now
	if err := s.UpdateJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	// A later event for the same pair enqueues fresh.
	again := testJob("dest-1")
	again.EventID = j.EventID
	again.DedupKey = j.DedupKey

	got, err := s.EnqueueJob(ctx(), again)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() == j.ID.String() {
		t.Fatal("terminal job should not absorb new enqueues")
	}
}

func TestDequeueDueClaimsAndExcludesFuture(t *testing.T) {
	s := New()

	due := testJob("dest-1")
	future := testJob("dest-2")
	future.NextAttemptAt = time.Now().UTC().Add(time.Hour)

	for _, j := range []*queue.Job{due, future} {
		if _, err := s.EnqueueJob(ctx(), j); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := s.DequeueDue(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}
	if claimed[0].ID.String() != due.ID.String() {
		t.Fatalf("claimed %s, want %s", claimed[0].ID, due.ID)
	}
	if claimed[0].State != queue.StateInFlight {
		t.Fatalf("state = %s, want inflight", claimed[0].State)
	}

	// Claimed jobs are not handed out twice.
	claimed, err = s.DequeueDue(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("second claim = %d jobs, want 0", len(claimed))
	}
}

func TestDequeueDueReturnsCopies(t *testing.T) {
	s := New()

	j := testJob("dest-1")
	if _, err := s.EnqueueJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.DequeueDue(ctx(), 1)
	if err != nil {
		t.Fatal(err)
	}
	claimed[0].AttemptCount = 99

	got, err := s.GetJob(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AttemptCount != 0 {
		t.Fatal("mutating a claimed job leaked into the store")
	}
}

func TestPurgePendingMatchesInstallationPrefix(t *testing.T) {
	s := New()

	instID := id.NewInstallationID()
	channelDest := instID.String() + "/C123"
	otherDest := id.NewInstallationID().String()

	inFlight := testJob(channelDest)
	inFlight.State = queue.StateInFlight

	for _, j := range []*queue.Job{
		testJob(channelDest),
		testJob(instID.String() + "/C456"),
		testJob(otherDest),
		inFlight,
	} {
		if _, err := s.EnqueueJob(ctx(), j); err != nil {
			t.Fatal(err)
		}
	}

	// Purging by installation ID removes pending jobs in all its channels,
	// leaves other installations and in-flight jobs alone.
	n, err := s.PurgePending(ctx(), instID.String())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("purged = %d, want 2", n)
	}

	remaining, _ := s.CountPending(ctx())
	if remaining != 1 {
		t.Fatalf("pending = %d, want 1", remaining)
	}
}

func TestEvictCompleted(t *testing.T) {
	s := New()

	for i := 0; i < 5; i++ {
		j := testJob("dest-1")
		j.CreatedAt = time.Now().UTC().Add(-time.Duration(i) * time.Minute)
		j.State = queue.StateCompleted
		s.mu.Lock()
		s.jobs[j.ID.String()] = j
		s.mu.Unlock()
	}

	n, err := s.EvictCompleted(ctx(), 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("evicted = %d, want 3", n)
	}

	s.mu.RLock()
	left := len(s.jobs)
	s.mu.RUnlock()
	if left != 2 {
		t.Fatalf("remaining = %d, want 2", left)
	}
}

func TestEvictCompletedByAge(t *testing.T) {
	s := New()

	old := testJob("dest-1")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	old.State = queue.StateCompleted
	fresh := testJob("dest-2")
	fresh.State = queue.StateCompleted

	s.mu.Lock()
	s.jobs[old.ID.String()] = old
	s.jobs[fresh.ID.String()] = fresh
	s.mu.Unlock()

	n, err := s.EvictCompleted(ctx(), 0, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if _, err := s.GetJob(ctx(), fresh.ID); err != nil {
		t.Fatal("fresh job should survive age eviction")
	}
}

func TestListJobsByDestination(t *testing.T) {
	s := New()

	completed := testJob("dest-1")
	completed.State = queue.StateCompleted
	for _, j := range []*queue.Job{testJob("dest-1"), testJob("dest-2"), completed} {
		s.mu.Lock()
		s.jobs[j.ID.String()] = j
		s.mu.Unlock()
	}

	got, err := s.ListJobsByDestination(ctx(), "dest-1", queue.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("jobs = %d, want 2", len(got))
	}

	pending := queue.StatePending
	got, err = s.ListJobsByDestination(ctx(), "dest-1", queue.ListOpts{State: &pending})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(got))
	}
}

// ──────────────────────────────────────────────────
// audit.Store
// ──────────────────────────────────────────────────

func testRecord(destinationID string, at time.Time) *audit.Record {
	return &audit.Record{
		ID:            id.NewRecordID(),
		EventID:       id.NewEventID(),
		DestinationID: destinationID,
		JobID:         id.NewJobID(),
		EventType:     event.TypeDocumentView,
		URL:           "https://hooks.example.com/abc",
		HTTPStatus:    200,
		RequestBody:   `{"text":"hi"}`,
		CreatedAt:     at,
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	s := New()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		rec := testRecord("dest-1", now.Add(time.Duration(i)*time.Minute))
		if err := s.AppendRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendRecord(ctx(), testRecord("dest-2", now)); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Fatal("records not newest-first")
	}

	since := now.Add(90 * time.Second)
	got, err = s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{Since: &since})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("since-filtered records = %d, want 1", len(got))
	}

	got, _ = s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limited records = %d, want 2", len(got))
	}
}

func TestPruneRecords(t *testing.T) {
	s := New()

	now := time.Now().UTC()
	s.AppendRecord(ctx(), testRecord("dest-1", now.Add(-48*time.Hour)))
	s.AppendRecord(ctx(), testRecord("dest-1", now))

	n, err := s.PruneRecords(ctx(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}

	got, _ := s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{})
	if len(got) != 1 {
		t.Fatalf("remaining = %d, want 1", len(got))
	}
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

func testEntry(failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		JobID:          id.NewJobID(),
		EventID:        id.NewEventID(),
		DestinationID:  "dest-1",
		EventType:      event.TypeDocumentView,
		TeamID:         "t1",
		URL:            "https://hooks.example.com/abc",
		Payload:        []byte(`{"text":"hi"}`),
		Error:          "HTTP 500",
		LastStatusCode: 500,
		AttemptCount:   3,
		FailedAt:       failedAt,
	}
}

func TestDLQPushListFilter(t *testing.T) {
	s := New()

	now := time.Now().UTC()
	e1 := testEntry(now.Add(-time.Hour))
	e2 := testEntry(now)
	e2.TeamID = "t2"
	e2.DestinationID = "dest-2"

	for _, e := range []*dlq.Entry{e1, e2} {
		if err := s.PushDLQ(ctx(), e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListDLQ(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].ID.String() != e2.ID.String() {
		t.Fatal("entries not newest-first")
	}

	got, _ = s.ListDLQ(ctx(), dlq.ListOpts{TeamID: "t2"})
	if len(got) != 1 || got[0].TeamID != "t2" {
		t.Fatalf("team filter returned %d entries", len(got))
	}

	from := now.Add(-30 * time.Minute)
	got, _ = s.ListDLQ(ctx(), dlq.ListOpts{From: &from})
	if len(got) != 1 {
		t.Fatalf("from filter returned %d entries", len(got))
	}

	if n, _ := s.CountDLQ(ctx()); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestDLQReplay(t *testing.T) {
	s := New()

	e := testEntry(time.Now().UTC())
	if err := s.PushDLQ(ctx(), e); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplayDLQ(ctx(), e.ID); err != nil {
		t.Fatal(err)
	}

	// Replay produces one fresh pending job carrying the entry's payload.
	jobs, err := s.DequeueDue(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if string(jobs[0].Payload) != `{"text":"hi"}` {
		t.Fatalf("payload = %s", jobs[0].Payload)
	}
	if jobs[0].AttemptCount != 0 {
		t.Fatalf("attempt count = %d, want 0", jobs[0].AttemptCount)
	}

	got, err := s.GetDLQ(ctx(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("ReplayedAt not set")
	}

	if err := s.ReplayDLQ(ctx(), id.NewDLQID()); !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDLQPurgeAndTrim(t *testing.T) {
	s := New()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := s.PushDLQ(ctx(), testEntry(now.Add(-time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PurgeDLQ(ctx(), now.Add(-150*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("purged = %d, want 2", n)
	}

	n, err = s.TrimDLQ(ctx(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("trimmed = %d, want 2", n)
	}
	if left, _ := s.CountDLQ(ctx()); left != 1 {
		t.Fatalf("remaining = %d, want 1", left)
	}
}
