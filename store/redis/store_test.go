package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
)

func ctx() context.Context { return context.Background() }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
}

func testJob(destinationID string) *queue.Job {
	j := &queue.Job{
		Entity:         entity.New(),
		ID:             id.NewJobID(),
		DestinationID:  destinationID,
		DestinationURL: "https://hooks.example.com/abc",
		Payload:        []byte(`{"text":"hi"}`),
		Signature:      "v1=abc",
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

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
}

func TestOpenRejectsBadURL(t *testing.T) {
	if _, err := Open("not-a-url"); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

// ──────────────────────────────────────────────────
// integration.Store
// ──────────────────────────────────────────────────

func TestInstallationRoundTrip(t *testing.T) {
	s := newTestStore(t)

	inst := &integration.Installation{
		Entity:   entity.New(),
		ID:       id.NewInstallationID(),
		TeamID:   "t1",
		Provider: integration.ProviderSlack,
		Credentials: integration.Credentials{
			AccessToken:   "xoxb-secret",
			WorkspaceName: "Acme",
		},
		Enabled: true,
		Settings: integration.Settings{
			Channels: map[string]integration.ChannelConfig{
				"C1": {ID: "C1", Name: "general", Enabled: true, NotificationTypes: []event.Type{event.TypeDocumentView}},
			},
		},
	}
	if err := s.CreateInstallation(ctx(), inst); err != nil {
		t.Fatal(err)
	}

	// Credentials survive the round trip even though the domain struct
	// never serializes them.
	got, err := s.GetInstallation(ctx(), "t1", integration.ProviderSlack)
	if err != nil {
		t.Fatal(err)
	}
	if got.Credentials.AccessToken != "xoxb-secret" {
		t.Fatalf("access token = %q", got.Credentials.AccessToken)
	}
	if got.Settings.Channels["C1"].Name != "general" {
		t.Fatalf("settings = %+v", got.Settings)
	}

	got.Enabled = false
	if err := s.UpdateInstallation(ctx(), got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetInstallationByID(ctx(), inst.ID)
	if got.Enabled {
		t.Fatal("update not persisted")
	}

	list, err := s.ListInstallations(ctx(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("installations = %d, want 1", len(list))
	}

	if err := s.DeleteInstallation(ctx(), "t1", integration.ProviderSlack); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetInstallation(ctx(), "t1", integration.ProviderSlack); !errors.Is(err, integration.ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// queue.Store
// ──────────────────────────────────────────────────

func TestEnqueueJobDedup(t *testing.T) {
	s := newTestStore(t)

	j1 := testJob("dest-1")
	if _, err := s.EnqueueJob(ctx(), j1); err != nil {
		t.Fatal(err)
	}

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

func TestEnqueueJobReclaimsDanglingDedupKey(t *testing.T) {
	s := newTestStore(t)

	// A dedup key whose job entity never landed, as left behind by a crash
	// between the SETNX and the entity write. It must not block the pair.
	j := testJob("dest-1")
	if err := s.rdb.Set(ctx(), uniqueJobDedup+j.DedupKey, id.NewJobID().String(), 0).Err(); err != nil {
		t.Fatal(err)
	}

	got, err := s.EnqueueJob(ctx(), j)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != j.ID.String() {
		t.Fatalf("enqueued %s, want %s", got.ID, j.ID)
	}
	if n, _ := s.CountPending(ctx()); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	owner, err := s.rdb.Get(ctx(), uniqueJobDedup+j.DedupKey).Result()
	if err != nil {
		t.Fatal(err)
	}
	if owner != j.ID.String() {
		t.Fatalf("dedup key owner = %s, want %s", owner, j.ID)
	}
}

func TestDequeueDueClaimsAndExcludesFuture(t *testing.T) {
	s := newTestStore(t)

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

	claimed, err = s.DequeueDue(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("second claim = %d jobs, want 0", len(claimed))
	}
}

func TestUpdateJobReleasesDedupOnTerminal(t *testing.T) {
	s := newTestStore(t)

	j := testJob("dest-1")
	if _, err := s.EnqueueJob(ctx(), j); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DequeueDue(ctx(), 1); err != nil {
		t.Fatal(err)
	}

	done := time.Now().UTC()
	j.State = queue.StateCompleted
	j.CompletedAt = &done
	j.AttemptCount = 1
	j.LastStatusCode = 200
	if err := s.UpdateJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != queue.StateCompleted || got.LastStatusCode != 200 {
		t.Fatalf("job = %+v", got)
	}

	// The pair is free again.
	again := testJob("dest-1")
	again.EventID = j.EventID
	again.DedupKey = j.DedupKey
	stored, err := s.EnqueueJob(ctx(), again)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID.String() == j.ID.String() {
		t.Fatal("terminal job should not absorb new enqueues")
	}
}

func TestUpdateJobReschedulesPending(t *testing.T) {
	s := newTestStore(t)

	j := testJob("dest-1")
	if _, err := s.EnqueueJob(ctx(), j); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DequeueDue(ctx(), 1); err != nil {
		t.Fatal(err)
	}

	// A failed attempt goes back to pending with a past-due retry time.
	j.State = queue.StatePending
	j.AttemptCount = 1
	j.NextAttemptAt = time.Now().UTC().Add(-time.Second)
	if err := s.UpdateJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.DequeueDue(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}
	if claimed[0].AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", claimed[0].AttemptCount)
	}
}

func TestPurgePendingMatchesInstallation(t *testing.T) {
	s := newTestStore(t)

	instID := id.NewInstallationID()
	other := id.NewInstallationID()

	for _, j := range []*queue.Job{
		testJob(instID.String() + "/C123"),
		testJob(instID.String() + "/C456"),
		testJob(other.String()),
	} {
		if _, err := s.EnqueueJob(ctx(), j); err != nil {
			t.Fatal(err)
		}
	}

	// Purging by installation ID removes pending jobs across its channels.
	n, err := s.PurgePending(ctx(), instID.String())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("purged = %d, want 2", n)
	}
	if left, _ := s.CountPending(ctx()); left != 1 {
		t.Fatalf("pending = %d, want 1", left)
	}

	// Purging by exact channel destination works too.
	chJob := testJob(other.String() + "/C9")
	if _, err := s.EnqueueJob(ctx(), chJob); err != nil {
		t.Fatal(err)
	}
	n, err = s.PurgePending(ctx(), chJob.DestinationID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
}

func TestEvictCompleted(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		j := testJob("dest-1")
		if _, err := s.EnqueueJob(ctx(), j); err != nil {
			t.Fatal(err)
		}
		done := now.Add(-time.Duration(i) * time.Hour)
		j.State = queue.StateCompleted
		j.CompletedAt = &done
		if err := s.UpdateJob(ctx(), j); err != nil {
			t.Fatal(err)
		}
	}

	// Keep the newest two.
	n, err := s.EvictCompleted(ctx(), 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("evicted = %d, want 2", n)
	}

	// Age bound drops the one older than 30 minutes.
	n, err = s.EvictCompleted(ctx(), 0, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("evicted by age = %d, want 1", n)
	}
}

func TestListJobsByDestination(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.EnqueueJob(ctx(), testJob("dest-1")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.EnqueueJob(ctx(), testJob("dest-2")); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListJobsByDestination(ctx(), "dest-1", queue.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("jobs = %d, want 3", len(got))
	}

	got, err = s.ListJobsByDestination(ctx(), "dest-1", queue.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("limited jobs = %d, want 2", len(got))
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
	s := newTestStore(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := s.AppendRecord(ctx(), testRecord("dest-1", now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Fatal("records not newest-first")
	}

	since := now.Add(90 * time.Second)
	got, err = s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{Since: &since})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("since-filtered = %d, want 1", len(got))
	}

	got, _ = s.ListRecordsByDestination(ctx(), "dest-1", audit.QueryOpts{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limited = %d, want 2", len(got))
	}
}

func TestPruneRecords(t *testing.T) {
	s := newTestStore(t)

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

func TestDLQPushListReplay(t *testing.T) {
	s := newTestStore(t)

	e := testEntry(time.Now().UTC())
	if err := s.PushDLQ(ctx(), e); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListDLQ(ctx(), dlq.ListOpts{TeamID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0].LastStatusCode != 500 {
		t.Fatalf("status = %d", got[0].LastStatusCode)
	}

	if err := s.ReplayDLQ(ctx(), e.ID); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.DequeueDue(ctx(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("replayed jobs = %d, want 1", len(jobs))
	}
	if string(jobs[0].Payload) != `{"text":"hi"}` {
		t.Fatalf("payload = %s", jobs[0].Payload)
	}

	entry, err := s.GetDLQ(ctx(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ReplayedAt == nil {
		t.Fatal("ReplayedAt not set")
	}

	if err := s.ReplayDLQ(ctx(), id.NewDLQID()); !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDLQPurgeAndTrim(t *testing.T) {
	s := newTestStore(t)

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
