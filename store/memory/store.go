// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/integration"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
	courierstore "github.com/supermarkhq/courier/store"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	installations     map[string]*integration.Installation // keyed by teamID + "/" + provider
	installationsByID map[string]*integration.Installation // keyed by ID string
	jobs              map[string]*queue.Job                // keyed by ID string
	jobsByDedupKey    map[string]*queue.Job                // active (non-terminal) jobs only
	records           []*audit.Record                      // append order
	dlqEntries        map[string]*dlq.Entry                // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		installations:     make(map[string]*integration.Installation),
		installationsByID: make(map[string]*integration.Installation),
		jobs:              make(map[string]*queue.Job),
		jobsByDedupKey:    make(map[string]*queue.Job),
		dlqEntries:        make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courierstore.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// integration.Store
// ──────────────────────────────────────────────────

func installationKey(teamID string, p integration.Provider) string {
	return teamID + "/" + string(p)
}

// CreateInstallation persists a new installation.
func (s *Store) CreateInstallation(_ context.Context, inst *integration.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.installations[installationKey(inst.TeamID, inst.Provider)] = inst
	s.installationsByID[inst.ID.String()] = inst
	return nil
}

// GetInstallation returns the installation for a (team, provider) pair.
func (s *Store) GetInstallation(_ context.Context, teamID string, p integration.Provider) (*integration.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.installations[installationKey(teamID, p)]
	if !ok {
		return nil, integration.ErrNotInstalled
	}
	return inst, nil
}

// GetInstallationByID returns an installation by ID.
func (s *Store) GetInstallationByID(_ context.Context, instID id.ID) (*integration.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.installationsByID[instID.String()]
	if !ok {
		return nil, integration.ErrNotInstalled
	}
	return inst, nil
}

// UpdateInstallation modifies an existing installation.
func (s *Store) UpdateInstallation(_ context.Context, inst *integration.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.installationsByID[inst.ID.String()]; !ok {
		return integration.ErrNotInstalled
	}
	inst.UpdatedAt = time.Now().UTC()
	s.installations[installationKey(inst.TeamID, inst.Provider)] = inst
	s.installationsByID[inst.ID.String()] = inst
	return nil
}

// DeleteInstallation removes the installation for a (team, provider) pair.
func (s *Store) DeleteInstallation(_ context.Context, teamID string, p integration.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.installations[installationKey(teamID, p)]
	if !ok {
		return integration.ErrNotInstalled
	}
	delete(s.installations, installationKey(teamID, p))
	delete(s.installationsByID, inst.ID.String())
	return nil
}

// ListInstallations returns all installations for a team.
func (s *Store) ListInstallations(_ context.Context, teamID string) ([]*integration.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*integration.Installation, 0, len(s.installations))
	for _, inst := range s.installations {
		if inst.TeamID != teamID {
			continue
		}
		result = append(result, inst)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Provider < result[j].Provider
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// queue.Store
// ──────────────────────────────────────────────────

// cloneJob copies a job so callers and workers never share a mutable struct.
func cloneJob(j *queue.Job) *queue.Job {
	cp := *j
	return &cp
}

// EnqueueJob persists a pending job, deduplicated on DedupKey.
func (s *Store) EnqueueJob(_ context.Context, j *queue.Job) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobsByDedupKey[j.DedupKey]; ok {
		return cloneJob(existing), nil
	}

	stored := cloneJob(j)
	s.jobs[stored.ID.String()] = stored
	s.jobsByDedupKey[stored.DedupKey] = stored
	return j, nil
}

// DequeueDue atomically claims up to limit due jobs, marking them in flight.
func (s *Store) DequeueDue(_ context.Context, limit int) ([]*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	due := make([]*queue.Job, 0, limit)
	for _, j := range s.jobs {
		if j.State != queue.StatePending || j.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, j)
	}

	// Oldest due first so a backlog drains in order.
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*queue.Job, 0, len(due))
	for _, j := range due {
		j.State = queue.StateInFlight
		j.UpdatedAt = now
		claimed = append(claimed, cloneJob(j))
	}
	return claimed, nil
}

// UpdateJob persists attempt results and state transitions.
func (s *Store) UpdateJob(_ context.Context, j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID.String()]; !ok {
		return queue.ErrJobNotFound
	}
	j.UpdatedAt = time.Now().UTC()
	stored := cloneJob(j)
	s.jobs[stored.ID.String()] = stored

	if stored.State.Terminal() {
		delete(s.jobsByDedupKey, stored.DedupKey)
	} else {
		s.jobsByDedupKey[stored.DedupKey] = stored
	}
	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.ID) (*queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// ListJobsByDestination returns jobs for a destination, newest first.
func (s *Store) ListJobsByDestination(_ context.Context, destinationID string, opts queue.ListOpts) ([]*queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*queue.Job, 0)
	for _, j := range s.jobs {
		if j.DestinationID != destinationID {
			continue
		}
		if opts.State != nil && j.State != *opts.State {
			continue
		}
		result = append(result, cloneJob(j))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// PurgePending removes pending jobs for a destination or installation.
func (s *Store) PurgePending(_ context.Context, destinationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, j := range s.jobs {
		if j.State != queue.StatePending {
			continue
		}
		if !matchesDestination(j.DestinationID, destinationID) {
			continue
		}
		delete(s.jobs, k)
		delete(s.jobsByDedupKey, j.DedupKey)
		count++
	}
	return count, nil
}

// CountPending returns the number of jobs awaiting attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, j := range s.jobs {
		if j.State == queue.StatePending {
			count++
		}
	}
	return count, nil
}

// EvictCompleted drops completed jobs beyond keep or older than maxAge.
func (s *Store) EvictCompleted(_ context.Context, keep int, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := make([]*queue.Job, 0)
	for _, j := range s.jobs {
		if j.State == queue.StateCompleted {
			completed = append(completed, j)
		}
	}

	// Newest first; everything past keep goes.
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})

	cutoff := time.Now().UTC().Add(-maxAge)
	var count int64
	for i, j := range completed {
		tooMany := keep > 0 && i >= keep
		tooOld := maxAge > 0 && j.CreatedAt.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		delete(s.jobs, j.ID.String())
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// audit.Store
// ──────────────────────────────────────────────────

// AppendRecord persists a record.
func (s *Store) AppendRecord(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	return nil
}

// ListRecordsByDestination returns records newest first.
func (s *Store) ListRecordsByDestination(_ context.Context, destinationID string, opts audit.QueryOpts) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Record, 0)
	for _, rec := range s.records {
		if rec.DestinationID != destinationID {
			continue
		}
		if opts.Since != nil && rec.CreatedAt.Before(*opts.Since) {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// PruneRecords deletes records older than the cutoff.
func (s *Store) PruneRecords(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*audit.Record, 0, len(s.records))
	var count int64
	for _, rec := range s.records {
		if rec.CreatedAt.Before(before) {
			count++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// PushDLQ adds a permanently failed delivery to the set.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns entries, newest first, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if !matchDLQOpts(e, opts) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns an entry by ID.
func (s *Store) GetDLQ(_ context.Context, entryID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[entryID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	return e, nil
}

// ReplayDLQ re-enqueues an entry as a fresh pending job.
func (s *Store) ReplayDLQ(_ context.Context, entryID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[entryID.String()]
	if !ok {
		return dlq.ErrNotFound
	}

	now := time.Now().UTC()
	j := &queue.Job{
		Entity:         entity.New(),
		ID:             id.NewJobID(),
		DedupKey:       queue.DedupKey(e.DestinationID, e.EventID),
		DestinationID:  e.DestinationID,
		DestinationURL: e.URL,
		Payload:        e.Payload,
		EventID:        e.EventID,
		EventType:      e.EventType,
		TeamID:         e.TeamID,
		State:          queue.StatePending,
		MaxAttempts:    3,
		NextAttemptAt:  now,
	}
	// The original job, if still retained, carries the signature and
	// provider headers the entry does not.
	if orig, ok := s.jobs[e.JobID.String()]; ok {
		j.Signature = orig.Signature
		j.Headers = orig.Headers
		j.MaxAttempts = orig.MaxAttempts
	}

	// An active job for the same pair rides instead of duplicating.
	if _, ok := s.jobsByDedupKey[j.DedupKey]; !ok {
		s.jobs[j.ID.String()] = j
		s.jobsByDedupKey[j.DedupKey] = j
	}

	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ deletes entries older than the cutoff.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// TrimDLQ drops the oldest entries beyond keep.
func (s *Store) TrimDLQ(_ context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 || len(s.dlqEntries) <= keep {
		return 0, nil
	}

	all := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].FailedAt.After(all[j].FailedAt)
	})

	var count int64
	for _, e := range all[keep:] {
		delete(s.dlqEntries, e.ID.String())
		count++
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// matchesDestination reports whether a job's destination belongs to the
// given destination or installation ID. Channel destinations are named
// "<installationID>/<channelID>", so an installation ID matches by prefix.
func matchesDestination(jobDest, target string) bool {
	return jobDest == target || strings.HasPrefix(jobDest, target+"/")
}

func matchDLQOpts(e *dlq.Entry, opts dlq.ListOpts) bool {
	if opts.TeamID != "" && e.TeamID != opts.TeamID {
		return false
	}
	if opts.DestinationID != "" && e.DestinationID != opts.DestinationID {
		return false
	}
	if opts.From != nil && e.FailedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && e.FailedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
