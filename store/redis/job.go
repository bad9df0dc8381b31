package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
)

// jobModel is the JSON representation stored in Redis.
type jobModel struct {
	ID             string            `json:"id"`
	DedupKey       string            `json:"dedup_key"`
	DestinationID  string            `json:"destination_id"`
	DestinationURL string            `json:"destination_url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        []byte            `json:"payload"`
	Signature      string            `json:"signature"`
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	TeamID         string            `json:"team_id"`
	State          string            `json:"state"`
	AttemptCount   int               `json:"attempt_count"`
	MaxAttempts    int               `json:"max_attempts"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
	LastError      string            `json:"last_error,omitempty"`
	LastStatusCode int               `json:"last_status_code,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toJobModel(j *queue.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		DedupKey:       j.DedupKey,
		DestinationID:  j.DestinationID,
		DestinationURL: j.DestinationURL,
		Headers:        j.Headers,
		Payload:        j.Payload,
		Signature:      j.Signature,
		EventID:        j.EventID.String(),
		EventType:      string(j.EventType),
		TeamID:         j.TeamID,
		State:          string(j.State),
		AttemptCount:   j.AttemptCount,
		MaxAttempts:    j.MaxAttempts,
		NextAttemptAt:  j.NextAttemptAt,
		LastError:      j.LastError,
		LastStatusCode: j.LastStatusCode,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*queue.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &queue.Job{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             jobID,
		DedupKey:       m.DedupKey,
		DestinationID:  m.DestinationID,
		DestinationURL: m.DestinationURL,
		Headers:        m.Headers,
		Payload:        m.Payload,
		Signature:      m.Signature,
		EventID:        evtID,
		EventType:      event.Type(m.EventType),
		TeamID:         m.TeamID,
		State:          queue.State(m.State),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// claimScript atomically claims due jobs from the sorted set.
// KEYS[1] = courier:z:job:due
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// EnqueueJob persists a pending job, deduplicated on DedupKey.
func (s *Store) EnqueueJob(ctx context.Context, j *queue.Job) (*queue.Job, error) {
	dedupKey := uniqueJobDedup + j.DedupKey

	// SETNX on the dedup key decides the race; the loser returns the
	// existing job untouched. A dedup key whose job entity is missing
	// (a crash between SETNX and the entity write) is reclaimed, so the
	// second iteration retries the winner path at most once.
	for attempt := 0; attempt < 2; attempt++ {
		set, err := s.rdb.SetNX(ctx, dedupKey, j.ID.String(), 0).Result()
		if err != nil {
			return nil, fmt.Errorf("courier/redis: enqueue dedup: %w", err)
		}
		if !set {
			existingID, err := s.rdb.Get(ctx, dedupKey).Result()
			if err != nil {
				if isRedisNil(err) {
					continue
				}
				return nil, fmt.Errorf("courier/redis: enqueue dedup lookup: %w", err)
			}
			existing, err := s.loadJob(ctx, existingID)
			if err == queue.ErrJobNotFound {
				s.rdb.Del(ctx, dedupKey)
				continue
			}
			return existing, err
		}

		m := toJobModel(j)
		if err := s.setEntity(ctx, entityKey(prefixJob, m.ID), m); err != nil {
			s.rdb.Del(ctx, dedupKey)
			return nil, fmt.Errorf("courier/redis: enqueue job: %w", err)
		}

		pipe := s.rdb.Pipeline()
		pipe.ZAdd(ctx, zJobDue, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID})
		pipe.ZAdd(ctx, zJobDest+m.DestinationID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		pipe.ZAdd(ctx, zJobInst+jobInstallationID(m.DestinationID), goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			s.rdb.Del(ctx, dedupKey)
			s.rdb.Del(ctx, entityKey(prefixJob, m.ID))
			return nil, fmt.Errorf("courier/redis: enqueue job indexes: %w", err)
		}
		return j, nil
	}
	return nil, fmt.Errorf("courier/redis: enqueue dedup contention for %s", j.DedupKey)
}

// DequeueDue atomically claims up to limit due jobs, marking them in flight.
func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*queue.Job, error) {
	nowScore := fmt.Sprintf("%f", scoreFromTime(now()))
	ids, err := claimScript.Run(ctx, s.rdb, []string{zJobDue}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("courier/redis: claim script: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for _, jobID := range ids {
		key := entityKey(prefixJob, jobID)
		var m jobModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("courier/redis: dequeue get: %w", err)
		}

		m.State = string(queue.StateInFlight)
		m.UpdatedAt = now()
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("courier/redis: dequeue update: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// UpdateJob persists attempt results and state transitions.
func (s *Store) UpdateJob(ctx context.Context, j *queue.Job) error {
	j.UpdatedAt = now()
	m := toJobModel(j)
	key := entityKey(prefixJob, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: update job: %w", err)
	}

	pipe := s.rdb.Pipeline()
	if j.State == queue.StatePending {
		pipe.ZAdd(ctx, zJobDue, goredis.Z{Score: scoreFromTime(m.NextAttemptAt), Member: m.ID})
	}
	if j.State.Terminal() {
		pipe.Del(ctx, uniqueJobDedup+m.DedupKey)
	}
	if j.State == queue.StateCompleted && j.CompletedAt != nil {
		pipe.ZAdd(ctx, zJobCompleted, goredis.Z{Score: scoreFromTime(*j.CompletedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: update job indexes: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	return s.loadJob(ctx, jobID.String())
}

func (s *Store) loadJob(ctx context.Context, jobID string) (*queue.Job, error) {
	var m jobModel
	if err := s.getEntity(ctx, entityKey(prefixJob, jobID), &m); err != nil {
		if isRedisNil(err) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/redis: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobsByDestination returns jobs for a destination, newest first.
func (s *Store) ListJobsByDestination(ctx context.Context, destinationID string, opts queue.ListOpts) ([]*queue.Job, error) {
	ids, err := s.rdb.ZRange(ctx, zJobDest+destinationID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list by destination: %w", err)
	}

	result := make([]*queue.Job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		j, err := s.loadJob(ctx, ids[i])
		if err != nil {
			if err == queue.ErrJobNotFound {
				continue
			}
			return nil, err
		}
		if opts.State != nil && j.State != *opts.State {
			continue
		}
		result = append(result, j)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// PurgePending removes pending jobs for a destination or installation.
func (s *Store) PurgePending(ctx context.Context, destinationID string) (int64, error) {
	// Union of the per-destination and per-installation indexes covers both
	// a single channel destination and a whole installation.
	ids, err := s.rdb.ZRange(ctx, zJobInst+destinationID, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge pending: %w", err)
	}
	destIDs, err := s.rdb.ZRange(ctx, zJobDest+destinationID, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge pending: %w", err)
	}
	seen := make(map[string]bool, len(ids)+len(destIDs))
	for _, jid := range destIDs {
		if !seen[jid] {
			seen[jid] = true
			ids = append(ids, jid)
		}
	}

	var count int64
	for _, jobID := range ids {
		j, err := s.loadJob(ctx, jobID)
		if err != nil {
			if err == queue.ErrJobNotFound {
				continue
			}
			return count, err
		}
		if j.State != queue.StatePending {
			continue
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixJob, jobID))
		pipe.Del(ctx, uniqueJobDedup+j.DedupKey)
		pipe.ZRem(ctx, zJobDue, jobID)
		pipe.ZRem(ctx, zJobDest+j.DestinationID, jobID)
		pipe.ZRem(ctx, zJobInst+jobInstallationID(j.DestinationID), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("courier/redis: purge pending delete: %w", err)
		}
		count++
	}
	return count, nil
}

// CountPending returns the number of jobs awaiting attempt.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zJobDue).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count pending: %w", err)
	}
	return count, nil
}

// EvictCompleted drops completed jobs beyond keep or older than maxAge.
func (s *Store) EvictCompleted(ctx context.Context, keep int, maxAge time.Duration) (int64, error) {
	var evict []string

	if maxAge > 0 {
		cutoff := fmt.Sprintf("%f", scoreFromTime(now().Add(-maxAge)))
		old, err := s.rdb.ZRangeByScore(ctx, zJobCompleted, &goredis.ZRangeBy{
			Min: "-inf", Max: cutoff,
		}).Result()
		if err != nil {
			return 0, fmt.Errorf("courier/redis: evict by age: %w", err)
		}
		evict = append(evict, old...)
	}

	if keep > 0 {
		card, err := s.rdb.ZCard(ctx, zJobCompleted).Result()
		if err != nil {
			return 0, fmt.Errorf("courier/redis: evict count: %w", err)
		}
		if excess := card - int64(keep); excess > 0 {
			// Oldest first; everything beyond keep goes.
			over, err := s.rdb.ZRange(ctx, zJobCompleted, 0, excess-1).Result()
			if err != nil {
				return 0, fmt.Errorf("courier/redis: evict by count: %w", err)
			}
			evict = append(evict, over...)
		}
	}

	seen := make(map[string]bool, len(evict))
	var count int64
	for _, jobID := range evict {
		if seen[jobID] {
			continue
		}
		seen[jobID] = true

		j, err := s.loadJob(ctx, jobID)
		if err != nil {
			if err == queue.ErrJobNotFound {
				s.rdb.ZRem(ctx, zJobCompleted, jobID)
				continue
			}
			return count, err
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixJob, jobID))
		pipe.ZRem(ctx, zJobCompleted, jobID)
		pipe.ZRem(ctx, zJobDest+j.DestinationID, jobID)
		pipe.ZRem(ctx, zJobInst+jobInstallationID(j.DestinationID), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("courier/redis: evict delete: %w", err)
		}
		count++
	}
	return count, nil
}
