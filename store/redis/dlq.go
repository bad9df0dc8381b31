package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
)

// dlqModel is the JSON representation stored in Redis.
type dlqModel struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	EventID        string     `json:"event_id"`
	DestinationID  string     `json:"destination_id"`
	EventType      string     `json:"event_type"`
	TeamID         string     `json:"team_id"`
	URL            string     `json:"url"`
	Payload        []byte     `json:"payload"`
	Error          string     `json:"error"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	FailedAt       time.Time  `json:"failed_at"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:             e.ID.String(),
		JobID:          e.JobID.String(),
		EventID:        e.EventID.String(),
		DestinationID:  e.DestinationID,
		EventType:      string(e.EventType),
		TeamID:         e.TeamID,
		URL:            e.URL,
		Payload:        e.Payload,
		Error:          e.Error,
		LastStatusCode: e.LastStatusCode,
		AttemptCount:   e.AttemptCount,
		FailedAt:       e.FailedAt,
		ReplayedAt:     e.ReplayedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq entry ID %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.JobID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             entryID,
		JobID:          jobID,
		EventID:        evtID,
		DestinationID:  m.DestinationID,
		EventType:      event.Type(m.EventType),
		TeamID:         m.TeamID,
		URL:            m.URL,
		Payload:        m.Payload,
		Error:          m.Error,
		LastStatusCode: m.LastStatusCode,
		AttemptCount:   m.AttemptCount,
		FailedAt:       m.FailedAt,
		ReplayedAt:     m.ReplayedAt,
	}, nil
}

// PushDLQ adds a permanently failed delivery to the set.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQModel(entry)

	if err := s.setEntity(ctx, entityKey(prefixDLQ, m.ID), m); err != nil {
		return fmt.Errorf("courier/redis: push dlq: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("courier/redis: push dlq index: %w", err)
	}
	return nil
}

// ListDLQ returns entries, newest first, optionally filtered.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.rdb.ZRange(ctx, zDLQAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		e, err := s.loadDLQ(ctx, ids[i])
		if err != nil {
			if err == dlq.ErrNotFound {
				continue
			}
			return nil, err
		}
		if !matchDLQOpts(e, opts) {
			continue
		}
		result = append(result, e)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
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

// GetDLQ returns an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	return s.loadDLQ(ctx, entryID.String())
}

func (s *Store) loadDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	var m dlqModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
		if isRedisNil(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("courier/redis: get dlq entry: %w", err)
	}
	return fromDLQModel(&m)
}

// ReplayDLQ re-enqueues an entry as a fresh pending job and marks it
// replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.ID) error {
	e, err := s.loadDLQ(ctx, entryID.String())
	if err != nil {
		return err
	}

	ts := now()
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
		NextAttemptAt:  ts,
	}
	// The original job, if still retained, carries the signature and
	// provider headers the entry does not.
	if orig, err := s.loadJob(ctx, e.JobID.String()); err == nil {
		j.Signature = orig.Signature
		j.Headers = orig.Headers
		j.MaxAttempts = orig.MaxAttempts
	}

	if _, err := s.EnqueueJob(ctx, j); err != nil {
		return err
	}

	e.ReplayedAt = &ts
	e.UpdatedAt = ts
	if err := s.setEntity(ctx, entityKey(prefixDLQ, entryID.String()), toDLQModel(e)); err != nil {
		return fmt.Errorf("courier/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeDLQ deletes entries older than the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	cutoff := fmt.Sprintf("%f", scoreFromTime(before))
	ids, err := s.rdb.ZRangeByScore(ctx, zDLQAll, &goredis.ZRangeBy{
		Min: "-inf", Max: "(" + cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge dlq: %w", err)
	}
	return s.deleteDLQEntries(ctx, ids)
}

// TrimDLQ drops the oldest entries beyond keep.
func (s *Store) TrimDLQ(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	card, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: trim dlq: %w", err)
	}
	excess := card - int64(keep)
	if excess <= 0 {
		return 0, nil
	}

	// Oldest first; everything beyond keep goes.
	ids, err := s.rdb.ZRange(ctx, zDLQAll, 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: trim dlq range: %w", err)
	}
	return s.deleteDLQEntries(ctx, ids)
}

func (s *Store) deleteDLQEntries(ctx context.Context, ids []string) (int64, error) {
	var count int64
	for _, entryID := range ids {
		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("courier/redis: delete dlq entry: %w", err)
		}
		count++
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count dlq: %w", err)
	}
	return count, nil
}
