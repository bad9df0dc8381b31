package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
)

// recordModel is the JSON representation stored in Redis.
type recordModel struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	DestinationID string    `json:"destination_id"`
	JobID         string    `json:"job_id"`
	EventType     string    `json:"event_type"`
	URL           string    `json:"url"`
	HTTPStatus    int       `json:"http_status"`
	RequestBody   string    `json:"request_body"`
	ResponseBody  string    `json:"response_body,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toRecordModel(rec *audit.Record) *recordModel {
	return &recordModel{
		ID:            rec.ID.String(),
		EventID:       rec.EventID.String(),
		DestinationID: rec.DestinationID,
		JobID:         rec.JobID.String(),
		EventType:     string(rec.EventType),
		URL:           rec.URL,
		HTTPStatus:    rec.HTTPStatus,
		RequestBody:   rec.RequestBody,
		ResponseBody:  rec.ResponseBody,
		CreatedAt:     rec.CreatedAt,
	}
}

func fromRecordModel(m *recordModel) (*audit.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.JobID, err)
	}
	return &audit.Record{
		ID:            recID,
		EventID:       evtID,
		DestinationID: m.DestinationID,
		JobID:         jobID,
		EventType:     event.Type(m.EventType),
		URL:           m.URL,
		HTTPStatus:    m.HTTPStatus,
		RequestBody:   m.RequestBody,
		ResponseBody:  m.ResponseBody,
		CreatedAt:     m.CreatedAt,
	}, nil
}

// AppendRecord persists a record and its indexes.
func (s *Store) AppendRecord(ctx context.Context, rec *audit.Record) error {
	m := toRecordModel(rec)

	if err := s.setEntity(ctx, entityKey(prefixRecord, m.ID), m); err != nil {
		return fmt.Errorf("courier/redis: append record: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zRecordAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zRecordDest+m.DestinationID, goredis.Z{Score: score, Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: append record indexes: %w", err)
	}
	return nil
}

// ListRecordsByDestination returns records for a destination, newest first.
func (s *Store) ListRecordsByDestination(ctx context.Context, destinationID string, opts audit.QueryOpts) ([]*audit.Record, error) {
	key := zRecordDest + destinationID

	var ids []string
	var err error
	if opts.Since != nil {
		ids, err = s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
			Min: fmt.Sprintf("%f", scoreFromTime(*opts.Since)),
			Max: "+inf",
		}).Result()
	} else {
		ids, err = s.rdb.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list records: %w", err)
	}

	result := make([]*audit.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m recordModel
		if err := s.getEntity(ctx, entityKey(prefixRecord, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("courier/redis: get record: %w", err)
		}
		rec, err := fromRecordModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

// PruneRecords deletes records older than the cutoff.
func (s *Store) PruneRecords(ctx context.Context, before time.Time) (int64, error) {
	cutoff := fmt.Sprintf("%f", scoreFromTime(before))
	ids, err := s.rdb.ZRangeByScore(ctx, zRecordAll, &goredis.ZRangeBy{
		Min: "-inf", Max: "(" + cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: prune records: %w", err)
	}

	var count int64
	for _, recID := range ids {
		var m recordModel
		if err := s.getEntity(ctx, entityKey(prefixRecord, recID), &m); err != nil && !isRedisNil(err) {
			return count, fmt.Errorf("courier/redis: prune get: %w", err)
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixRecord, recID))
		pipe.ZRem(ctx, zRecordAll, recID)
		if m.DestinationID != "" {
			pipe.ZRem(ctx, zRecordDest+m.DestinationID, recID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("courier/redis: prune delete: %w", err)
		}
		count++
	}
	return count, nil
}
