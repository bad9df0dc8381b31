package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/supermarkhq/courier/dlq"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
)

const dlqColumns = `id, job_id, event_id, destination_id, event_type, team_id, url, payload,
error, last_status_code, attempt_count, failed_at, replayed_at, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*dlq.Entry, error) {
	var (
		entryID, jobID, eventID, destID string
		eventType, teamID, url          string
		payload                         []byte
		errMsg                          string
		lastStatusCode, attemptCount    int
		failedAt                        string
		replayedAt                      sql.NullString
		createdAt, updatedAt            string
	)
	if err := row.Scan(&entryID, &jobID, &eventID, &destID, &eventType, &teamID, &url, &payload,
		&errMsg, &lastStatusCode, &attemptCount, &failedAt, &replayedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsedEntryID, err := id.ParseDLQID(entryID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq entry ID %q: %w", entryID, err)
	}
	parsedJobID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", jobID, err)
	}
	parsedEventID, err := id.ParseEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", eventID, err)
	}
	failed, err := parseTime(failedAt)
	if err != nil {
		return nil, err
	}
	replayed, err := parseTimePtr(replayedAt)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &dlq.Entry{
		Entity:         entity.Entity{CreatedAt: created, UpdatedAt: updated},
		ID:             parsedEntryID,
		JobID:          parsedJobID,
		EventID:        parsedEventID,
		DestinationID:  destID,
		EventType:      event.Type(eventType),
		TeamID:         teamID,
		URL:            url,
		Payload:        payload,
		Error:          errMsg,
		LastStatusCode: lastStatusCode,
		AttemptCount:   attemptCount,
		FailedAt:       failed,
		ReplayedAt:     replayed,
	}, nil
}

// PushDLQ adds a permanently failed delivery to the set.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO courier_dlq (`+dlqColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.JobID.String(), entry.EventID.String(), entry.DestinationID,
		string(entry.EventType), entry.TeamID, entry.URL, entry.Payload,
		entry.Error, entry.LastStatusCode, entry.AttemptCount, fmtTime(entry.FailedAt),
		fmtTimePtr(entry.ReplayedAt), fmtTime(entry.CreatedAt), fmtTime(entry.UpdatedAt))
	if err != nil {
		return fmt.Errorf("courier/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries, newest first, optionally filtered.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	q := `SELECT ` + dlqColumns + ` FROM courier_dlq WHERE 1=1`
	var args []any
	if opts.TeamID != "" {
		q += ` AND team_id = ?`
		args = append(args, opts.TeamID)
	}
	if opts.DestinationID != "" {
		q += ` AND destination_id = ?`
		args = append(args, opts.DestinationID)
	}
	if opts.From != nil {
		q += ` AND failed_at >= ?`
		args = append(args, fmtTime(*opts.From))
	}
	if opts.To != nil {
		q += ` AND failed_at <= ?`
		args = append(args, fmtTime(*opts.To))
	}
	q += ` ORDER BY failed_at DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		q += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var result []*dlq.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: scan dlq entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: list dlq: %w", err)
	}
	return result, nil
}

// GetDLQ returns an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.ID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+dlqColumns+` FROM courier_dlq WHERE id = ?`, entryID.String())
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("courier/sqlite: get dlq entry: %w", err)
	}
	return e, nil
}

// ReplayDLQ re-enqueues an entry as a fresh pending job and marks it
// replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.ID) error {
	e, err := s.GetDLQ(ctx, entryID)
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
	if orig, err := s.GetJob(ctx, e.JobID); err == nil {
		j.Signature = orig.Signature
		j.Headers = orig.Headers
		j.MaxAttempts = orig.MaxAttempts
	}

	if _, err := s.EnqueueJob(ctx, j); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE courier_dlq SET replayed_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(ts), fmtTime(ts), entryID.String())
	if err != nil {
		return fmt.Errorf("courier/sqlite: mark replayed: %w", err)
	}
	return nil
}

// PurgeDLQ deletes entries older than the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_dlq WHERE failed_at < ?`, fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: purge dlq: %w", err)
	}
	return n, nil
}

// TrimDLQ drops the oldest entries beyond keep.
func (s *Store) TrimDLQ(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_dlq WHERE id NOT IN (
    SELECT id FROM courier_dlq ORDER BY failed_at DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: trim dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: trim dlq: %w", err)
	}
	return n, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courier_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: count dlq: %w", err)
	}
	return count, nil
}
