package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
	"github.com/supermarkhq/courier/internal/entity"
	"github.com/supermarkhq/courier/queue"
)

const jobColumns = `id, dedup_key, destination_id, destination_url, headers, payload, signature,
event_id, event_type, team_id, state, attempt_count, max_attempts, next_attempt_at,
last_error, last_status_code, completed_at, created_at, updated_at`

// installationIDOf extracts the installation part of a destination ID.
// Channel destinations are "<installationID>/<channelID>".
func installationIDOf(destinationID string) string {
	if i := strings.IndexByte(destinationID, '/'); i >= 0 {
		return destinationID[:i]
	}
	return destinationID
}

func scanJob(row interface{ Scan(...any) error }) (*queue.Job, error) {
	var (
		jobID, dedupKey, destID, destURL string
		headersJSON                      string
		payload                          []byte
		signature, eventID, eventType    string
		teamID, state                    string
		attemptCount, maxAttempts        int
		nextAttemptAt                    string
		lastError                        string
		lastStatusCode                   int
		completedAt                      sql.NullString
		createdAt, updatedAt             string
	)
	if err := row.Scan(&jobID, &dedupKey, &destID, &destURL, &headersJSON, &payload, &signature,
		&eventID, &eventType, &teamID, &state, &attemptCount, &maxAttempts, &nextAttemptAt,
		&lastError, &lastStatusCode, &completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsedJobID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", jobID, err)
	}
	parsedEventID, err := id.ParseEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", eventID, err)
	}
	var headers map[string]string
	if headersJSON != "" && headersJSON != "{}" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	nextAt, err := parseTime(nextAttemptAt)
	if err != nil {
		return nil, err
	}
	completed, err := parseTimePtr(completedAt)
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

	return &queue.Job{
		Entity:         entity.Entity{CreatedAt: created, UpdatedAt: updated},
		ID:             parsedJobID,
		DedupKey:       dedupKey,
		DestinationID:  destID,
		DestinationURL: destURL,
		Headers:        headers,
		Payload:        payload,
		Signature:      signature,
		EventID:        parsedEventID,
		EventType:      event.Type(eventType),
		TeamID:         teamID,
		State:          queue.State(state),
		AttemptCount:   attemptCount,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  nextAt,
		LastError:      lastError,
		LastStatusCode: lastStatusCode,
		CompletedAt:    completed,
	}, nil
}

// EnqueueJob persists a pending job, deduplicated on DedupKey. The partial
// unique index on active dedup keys decides the race.
func (s *Store) EnqueueJob(ctx context.Context, j *queue.Job) (*queue.Job, error) {
	headersJSON, err := json.Marshal(j.Headers)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: encode headers: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO courier_jobs (id, dedup_key, destination_id, installation_id, destination_url,
headers, payload, signature, event_id, event_type, team_id, state, attempt_count,
max_attempts, next_attempt_at, last_error, last_status_code, completed_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		j.ID.String(), j.DedupKey, j.DestinationID, installationIDOf(j.DestinationID), j.DestinationURL,
		string(headersJSON), j.Payload, j.Signature, j.EventID.String(), string(j.EventType),
		j.TeamID, string(j.State), j.AttemptCount, j.MaxAttempts, fmtTime(j.NextAttemptAt),
		j.LastError, j.LastStatusCode, fmtTimePtr(j.CompletedAt), fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: enqueue job: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the dedup race; return the active job holding the key.
		row := s.db.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM courier_jobs
WHERE dedup_key = ? AND state IN ('pending', 'inflight')`, j.DedupKey)
		existing, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: enqueue dedup lookup: %w", err)
		}
		return existing, nil
	}
	return j, nil
}

// DequeueDue atomically claims up to limit due jobs, marking them in flight.
func (s *Store) DequeueDue(ctx context.Context, limit int) ([]*queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id FROM courier_jobs
WHERE state = 'pending' AND next_attempt_at <= ?
ORDER BY next_attempt_at ASC
LIMIT ?`, fmtTime(now()), limit)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: select due: %w", err)
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var jobID string
		if err := rows.Scan(&jobID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("courier/sqlite: scan due id: %w", err)
		}
		ids = append(ids, jobID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: select due: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for _, jobID := range ids {
		// The state guard makes the claim safe against a concurrent poller.
		res, err := s.db.ExecContext(ctx, `
UPDATE courier_jobs SET state = 'inflight', updated_at = ?
WHERE id = ? AND state = 'pending'`, fmtTime(now()), jobID)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		j, err := s.getJobByID(ctx, jobID)
		if err != nil {
			if err == queue.ErrJobNotFound {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// UpdateJob persists attempt results and state transitions.
func (s *Store) UpdateJob(ctx context.Context, j *queue.Job) error {
	j.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
UPDATE courier_jobs
SET state = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?,
    last_status_code = ?, completed_at = ?, updated_at = ?
WHERE id = ?`,
		string(j.State), j.AttemptCount, fmtTime(j.NextAttemptAt), j.LastError,
		j.LastStatusCode, fmtTimePtr(j.CompletedAt), fmtTime(j.UpdatedAt), j.ID.String())
	if err != nil {
		return fmt.Errorf("courier/sqlite: update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	return s.getJobByID(ctx, jobID.String())
}

func (s *Store) getJobByID(ctx context.Context, jobID string) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM courier_jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/sqlite: get job: %w", err)
	}
	return j, nil
}

// ListJobsByDestination returns jobs for a destination, newest first.
func (s *Store) ListJobsByDestination(ctx context.Context, destinationID string, opts queue.ListOpts) ([]*queue.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM courier_jobs WHERE destination_id = ?`
	args := []any{destinationID}
	if opts.State != nil {
		q += ` AND state = ?`
		args = append(args, string(*opts.State))
	}
	q += ` ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("courier/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var result []*queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: list jobs: %w", err)
	}
	return result, nil
}

// PurgePending removes pending jobs for a destination or installation.
func (s *Store) PurgePending(ctx context.Context, destinationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_jobs
WHERE state = 'pending' AND (destination_id = ? OR installation_id = ?)`,
		destinationID, destinationID)
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: purge pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: purge pending: %w", err)
	}
	return n, nil
}

// CountPending returns the number of jobs awaiting attempt.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM courier_jobs WHERE state = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: count pending: %w", err)
	}
	return count, nil
}

// EvictCompleted drops completed jobs beyond keep or older than maxAge.
func (s *Store) EvictCompleted(ctx context.Context, keep int, maxAge time.Duration) (int64, error) {
	var total int64

	if maxAge > 0 {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_jobs
WHERE state = 'completed' AND completed_at < ?`, fmtTime(now().Add(-maxAge)))
		if err != nil {
			return total, fmt.Errorf("courier/sqlite: evict by age: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if keep > 0 {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_jobs
WHERE state = 'completed' AND id NOT IN (
    SELECT id FROM courier_jobs WHERE state = 'completed'
    ORDER BY completed_at DESC LIMIT ?
)`, keep)
		if err != nil {
			return total, fmt.Errorf("courier/sqlite: evict by count: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
