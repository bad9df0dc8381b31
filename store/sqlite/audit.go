package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/supermarkhq/courier/audit"
	"github.com/supermarkhq/courier/event"
	"github.com/supermarkhq/courier/id"
)

const auditColumns = `id, event_id, destination_id, job_id, event_type, url, http_status, request_body, response_body, created_at`

func scanRecord(row interface{ Scan(...any) error }) (*audit.Record, error) {
	var (
		recID, eventID, destID, jobID string
		eventType, url                string
		httpStatus                    int
		requestBody, responseBody     string
		createdAt                     string
	)
	if err := row.Scan(&recID, &eventID, &destID, &jobID, &eventType, &url,
		&httpStatus, &requestBody, &responseBody, &createdAt); err != nil {
		return nil, err
	}

	parsedRecID, err := id.ParseRecordID(recID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", recID, err)
	}
	parsedEventID, err := id.ParseEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", eventID, err)
	}
	parsedJobID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", jobID, err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &audit.Record{
		ID:            parsedRecID,
		EventID:       parsedEventID,
		DestinationID: destID,
		JobID:         parsedJobID,
		EventType:     event.Type(eventType),
		URL:           url,
		HTTPStatus:    httpStatus,
		RequestBody:   requestBody,
		ResponseBody:  responseBody,
		CreatedAt:     created,
	}, nil
}

// AppendRecord persists a record.
func (s *Store) AppendRecord(ctx context.Context, rec *audit.Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO courier_audit (`+auditColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.EventID.String(), rec.DestinationID, rec.JobID.String(),
		string(rec.EventType), rec.URL, rec.HTTPStatus, rec.RequestBody, rec.ResponseBody,
		fmtTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("courier/sqlite: append record: %w", err)
	}
	return nil
}

// ListRecordsByDestination returns records for a destination, newest first.
func (s *Store) ListRecordsByDestination(ctx context.Context, destinationID string, opts audit.QueryOpts) ([]*audit.Record, error) {
	q := `SELECT ` + auditColumns + ` FROM courier_audit WHERE destination_id = ?`
	args := []any{destinationID}
	if opts.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, fmtTime(*opts.Since))
	}
	q += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/sqlite: list records: %w", err)
	}
	defer rows.Close()

	var result []*audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/sqlite: scan record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/sqlite: list records: %w", err)
	}
	return result, nil
}

// PruneRecords deletes records older than the cutoff.
func (s *Store) PruneRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM courier_audit WHERE created_at < ?`, fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: prune records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("courier/sqlite: prune records: %w", err)
	}
	return n, nil
}
