package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"railwars.gg/internal/jobs"
)

// Journal keeps unacknowledged jobs across restarts.
type Journal struct {
	db *sql.DB
}

func (s *Store) Journal() *Journal { return &Journal{db: s.db} }

func (j *Journal) Put(ctx context.Context, job jobs.Job) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO job_journal (id, queue, key, payload, attempts, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET attempts = excluded.attempts`,
		job.ID, job.Queue, job.Key, []byte(job.Payload), job.Attempts, toNanos(job.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("journal job %s: %w", job.ID, err)
	}
	return nil
}

func (j *Journal) Delete(ctx context.Context, id string) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM job_journal WHERE id = ?`, id)
	return err
}

// Pending returns queue's journaled jobs, oldest first.
func (j *Journal) Pending(ctx context.Context, queue string) ([]jobs.Job, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, queue, key, payload, attempts, enqueued_at FROM job_journal WHERE queue = ? ORDER BY enqueued_at, id`,
		queue)
	if err != nil {
		return nil, fmt.Errorf("list journal %s: %w", queue, err)
	}
	defer rows.Close()
	var out []jobs.Job
	for rows.Next() {
		var (
			job     jobs.Job
			payload []byte
			at      int64
		)
		if err := rows.Scan(&job.ID, &job.Queue, &job.Key, &payload, &job.Attempts, &at); err != nil {
			return nil, err
		}
		job.Payload = payload
		job.EnqueuedAt = fromNanos(at)
		out = append(out, job)
	}
	return out, rows.Err()
}

// Counts returns the number of journaled jobs per queue.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT queue, COUNT(*) FROM job_journal GROUP BY queue`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			q string
			n int
		)
		if err := rows.Scan(&q, &n); err != nil {
			return nil, err
		}
		out[q] = n
	}
	return out, rows.Err()
}
