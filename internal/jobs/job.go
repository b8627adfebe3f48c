package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of queued work. Payload carries everything a retry needs;
// the queue keeps no other per-job state.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewJob encodes payload; key is the serialization key (may be empty).
func NewJob(key string, payload any) (Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode job payload: %w", err)
	}
	return Job{
		ID:         uuid.NewString(),
		Key:        key,
		Payload:    b,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode job %s: %w", j.ID, Drop(err))
	}
	return nil
}

// Handler processes one job. Returning nil acknowledges it; Drop(err) acks it
// as a terminal failure; any other error is retried.
type Handler func(ctx context.Context, job Job) error

// Journal durably stores unacknowledged jobs so a restart can redeliver them.
type Journal interface {
	Put(ctx context.Context, job Job) error
	Delete(ctx context.Context, id string) error
	Pending(ctx context.Context, queue string) ([]Job, error)
}

type dropError struct{ err error }

func (e *dropError) Error() string { return e.err.Error() }
func (e *dropError) Unwrap() error { return e.err }

// Drop marks err as terminal: the job is acknowledged and never retried.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	var d *dropError
	if errors.As(err, &d) {
		return err
	}
	return &dropError{err: err}
}

func IsDrop(err error) bool {
	var d *dropError
	return errors.As(err, &d)
}

var ErrClosed = errors.New("queue closed")
