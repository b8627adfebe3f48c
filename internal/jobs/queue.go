// Package jobs runs bounded worker pools with at-least-once delivery and
// per-key serialization.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/protocol"
)

type Config struct {
	Name          string
	Concurrency   int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	c.Name = strings.TrimSpace(c.Name)
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	return c
}

type Stats struct {
	Submitted   uint64
	Coalesced   uint64
	Acked       uint64
	Dropped     uint64
	Dead        uint64
	Interrupted uint64
	InFlight    int
	Running     int
}

// Queue delivers jobs to handler on at most Concurrency workers. Jobs sharing a
// non-empty Key never run concurrently: while one is active, a single
// follow-up is held and newer duplicates replace it.
type Queue struct {
	cfg     Config
	handler Handler
	journal Journal
	metrics *Metrics
	log     logrus.FieldLogger

	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	idle     *sync.Cond
	active   map[string]struct{}
	pending  map[string]Job
	inFlight int
	closed   bool

	submitted   atomic.Uint64
	coalesced   atomic.Uint64
	acked       atomic.Uint64
	dropped     atomic.Uint64
	dead        atomic.Uint64
	interrupted atomic.Uint64
}

func New(cfg Config, handler Handler, journal Journal, metrics *Metrics, logger logrus.FieldLogger) (*Queue, error) {
	cfg = cfg.normalized()
	if cfg.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("queue %s: handler is required", cfg.Name)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("queue", cfg.Name)

	pool, err := ants.NewPool(cfg.Concurrency, ants.WithPanicHandler(func(p any) {
		log.WithField("panic", p).Error("job worker panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("queue %s: create pool: %w", cfg.Name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:     cfg,
		handler: handler,
		journal: journal,
		metrics: metrics,
		log:     log,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		active:  map[string]struct{}{},
		pending: map[string]Job{},
	}
	q.idle = sync.NewCond(&q.mu)
	return q, nil
}

func (q *Queue) Name() string { return q.cfg.Name }

// Submit journals job and hands it to a worker. It blocks while every worker
// is busy, which bounds callers that flood the queue.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.ID == "" {
		return fmt.Errorf("queue %s: job id is required", q.cfg.Name)
	}
	job.Queue = q.cfg.Name
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if q.journal != nil {
		if err := q.journal.Put(ctx, job); err != nil {
			return fmt.Errorf("queue %s: journal job %s: %w", q.cfg.Name, job.ID, err)
		}
	}
	return q.enqueue(job)
}

// Recover redelivers journaled jobs left by a previous process.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	pending, err := q.journal.Pending(ctx, q.cfg.Name)
	if err != nil {
		return 0, fmt.Errorf("queue %s: load journal: %w", q.cfg.Name, err)
	}
	n := 0
	for _, job := range pending {
		if err := q.enqueue(job); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.log.WithField("jobs", n).Info("redelivering journaled jobs")
	}
	return n, nil
}

func (q *Queue) enqueue(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.submitted.Add(1)
	q.metrics.submitted.WithLabelValues(q.cfg.Name).Inc()

	if job.Key != "" {
		if _, busy := q.active[job.Key]; busy {
			prev, replaced := q.pending[job.Key]
			q.pending[job.Key] = job
			if !replaced {
				q.inFlight++
				q.metrics.inFlight.WithLabelValues(q.cfg.Name).Inc()
			}
			q.mu.Unlock()
			if replaced {
				q.coalesced.Add(1)
				q.metrics.coalesced.WithLabelValues(q.cfg.Name).Inc()
				q.forget(prev)
				q.log.WithFields(logrus.Fields{"key": job.Key, "job_id": prev.ID}).Debug("coalesced duplicate job")
			}
			return nil
		}
		q.active[job.Key] = struct{}{}
	}
	q.inFlight++
	q.metrics.inFlight.WithLabelValues(q.cfg.Name).Inc()
	q.mu.Unlock()

	return q.dispatch(job)
}

func (q *Queue) dispatch(job Job) error {
	err := q.pool.Submit(func() { q.run(job) })
	if err != nil {
		q.finish(job, false)
		return fmt.Errorf("queue %s: dispatch job %s: %w", q.cfg.Name, job.ID, err)
	}
	return nil
}

func (q *Queue) run(job Job) {
	start := time.Now()
	outcome := q.process(&job)
	q.metrics.duration.WithLabelValues(q.cfg.Name).Observe(time.Since(start).Seconds())
	q.metrics.completed.WithLabelValues(q.cfg.Name, outcome).Inc()
	q.finish(job, true)
}

func (q *Queue) process(job *Job) string {
	log := q.log.WithFields(logrus.Fields{"job_id": job.ID, "key": job.Key})

	op := func() (struct{}, error) {
		job.Attempts++
		err := q.handle(job)
		if err == nil {
			return struct{}{}, nil
		}
		if IsDrop(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if q.ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": job.Attempts,
			"code":    protocol.CodeOf(err),
		}).Warn("job attempt failed")
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = q.cfg.RetryBackoff
	eb.MaxInterval = q.cfg.RetryMaxDelay

	_, err := backoff.Retry(q.ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
	)
	switch {
	case err == nil:
		q.acked.Add(1)
		q.forget(*job)
		return "ack"
	case IsDrop(err):
		q.dropped.Add(1)
		log.WithError(err).WithField("code", protocol.CodeOf(err)).Warn("job dropped")
		q.forget(*job)
		return "drop"
	case q.ctx.Err() != nil:
		// Left in the journal for the next process.
		q.interrupted.Add(1)
		log.WithError(err).Info("job interrupted by shutdown")
		return "interrupted"
	default:
		q.dead.Add(1)
		log.WithError(err).WithFields(logrus.Fields{
			"attempts": job.Attempts,
			"code":     protocol.CodeOf(err),
		}).Error("job exhausted retries")
		q.forget(*job)
		return "dead"
	}
}

func (q *Queue) handle(job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panic: %v", p)
		}
	}()
	return q.handler(q.ctx, *job)
}

func (q *Queue) forget(job Job) {
	if q.journal == nil {
		return
	}
	if err := q.journal.Delete(context.Background(), job.ID); err != nil {
		q.log.WithError(err).WithField("job_id", job.ID).Error("remove job from journal")
	}
}

// finish releases job's key, promoting the held follow-up if there is one.
func (q *Queue) finish(job Job, ran bool) {
	q.mu.Lock()
	var next *Job
	if job.Key != "" {
		nj, held := q.pending[job.Key]
		if held {
			delete(q.pending, job.Key)
		}
		if held && ran && !q.closed {
			next = &nj
		} else {
			delete(q.active, job.Key)
			if held {
				// Still journaled; Recover picks it up after restart.
				q.inFlight--
				q.metrics.inFlight.WithLabelValues(q.cfg.Name).Dec()
			}
		}
	}
	q.inFlight--
	q.metrics.inFlight.WithLabelValues(q.cfg.Name).Dec()
	if q.inFlight == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()

	if next != nil {
		// A worker must not block on the pool it is running in.
		go func(nj Job) {
			if err := q.dispatch(nj); err != nil {
				q.log.WithError(err).Error("dispatch follow-up job")
			}
		}(*next)
	}
}

// Drain blocks until no job is running or held, or ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.inFlight > 0 {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, interrupts retries, and waits for workers.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	err := q.Drain(ctx)
	q.pool.Release()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("queue %s: close: %w", q.cfg.Name, err)
	}
	return err
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	inFlight := q.inFlight
	q.mu.Unlock()
	return Stats{
		Submitted:   q.submitted.Load(),
		Coalesced:   q.coalesced.Load(),
		Acked:       q.acked.Load(),
		Dropped:     q.dropped.Load(),
		Dead:        q.dead.Load(),
		Interrupted: q.interrupted.Load(),
		InFlight:    inFlight,
		Running:     q.pool.Running(),
	}
}
