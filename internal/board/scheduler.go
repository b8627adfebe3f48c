package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/jobs"
)

// RailTick is the payload of one rail-tick job.
type RailTick struct {
	GameID string `json:"gameId"`
	Color  string `json:"color"`
}

// TickHandler runs rail-tick jobs against e. A board without a cursor is a
// terminal failure.
func (e *Engine) TickHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		var t RailTick
		if err := job.Decode(&t); err != nil {
			return err
		}
		if strings.TrimSpace(t.GameID) == "" || strings.TrimSpace(t.Color) == "" {
			return jobs.Drop(fmt.Errorf("rail tick %s: game id and color are required", job.ID))
		}
		_, err := e.AdvanceRail(ctx, t.GameID, t.Color)
		if errors.Is(err, ErrNoRailCursor) || errors.Is(err, ErrOutOfBounds) {
			return jobs.Drop(err)
		}
		return err
	}
}

type Submitter interface {
	Submit(ctx context.Context, job jobs.Job) error
}

type CursorLister interface {
	RailCursors(ctx context.Context) ([]RailCursor, error)
}

// Scheduler submits one rail tick per board on a cron schedule. Ticks share
// the board's serialization key, so a slow board never runs twice at once.
type Scheduler struct {
	cursors CursorLister
	queue   Submitter
	log     logrus.FieldLogger
	spec    string
	timeout time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func NewScheduler(cursors CursorLister, queue Submitter, spec string, log logrus.FieldLogger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "@every 5s"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("rail tick schedule %q: %w", spec, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{cursors: cursors, queue: queue, log: log, spec: spec, timeout: time.Minute}, nil
}

// Start begins firing; calling it twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, s.fire); err != nil {
		return fmt.Errorf("schedule rail ticks: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running round, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.TickAll(ctx); err != nil {
		s.log.WithError(err).Warn("rail tick round failed")
	}
}

// TickAll submits a tick for every cursor and returns how many were accepted.
func (s *Scheduler) TickAll(ctx context.Context) (int, error) {
	cursors, err := s.cursors.RailCursors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rail cursors: %w", err)
	}
	n := 0
	for _, c := range cursors {
		job, err := jobs.NewJob(TickKey(c.GameID, c.Color), RailTick{GameID: c.GameID, Color: c.Color})
		if err != nil {
			return n, err
		}
		if err := s.queue.Submit(ctx, job); err != nil {
			if errors.Is(err, jobs.ErrClosed) || ctx.Err() != nil {
				return n, err
			}
			s.log.WithError(err).WithFields(logrus.Fields{"game_id": c.GameID, "color": c.Color}).Warn("submit rail tick")
			continue
		}
		n++
	}
	return n, nil
}
