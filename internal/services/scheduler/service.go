// Package scheduler runs named cron jobs: scheduled forecast bundles, the raw
// layer purge and the stale-profile refresh.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
)

// Handler is the body of a scheduled job
type Handler func(ctx context.Context) error

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     Handler
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// JobStatus is a read-only view of a registered job
type JobStatus struct {
	Name        string
	Schedule    string
	Description string
	IsRunning   bool
	LastRun     *time.Time
	NextRun     *time.Time
	LastError   string
}

// Service owns the cron runner. A job never overlaps with itself.
type Service struct {
	cron   *cron.Cron
	logger arbor.ILogger
	jobMu  sync.Mutex // Protects jobs map
	jobs   map[string]*jobEntry

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewService creates a scheduler accepting 5- or 6-field cron expressions
func NewService(logger arbor.ILogger) *Service {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cron:   cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    context.Background(),
	}
}

// RegisterJob adds a named job on a cron schedule
func (s *Service) RegisterJob(name, schedule, description string, handler Handler) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// Start begins running registered jobs until Stop or ctx is done
func (s *Service) Start(ctx context.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for running jobs to finish
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.jobMu.Unlock()

	cancel()
	<-s.cron.Stop().Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// TriggerJob runs a registered job immediately in the caller's goroutine
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	s.executeJob(name)
	return nil
}

// GetAllJobStatuses returns every registered job sorted by name
func (s *Service) GetAllJobStatuses() []JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		status := JobStatus{
			Name:        entry.name,
			Schedule:    entry.schedule,
			Description: entry.description,
			IsRunning:   entry.isRunning,
			LastRun:     entry.lastRun,
			LastError:   entry.lastError,
		}
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			status.NextRun = &next
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *Service) executeJob(name string) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job still running, skipping this run")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	ctx := s.ctx
	s.jobMu.Unlock()

	start := time.Now()
	err := s.runHandler(ctx, name, handler)

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("job_name", name).
			Str("duration", time.Since(start).String()).
			Msg("Scheduled job failed")
		return
	}

	s.logger.Info().
		Str("job_name", name).
		Str("duration", time.Since(start).String()).
		Msg("Scheduled job completed")
}

// runHandler converts a handler panic into an error
func (s *Service) runHandler(ctx context.Context, name string, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled job")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx)
}
