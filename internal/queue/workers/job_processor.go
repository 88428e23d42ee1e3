// -----------------------------------------------------------------------
// Job Processor - Drains one named queue into its worker
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/services/metrics"
	"github.com/ternarybob/foresight/internal/services/tracing"
)

// Backoff configuration for idle polling
const (
	minBackoff = 100 * time.Millisecond // Initial backoff when queue is empty
	maxBackoff = 5 * time.Second        // Maximum backoff duration
)

// ProcessorConfig controls one job processor
type ProcessorConfig struct {
	Concurrency int           // Worker goroutines; forced to 1 for the ensemble queue
	JobTimeout  time.Duration // Wall-clock budget per job
	MinBackoff  time.Duration // First idle wait; doubles up to maxBackoff
}

// JobProcessor receives messages from one queue and hands them to its worker.
// After every attempt it applies the retry policy and evaluates the bundle.
type JobProcessor struct {
	queueMgr  interfaces.QueueManager
	worker    interfaces.JobWorker
	lifecycle JobLifecycle
	config    ProcessorConfig
	metrics   *metrics.Recorder
	tracer    *tracing.Provider
	logger    arbor.ILogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewJobProcessor creates a processor for one queue and worker.
// metrics and tracer may be nil.
func NewJobProcessor(
	queueMgr interfaces.QueueManager,
	worker interfaces.JobWorker,
	lifecycle JobLifecycle,
	config ProcessorConfig,
	recorder *metrics.Recorder,
	tracer *tracing.Provider,
	logger arbor.ILogger,
) *JobProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if worker.GetWorkerType() == models.DomainEnsemble {
		config.Concurrency = 1
	}
	if config.MinBackoff <= 0 {
		config.MinBackoff = minBackoff
	}

	return &JobProcessor{
		queueMgr:  queueMgr,
		worker:    worker,
		lifecycle: lifecycle,
		config:    config,
		metrics:   recorder,
		tracer:    tracer,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Concurrency returns the number of worker goroutines
func (jp *JobProcessor) Concurrency() int {
	return jp.config.Concurrency
}

// Start launches the worker goroutines.
func (jp *JobProcessor) Start() {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	if jp.running {
		jp.logger.Warn().Str("queue", jp.queueMgr.Name()).Msg("Job processor already running")
		return
	}

	jp.running = true
	jp.logger.Info().
		Str("queue", jp.queueMgr.Name()).
		Int("concurrency", jp.config.Concurrency).
		Msg("Starting job processor")

	for i := 0; i < jp.config.Concurrency; i++ {
		jp.wg.Add(1)
		go jp.processJobs(i)
	}
}

// Stop cancels in-flight jobs and waits for the goroutines to exit.
func (jp *JobProcessor) Stop() {
	jp.mu.Lock()
	if !jp.running {
		jp.mu.Unlock()
		return
	}
	jp.running = false
	jp.mu.Unlock()

	jp.cancel()
	jp.wg.Wait()
	jp.logger.Info().Str("queue", jp.queueMgr.Name()).Msg("Job processor stopped")
}

func (jp *JobProcessor) processJobs(workerID int) {
	defer jp.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			jp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Int("worker_id", workerID).
				Msg("Job processor goroutine panicked")
		}
	}()

	currentBackoff := jp.config.MinBackoff

	for {
		select {
		case <-jp.ctx.Done():
			return
		default:
		}

		if jp.processNextJob(workerID) {
			currentBackoff = jp.config.MinBackoff
			continue
		}

		select {
		case <-jp.ctx.Done():
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > maxBackoff {
			currentBackoff = maxBackoff
		}
	}
}

// getStackTrace returns a formatted stack trace for panic debugging
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// processNextJob handles one message. Returns false when the queue was empty.
func (jp *JobProcessor) processNextJob(workerID int) bool {
	msg, deleteFn, err := jp.queueMgr.Receive(jp.ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNoMessage) && jp.ctx.Err() == nil {
			jp.logger.Warn().Err(err).Str("queue", jp.queueMgr.Name()).Msg("Failed to receive message")
		}
		return false
	}

	jp.handle(workerID, msg)

	if err := deleteFn(); err != nil {
		jp.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to delete message from queue")
	}
	return true
}

// handle runs one attempt, then the retry policy and the bundle barrier.
func (jp *JobProcessor) handle(workerID int, msg *models.QueueMessage) {
	logger := jp.logger.WithCorrelationId(msg.JobID)
	start := time.Now()

	ctx, span := jp.tracer.StartJobSpan(jp.ctx, msg)
	err := jp.execute(ctx, msg)
	tracing.EndSpan(span, err)

	elapsed := time.Since(start)

	// The job context may be gone; bookkeeping must still land
	bg := context.WithoutCancel(jp.ctx)

	switch {
	case err == nil:
		jp.metrics.JobFinished(msg.Type, models.JobStatusCompleted, elapsed)
		logger.Info().
			Str("job_id", msg.JobID).
			Str("job_type", string(msg.Type)).
			Int("worker_id", workerID).
			Str("duration", elapsed.String()).
			Msg("Job completed")
	case errors.Is(err, errDropped), errors.Is(err, errInvalidMessage):
		logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Str("bundle_id", msg.BundleID).
			Msg("Message dropped")
		return
	default:
		jp.metrics.JobFinished(msg.Type, models.JobStatusFailed, elapsed)
		logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Str("job_type", string(msg.Type)).
			Int("worker_id", workerID).
			Str("duration", elapsed.String()).
			Msg("Job failed")

		if !jobs.IsPermanent(msg.Type, err) {
			requeued, retryErr := jp.lifecycle.RetryJob(bg, msg.JobID)
			if retryErr != nil {
				logger.Error().Err(retryErr).Str("job_id", msg.JobID).Msg("Failed to requeue job")
			}
			if requeued {
				jp.metrics.JobRetried(msg.Type)
				return
			}
		}
	}

	bundle, advErr := jp.lifecycle.MaybeAdvanceBundle(bg, msg.BundleID)
	if advErr != nil {
		logger.Error().Err(advErr).Str("bundle_id", msg.BundleID).Msg("Failed to advance bundle")
		return
	}
	if bundle != nil && bundle.Status.IsTerminal() && msg.Type == models.DomainEnsemble {
		jp.metrics.BundleResolved(bundle)
	}
}

// execute validates and runs the worker under the job budget, converting a
// panic into a recorded job failure.
func (jp *JobProcessor) execute(ctx context.Context, msg *models.QueueMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			jp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Str("job_id", msg.JobID).
				Msg("Recovered from panic in job processing")
			err = fmt.Errorf("job panicked: %v", r)
			if _, failErr := jp.lifecycle.FailJob(context.WithoutCancel(ctx), msg.JobID, err); failErr != nil {
				jp.logger.Warn().Err(failErr).Str("job_id", msg.JobID).Msg("Failed to record panic on job")
			}
		}
	}()

	if err := jp.worker.Validate(msg); err != nil {
		return fmt.Errorf("%w: %w", errInvalidMessage, err)
	}

	if jp.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jp.config.JobTimeout)
		defer cancel()
	}

	return jp.worker.Execute(ctx, msg)
}
