package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
)

// Queue is the durable job queue the pool consumes. The metadata store's job
// repository provides the production implementation; Claim must be atomic
// (compare-and-swap) so concurrent workers never double-process a job.
type Queue interface {
	DequeueBatch(ctx context.Context, limit int, now time.Time) ([]domain.ReplicationJob, error)
	Claim(ctx context.Context, dedupeID string, now time.Time) (bool, error)
	Complete(ctx context.Context, dedupeID string, now time.Time) error
	Fail(ctx context.Context, dedupeID, message string, now time.Time) error
	Requeue(ctx context.Context, job domain.ReplicationJob) error
}

// Pool runs a fixed number of workers, each looping pull-execute-update
// until the context is cancelled.
type Pool struct {
	queue        Queue
	executor     *Executor
	workers      int
	batchSize    int
	pollInterval time.Duration
	backoffBase  time.Duration
	backoffCap   time.Duration
	now          func() time.Time
}

// NewPool creates a worker pool.
func NewPool(queue Queue, executor *Executor, workers, batchSize int, pollInterval, backoffBase, backoffCap time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Pool{
		queue:        queue,
		executor:     executor,
		workers:      workers,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		backoffBase:  backoffBase,
		backoffCap:   backoffCap,
		now:          time.Now,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has drained its current job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	log.Debugf("worker %d started", id)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			log.Warnf("worker %d dequeue failed: %v", id, err)
		}

		// Poll immediately while the queue has work; back off to the
		// ticker when it runs dry.
		if processed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			log.Debugf("worker %d stopping", id)
			return
		case <-ticker.C:
		}
	}
}

// RunOnce pulls one batch and processes every job it can claim, returning
// how many jobs it executed.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	jobs, err := p.queue.DequeueBatch(ctx, p.batchSize, p.now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return processed, nil
		}

		claimed, err := p.queue.Claim(ctx, job.DedupeID, p.now())
		if err != nil {
			log.Warnf("claim of %s failed: %v", job.DedupeID, err)
			continue
		}
		if !claimed {
			// Another worker won the CAS; benign.
			continue
		}

		p.process(ctx, job)
		processed++
	}
	return processed, nil
}

func (p *Pool) process(ctx context.Context, job domain.ReplicationJob) {
	log.Debugf("executing %s %s -> %s (%s)", job.JobType, job.SourceZone, job.TargetZone, job.Ref())

	err := p.executor.Execute(ctx, job)
	if err == nil {
		if err := p.queue.Complete(ctx, job.DedupeID, p.now()); err != nil {
			log.Warnf("completion of %s failed: %v", job.DedupeID, err)
		}
		return
	}

	if zserrors.IsPermanent(err) {
		log.Errorf("job %s failed permanently: %v", job.JobID, err)
		p.executor.RecordFailure(ctx, job, err.Error())
		if err := p.queue.Fail(ctx, job.DedupeID, err.Error(), p.now()); err != nil {
			log.Warnf("failure transition of %s failed: %v", job.DedupeID, err)
		}
		return
	}

	if job.RetryCount >= job.MaxRetries {
		log.Errorf("job %s exhausted %d retries: %v", job.JobID, job.MaxRetries, err)
		p.executor.RecordFailure(ctx, job, err.Error())
		if err := p.queue.Fail(ctx, job.DedupeID, err.Error(), p.now()); err != nil {
			log.Warnf("failure transition of %s failed: %v", job.DedupeID, err)
		}
		return
	}

	job.RetryCount++
	job.ErrorMessage = err.Error()
	job.ScheduledAt = p.now().Add(p.backoff(job.RetryCount))
	log.Warnf("job %s failed (retry %d/%d), backing off until %s: %v",
		job.JobID, job.RetryCount, job.MaxRetries, job.ScheduledAt.Format(time.RFC3339), err)
	if err := p.queue.Requeue(ctx, job); err != nil {
		log.Warnf("requeue of %s failed: %v", job.DedupeID, err)
	}
}

// backoff computes base * 2^retry, capped.
func (p *Pool) backoff(retryCount int) time.Duration {
	d := p.backoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.backoffCap {
			return p.backoffCap
		}
	}
	if d > p.backoffCap {
		d = p.backoffCap
	}
	return d
}
