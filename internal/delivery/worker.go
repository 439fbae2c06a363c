package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/franzego/notifyhub/internal/config"
	"go.uber.org/zap"
)

// Worker polls the job store and hands due jobs to the queue, running at
// most Concurrency of them at once.
type Worker struct {
	queue        *Queue
	sem          chan struct{}
	wg           sync.WaitGroup
	pollInterval time.Duration
	lockTTL      time.Duration
	logger       *zap.Logger
}

func NewWorker(q *Queue, cfg config.DeliveryConfig, logger *zap.Logger) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{
		queue:        q,
		sem:          make(chan struct{}, concurrency),
		pollInterval: poll,
		lockTTL:      q.cfg.LockTTL,
		logger:       logger.Named("worker"),
	}
}

// Run blocks until ctx ends, then waits for in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.Int("concurrency", cap(w.sem)),
		zap.Duration("poll_interval", w.pollInterval),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// jobs keep running after shutdown starts so records are not left SENDING
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, waiting for active jobs")
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
			w.recoverStale(ctx)
			w.dispatch(ctx, jobCtx)
		}
	}
}

func (w *Worker) dispatch(ctx, jobCtx context.Context) {
	free := cap(w.sem) - len(w.sem)
	if free == 0 {
		w.logger.Debug("all worker slots busy, skipping tick")
		return
	}
	jobs, err := w.queue.jobs.ClaimDue(ctx, w.queue.now(), int64(free))
	if err != nil {
		w.logger.Error("failed to claim jobs", zap.Error(err))
	}
	for _, job := range jobs {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(job *Job) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.queue.Handle(jobCtx, job)
		}(job)
	}
}

func (w *Worker) recoverStale(ctx context.Context) {
	now := w.queue.now()
	n, err := w.queue.jobs.RecoverStale(ctx, now.Add(-w.lockTTL), now)
	if err != nil {
		w.logger.Error("failed to recover stale jobs", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Warn("rescheduled stale jobs", zap.Int("count", n))
	}
}

// RunOnce claims and handles every job that is due, one at a time, and
// returns how many it handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	handled := 0
	for {
		jobs, err := w.queue.jobs.ClaimDue(ctx, w.queue.now(), 1)
		if err != nil {
			return handled, err
		}
		if len(jobs) == 0 {
			return handled, nil
		}
		w.queue.Handle(ctx, jobs[0])
		handled++
	}
}
