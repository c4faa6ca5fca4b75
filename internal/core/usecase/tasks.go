package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

// TaskObserver receives one event per executed task.
type TaskObserver interface {
	StartTask()
	FinishTask(taskType string, duration time.Duration, err error)
	ObserveQueueLag(taskType string, lag time.Duration)
}

// TaskRunner executes queued tasks. A failed task is republished with attempt+1
// after the policy backoff while attempts remain; domain rejections are dropped.
type TaskRunner struct {
	scan        ports.DocumentScanner
	process     ports.DocumentProcessor
	retry       ports.RetryService
	maintenance ports.MaintenanceService
	queue       ports.TaskQueue
	observer    TaskObserver
	timeout     time.Duration
	policy      func(domain.TaskType) domain.TaskRetryPolicy
	logger      *slog.Logger

	pending sync.WaitGroup
}

func NewTaskRunner(
	scan ports.DocumentScanner,
	process ports.DocumentProcessor,
	retry ports.RetryService,
	maintenance ports.MaintenanceService,
	queue ports.TaskQueue,
	timeout time.Duration,
	logger *slog.Logger,
) *TaskRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRunner{
		scan:        scan,
		process:     process,
		retry:       retry,
		maintenance: maintenance,
		queue:       queue,
		timeout:     timeout,
		policy:      domain.DefaultTaskRetryPolicy,
		logger:      logger,
	}
}

func (r *TaskRunner) WithObserver(observer TaskObserver) *TaskRunner {
	r.observer = observer
	return r
}

func (r *TaskRunner) WithRetryPolicy(policy func(domain.TaskType) domain.TaskRetryPolicy) *TaskRunner {
	if policy != nil {
		r.policy = policy
	}
	return r
}

func (r *TaskRunner) Handle(ctx context.Context, task domain.Task) error {
	if r.observer != nil {
		r.observer.StartTask()
		if !task.EnqueuedAt.IsZero() {
			r.observer.ObserveQueueLag(string(task.Type), time.Since(task.EnqueuedAt))
		}
	}

	started := time.Now()
	taskCtx := ctx
	if timeout := r.timeoutFor(task.Type); timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := r.execute(taskCtx, task)
	if r.observer != nil {
		r.observer.FinishTask(string(task.Type), time.Since(started), err)
	}
	if err == nil {
		return nil
	}

	if !isRetryableTaskError(err) {
		r.logger.Warn("task_dropped", "task_type", task.Type, "attempt", task.Attempt, "error", err)
		return err
	}
	policy := r.policy(task.Type)
	next := task.Attempt + 1
	if next >= policy.MaxAttempts {
		r.logger.Error("task_attempts_exhausted", "task_type", task.Type, "attempts", next, "error", err)
		return err
	}

	retryTask := task
	retryTask.Attempt = next
	r.scheduleRetry(ctx, retryTask, policy.Backoff)
	return err
}

// timeoutFor returns the deadline applied to one task. Document runs are bounded by
// their lease instead: a deadline would cut long files short and restart them from zero.
func (r *TaskRunner) timeoutFor(taskType domain.TaskType) time.Duration {
	if taskType == domain.TaskProcessDocument {
		return 0
	}
	return r.timeout
}

func (r *TaskRunner) execute(ctx context.Context, task domain.Task) error {
	switch task.Type {
	case domain.TaskScan:
		_, err := r.scan.ScanNewFiles(ctx)
		return err
	case domain.TaskProcessDocument:
		if task.DocumentID == "" {
			return domain.WrapError(domain.ErrInvalidInput, "process task", errors.New("document_id is required"))
		}
		return r.process.ProcessByID(ctx, task.DocumentID)
	case domain.TaskRetryDocument:
		if task.DocumentID == "" {
			return domain.WrapError(domain.ErrInvalidInput, "retry document task", errors.New("document_id is required"))
		}
		return r.retry.RetryDocument(ctx, task.DocumentID)
	case domain.TaskRetryBadCase:
		if task.BadCaseID == "" {
			return domain.WrapError(domain.ErrInvalidInput, "retry bad case task", errors.New("bad_case_id is required"))
		}
		_, _, err := r.retry.RetryBadCase(ctx, task.BadCaseID)
		return err
	case domain.TaskSweepDocuments:
		_, err := r.maintenance.SweepSucceeded(ctx)
		return err
	case domain.TaskReconcileOrphans:
		_, err := r.maintenance.ReconcileOrphans(ctx)
		return err
	default:
		return domain.WrapError(domain.ErrInvalidInput, "execute task", fmt.Errorf("unknown task type %q", task.Type))
	}
}

func (r *TaskRunner) scheduleRetry(ctx context.Context, task domain.Task, backoff time.Duration) {
	r.logger.Warn("task_retry_scheduled", "task_type", task.Type, "attempt", task.Attempt, "backoff", backoff.String())
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				r.logger.Warn("task_retry_abandoned", "task_type", task.Type, "document_id", task.DocumentID, "bad_case_id", task.BadCaseID)
				return
			case <-timer.C:
			}
		}
		if err := enqueue(ctx, r.queue, task); err != nil {
			r.logger.Error("task_retry_publish_failed", "task_type", task.Type, "error", err)
		}
	}()
}

// Wait blocks until every scheduled retry has been published or abandoned.
func (r *TaskRunner) Wait() {
	r.pending.Wait()
}

func isRetryableTaskError(err error) bool {
	for _, kind := range []error{
		domain.ErrDocumentNotFound,
		domain.ErrBadCaseNotFound,
		domain.ErrInvalidInput,
		domain.ErrInvalidTransition,
		domain.ErrRetryExhausted,
	} {
		if domain.IsKind(err, kind) {
			return false
		}
	}
	return true
}
