package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const publishTimeout = 10 * time.Second

// Publisher is the part of the task queue the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, task domain.Task) error
}

// Schedule holds standard five-field cron expressions. An empty expression disables the job.
type Schedule struct {
	Scan    string
	Sweep   string
	Orphans string
}

// New registers one cron job per periodic task. Each job only publishes; workers do the work.
func New(publisher Publisher, schedule Schedule, logger *slog.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.Recover(cronLogger{logger: logger})),
	)

	jobs := []struct {
		spec     string
		taskType domain.TaskType
	}{
		{schedule.Scan, domain.TaskScan},
		{schedule.Sweep, domain.TaskSweepDocuments},
		{schedule.Orphans, domain.TaskReconcileOrphans},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := c.AddJob(job.spec, publishJob{publisher: publisher, taskType: job.taskType, logger: logger}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.taskType, job.spec, err)
		}
	}
	return c, nil
}

type publishJob struct {
	publisher Publisher
	taskType  domain.TaskType
	logger    *slog.Logger
}

func (j publishJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	task := domain.Task{Type: j.taskType, EnqueuedAt: time.Now().UTC()}
	if err := j.publisher.Publish(ctx, task); err != nil {
		j.logger.Error("scheduled_task_publish_failed", "task_type", j.taskType, "error", err)
		return
	}
	j.logger.Info("scheduled_task_published", "task_type", j.taskType)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
