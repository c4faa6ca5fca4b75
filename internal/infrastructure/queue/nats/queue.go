package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/resilience"
)

const (
	DefaultSubjectPrefix = "cdr.tasks"
	queueGroup           = "workers"
)

// Queue carries pipeline tasks over core NATS. Each task type has its own subject
// under the prefix; workers share one queue group so every task is handled once.
type Queue struct {
	conn        *nats.Conn
	prefix      string
	executor    *resilience.Executor
	concurrency int
}

func New(url, subjectPrefix string) (*Queue, error) {
	return NewWithOptions(url, subjectPrefix, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// Concurrency bounds in-flight handlers per subscription.
	Concurrency int
	ClientName  string
}

func NewWithOptions(url, subjectPrefix string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.ClientName
	if name == "" {
		name = "cdr-backoffice"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:        conn,
		prefix:      normalizePrefix(subjectPrefix),
		executor:    options.ResilienceExecutor,
		concurrency: normalizeConcurrency(options.Concurrency),
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Publish(ctx context.Context, task domain.Task) error {
	if !task.Type.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "publish task", fmt.Errorf("unknown task type %q", task.Type))
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	subject := subjectFor(q.prefix, task.Type)

	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe consumes every task subject until ctx is done, then drains in-flight work.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, domain.Task) error) error {
	slots := make(chan struct{}, q.concurrency)
	var inflight sync.WaitGroup

	sub, err := q.conn.QueueSubscribe(q.prefix+".>", queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		task, err := decodeTask(msg.Data)
		if err != nil {
			slog.Warn("task_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-slots }()

			if err := handler(ctx, task); err != nil {
				slog.Warn("task_handler_failed",
					"task_type", task.Type,
					"document_id", task.DocumentID,
					"bad_case_id", task.BadCaseID,
					"attempt", task.Attempt,
					"error", err,
				)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	inflight.Wait()
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func subjectFor(prefix string, taskType domain.TaskType) string {
	return prefix + "." + string(taskType)
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

func normalizeConcurrency(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func encodeTask(task domain.Task) ([]byte, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return payload, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	if !task.Type.Valid() {
		return domain.Task{}, fmt.Errorf("unknown task type %q", task.Type)
	}
	return task, nil
}
