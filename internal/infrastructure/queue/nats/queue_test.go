package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

func TestSubjectForTaskType(t *testing.T) {
	if got := subjectFor(normalizePrefix(" cdr.tasks. "), domain.TaskProcessDocument); got != "cdr.tasks.process_document" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := normalizePrefix(""); got != DefaultSubjectPrefix {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestTaskRoundTripKeepsAttempt(t *testing.T) {
	in := domain.Task{
		Type:       domain.TaskRetryBadCase,
		BadCaseID:  "bc-1",
		Attempt:    2,
		EnqueuedAt: time.Date(2024, 1, 15, 17, 30, 0, 0, time.UTC),
	}
	payload, err := encodeTask(in)
	if err != nil {
		t.Fatalf("encodeTask() error = %v", err)
	}
	out, err := decodeTask(payload)
	if err != nil {
		t.Fatalf("decodeTask() error = %v", err)
	}
	if out.Type != in.Type || out.BadCaseID != in.BadCaseID || out.Attempt != in.Attempt || !out.EnqueuedAt.Equal(in.EnqueuedAt) {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestDecodeTaskRejectsUnknownType(t *testing.T) {
	if _, err := decodeTask([]byte(`{"type":"reindex"}`)); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if _, err := decodeTask([]byte(`not-json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(fmt.Errorf("nats publish: %w", nats.ErrConnectionClosed))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("closed connection must be temporary, got %v", err)
	}

	permanent := errors.New("bad subject")
	if got := wrapTemporaryIfNeeded(permanent); domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("unexpected temporary wrap for %v", got)
	}

	if class := classifyNATSError(context.Canceled); class.Retryable || class.RecordFailure {
		t.Fatalf("context cancellation must not be retried or recorded")
	}
}

func TestPublishRejectsUnknownTaskType(t *testing.T) {
	q := &Queue{prefix: DefaultSubjectPrefix, concurrency: 1}
	err := q.Publish(context.Background(), domain.Task{Type: "reindex"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
