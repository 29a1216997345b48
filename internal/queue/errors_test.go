package queue

import (
	"errors"
	"strings"
	"testing"
)

func TestQueueError_Error(t *testing.T) {
	cause := errors.New("connection refused")
	err := &QueueError{Op: "dequeue_one", Cause: cause}
	if !strings.Contains(err.Error(), "dequeue_one") || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) && errors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestUploadFinalError_Error(t *testing.T) {
	cause := errors.New("http 503")
	err := &UploadFinalError{Attempts: 3, Cause: cause}
	msg := err.Error()
	if !strings.Contains(msg, "3 attempts") {
		t.Errorf("expected attempt count in message, got %q", msg)
	}
	if errors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestErrNoPendingJob_IsSentinel(t *testing.T) {
	if !errors.Is(ErrNoPendingJob, ErrNoPendingJob) {
		t.Error("ErrNoPendingJob should satisfy errors.Is against itself")
	}
}
