package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueEnqueueAndStatus(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "file-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.FileID != "file-1" || job.Status != StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.FileID != "file-1" || got.Status != StatusQueued {
		t.Fatalf("unexpected stored job: %+v", got)
	}
}

func TestRedisJobQueueHandlerSuccessAcks(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, msg := readOneMessage(t, q, ctx, "file-2")
	q.handleMessage(ctx, msg, func(context.Context, JobStatus) error { return nil })

	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusDone {
		t.Fatalf("expected done, got %q", got.Status)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}
}

func TestRedisJobQueueHandlerErrorIsTerminal(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, msg := readOneMessage(t, q, ctx, "file-3")
	q.handleMessage(ctx, msg, func(context.Context, JobStatus) error {
		return errors.New("upload leg failed")
	})

	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if got.ErrorMessage != "upload leg failed" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
	// No retry: the stream must not contain a requeued copy.
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 0 {
		t.Fatalf("expected empty stream after terminal failure, got len=%d", streamLen)
	}
}

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:     redisSrv.Addr(),
		Stream:   "test:uploads",
		Group:    "test-group",
		Consumer: "consumer-1",
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	q.ensureGroup(ctx)
	return q, ctx
}

func readOneMessage(t *testing.T, q *RedisJobQueue, ctx context.Context, fileID string) (JobStatus, redis.XMessage) {
	t.Helper()

	job, err := q.Enqueue(ctx, fileID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return job, streams[0].Messages[0]
}
