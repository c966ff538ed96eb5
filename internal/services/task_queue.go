package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/pkg/logger"
)

const (
	TaskTypeReport = "report:deliver"
	reportQueue    = "reports"
)

// ReportTask asks a worker to run the pipeline of one configuration.
type ReportTask struct {
	ConfigID    uint      `json:"config_id"`
	Trigger     string    `json:"trigger"` // schedule, manual
	ScheduledAt time.Time `json:"scheduled_at"`
	LockOwner   string    `json:"lock_owner,omitempty"` // instance holding the in-flight lock
}

// taskID identifies a scheduled run so that two nodes enqueueing the same
// tick produce one task.
func (t *ReportTask) taskID() string {
	return fmt.Sprintf("report:%d:%s:%d", t.ConfigID, t.Trigger, t.ScheduledAt.Unix())
}

// TaskQueue hands report runs to workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *ReportTask) error
	// IsAsync returns true if tasks run in another process
	IsAsync() bool
	Close() error
}

// NewTaskQueue returns the Redis backed queue when enabled and reachable, the
// in-process queue otherwise.
func NewTaskQueue(cfg *config.Config) TaskQueue {
	if !cfg.Redis.Enabled {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
		return NewSyncQueue()
	}
	queue, err := NewAsyncQueue(&cfg.Redis)
	if err != nil {
		logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
		return NewSyncQueue()
	}
	logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
	return queue
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq.
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)
	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}
	return &AsyncQueue{client: client}, nil
}

// Enqueue never retries inside asynq: a failed scheduled run is picked up by the
// next tick since LastFiredAt was not committed.
func (q *AsyncQueue) Enqueue(ctx context.Context, task *ReportTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeReport, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(reportQueue),
		asynq.TaskID(task.taskID()),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debugf("[AsyncQueue] Report %d already enqueued for %s", task.ConfigID, task.ScheduledAt.Format(time.RFC3339))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, config=%d", info.ID, info.Queue, task.ConfigID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs tasks in the calling process.
type SyncQueue struct {
	processor func(context.Context, *ReportTask) error
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor func(context.Context, *ReportTask) error) {
	q.processor = processor
}

// Enqueue runs the task before returning.
func (q *SyncQueue) Enqueue(ctx context.Context, task *ReportTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, report %d dropped", task.ConfigID)
		return nil
	}
	return q.processor(ctx, task)
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}
