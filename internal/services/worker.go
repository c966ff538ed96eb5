package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/pkg/logger"
	"github.com/rs/zerolog"
)

// Worker consumes report tasks from Redis and hands them to the dispatcher.
type Worker struct {
	server    *asynq.Server
	processor func(context.Context, *ReportTask) error
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, concurrency int) *Worker {
	if !cfg.Enabled {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	w := &Worker{log: logger.Component("worker")}
	w.server = asynq.NewServer(
		redisClientOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{reportQueue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				w.log.Warn().Err(err).Str("task_id", id).Str("type", task.Type()).Msg("report task failed")
			}),
		},
	)
	return w
}

func (w *Worker) SetProcessor(processor func(context.Context, *ReportTask) error) {
	w.processor = processor
}

// Start begins consuming in the background.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeReport, w.handleReportTask)
	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("start report worker: %w", err)
	}
	w.running = true
	w.log.Info().Str("queue", reportQueue).Msg("report worker started")
	return nil
}

// Stop waits for the tasks being processed and shuts the server down.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	w.log.Info().Msg("report worker stopped")
}

func (w *Worker) handleReportTask(ctx context.Context, t *asynq.Task) error {
	task, err := decodeReportTask(t.Payload())
	if err != nil {
		w.log.Error().Err(err).Msg("malformed report task dropped")
		// a broken payload never decodes on retry either
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if w.processor == nil {
		w.log.Warn().Uint("config_id", task.ConfigID).Msg("no processor set, report task dropped")
		return nil
	}

	w.log.Debug().Uint("config_id", task.ConfigID).Str("trigger", task.Trigger).
		Str("lock_owner", task.LockOwner).Msg("processing report task")
	return w.processor(ctx, task)
}

func decodeReportTask(payload []byte) (*ReportTask, error) {
	var task ReportTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, err
	}
	if task.ConfigID == 0 {
		return nil, fmt.Errorf("report task without config id")
	}
	return &task, nil
}
