package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loft/internal/domain"
	"loft/internal/events"
	"loft/internal/metrics"
	"loft/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueueKey      = "loft:outbox:queue"
	defaultDeadLetterKey = "loft:outbox:deadletter"
)

// OutboxStore persists delivery tasks.
type OutboxStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error)
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// envelope is persisted in SyncTask.Payload as JSON.
type envelope struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// OutboxWorker delivers reservation events to external sinks with retries.
// Every task is stored in sync_queue first; redis or the in-memory channel
// only speed up pickup.
var _ domain.SyncWorker = (*OutboxWorker)(nil)

type OutboxWorker struct {
	store         OutboxStore
	sinks         map[string]domain.Sink
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults.
func NewOutboxWorker(store OutboxStore, sinks []domain.Sink, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *OutboxWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	bySink := make(map[string]domain.Sink, len(sinks))
	for _, s := range sinks {
		bySink[s.Name()] = s
	}

	return &OutboxWorker{
		store:         store,
		sinks:         bySink,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, models.WorkerQueueSize),
		redisQueueKey: defaultQueueKey,
		deadLetterKey: defaultDeadLetterKey,
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// HandleEvent is an events.EventHandler: it queues the event for every sink.
func (w *OutboxWorker) HandleEvent(event *events.Event) error {
	raw, err := json.Marshal(envelope{EventType: event.Type, Data: event.Payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	var ref struct {
		BookingID int64 `json:"booking_id"`
	}
	_ = json.Unmarshal(event.Payload, &ref)

	var errs []error
	for name := range w.sinks {
		if err := w.EnqueueTask(context.Background(), name, ref.BookingID, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnqueueTask persists task to DB and schedules it via redis or in-memory queue.
func (w *OutboxWorker) EnqueueTask(ctx context.Context, sink string, bookingID int64, payload []byte) error {
	if sink == "" {
		return errors.New("sink is required")
	}
	if _, ok := w.sinks[sink]; !ok {
		return fmt.Errorf("unknown sink: %s", sink)
	}
	if !json.Valid(payload) {
		return errors.New("payload must be valid json")
	}

	task := models.SyncTask{
		TaskType:  sink,
		BookingID: bookingID,
		Payload:   string(payload),
		Status:    models.SyncStatusPending,
		CreatedAt: time.Now(),
	}

	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("outbox: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("outbox: in-memory queue full, task left to polling")
	}

	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Int("sinks", len(w.sinks)).Msg("outbox worker started")
	defer w.logger.Info().Msg("outbox worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("outbox: fetch pending")
			}
			w.wait(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.wait(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *OutboxWorker) wait(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *OutboxWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		w.logger.Error().Err(err).Msg("outbox: redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("outbox: decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if !w.claim(ctx, task) {
		return
	}

	sink, ok := w.sinks[task.TaskType]
	if !ok {
		w.failTask(ctx, task, fmt.Errorf("unknown sink: %s", task.TaskType))
		return
	}

	env, err := decodeEnvelope(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := sink.Deliver(ctx, env.EventType, env.Data); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncOutboxDelivery(task.TaskType, "ok")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("outbox: mark completed")
	}
}

// claim reloads the stored task. A queued copy can trail a poll that already
// handled it, so finished tasks and tasks waiting for their retry slot are skipped.
func (w *OutboxWorker) claim(ctx context.Context, task *models.SyncTask) bool {
	stored, err := w.store.GetSyncTask(ctx, task.ID)
	if err != nil {
		// delivery stays at-least-once when the store cannot answer
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("outbox: reload task")
		return true
	}

	switch stored.Status {
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		w.logger.Debug().Int64("task_id", task.ID).Str("status", stored.Status).Msg("outbox: task already handled")
		return false
	}
	if stored.NextRetryAt != nil && stored.NextRetryAt.After(time.Now()) {
		return false
	}

	*task = *stored
	return true
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncOutboxDelivery(task.TaskType, "retry")
	nextTime := w.retryPolicy.NextRetryAt(time.Now(), attempt)
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Str("sink", task.TaskType).Int("attempt", attempt).Msg("outbox: delivery failed, retry scheduled")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("outbox: mark retry")
	}
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.IncOutboxDelivery(task.TaskType, "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("sink", task.TaskType).Msg("outbox: task dead-lettered")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("outbox: mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, err
	}
	if env.EventType == "" {
		return env, errors.New("event type missing")
	}
	return env, nil
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("outbox: encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("outbox: deadletter push")
	}
}
