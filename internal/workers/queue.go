// Package workers runs the retrying task queue behind the pull-data
// coordinator. Tasks are persisted so scheduled pulls survive process
// restarts and transient provider failures are retried with backoff.
package workers

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"idsync/internal/pkg/errors"
	"idsync/internal/platform/config"
	"idsync/internal/platform/models"
)

// TaskRepository persists pull tasks in the mirror store.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Insert(task *models.PullTask) error {
	_, err := r.db.Exec(`
		INSERT INTO pull_tasks (id, type, uuid, status, attempts, next_run_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Type, task.UUID, task.Status, task.Attempts, task.NextRunAt, task.LastError, task.CreatedAt, task.UpdatedAt)
	return err
}

// Due returns up to limit pending tasks whose next run time has
// passed, oldest first.
func (r *TaskRepository) Due(now int64, limit int) ([]*models.PullTask, error) {
	rows, err := r.db.Query(`
		SELECT id, type, uuid, status, attempts, next_run_at, last_error, created_at, updated_at
		FROM pull_tasks WHERE status = ? AND next_run_at <= ?
		ORDER BY next_run_at LIMIT ?
	`, models.PullTaskPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.PullTask
	for rows.Next() {
		t := &models.PullTask{}
		err := rows.Scan(&t.ID, &t.Type, &t.UUID, &t.Status, &t.Attempts, &t.NextRunAt, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) MarkDone(id string) error {
	_, err := r.db.Exec(`
		UPDATE pull_tasks SET status = ?, last_error = '', updated_at = ? WHERE id = ?
	`, models.PullTaskDone, time.Now().Unix(), id)
	return err
}

func (r *TaskRepository) MarkFailed(id, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE pull_tasks SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, models.PullTaskFailed, lastError, time.Now().Unix(), id)
	return err
}

func (r *TaskRepository) Reschedule(id string, attempts int, nextRunAt int64, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE pull_tasks SET attempts = ?, next_run_at = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, attempts, nextRunAt, lastError, time.Now().Unix(), id)
	return err
}

// Puller is what the queue executes; satisfied by pull.Coordinator.
type Puller interface {
	Pull(ctx context.Context, typ, uuid string) error
}

// Queue schedules and executes pull tasks.
type Queue struct {
	tasks  *TaskRepository
	puller Puller
	cfg    config.PullConfig
}

func NewQueue(tasks *TaskRepository, puller Puller, cfg config.PullConfig) *Queue {
	return &Queue{tasks: tasks, puller: puller, cfg: cfg}
}

// Enqueue schedules one pull invocation to run as soon as a worker
// picks it up.
func (q *Queue) Enqueue(typ, id string) error {
	now := time.Now().Unix()
	return q.tasks.Insert(&models.PullTask{
		ID:        uuid.NewString(),
		Type:      typ,
		UUID:      id,
		Status:    models.PullTaskPending,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Run polls for due tasks until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("pull queue poll failed")
			}
		}
	}
}

// RunOnce processes one batch of due tasks.
func (q *Queue) RunOnce(ctx context.Context) error {
	tasks, err := q.tasks.Due(time.Now().Unix(), q.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		q.process(ctx, task)
	}
	return nil
}

func (q *Queue) process(ctx context.Context, task *models.PullTask) {
	err := q.puller.Pull(ctx, task.Type, task.UUID)
	if err == nil {
		if err := q.tasks.MarkDone(task.ID); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("failed to mark pull task done")
		}
		return
	}

	if errors.IsTransient(err) {
		attempts := task.Attempts + 1
		if attempts >= q.cfg.RetryAttempts {
			log.Error().Err(err).Str("task", task.ID).Str("type", task.Type).Str("uuid", task.UUID).
				Int("attempts", attempts).Msg("pull task exhausted its retry budget")
			if err := q.tasks.MarkFailed(task.ID, err.Error()); err != nil {
				log.Error().Err(err).Str("task", task.ID).Msg("failed to mark pull task failed")
			}
			return
		}
		next := time.Now().Add(q.Backoff(attempts)).Unix()
		log.Warn().Err(err).Str("task", task.ID).Int("attempts", attempts).
			Msg("transient pull failure, retrying with backoff")
		if err := q.tasks.Reschedule(task.ID, attempts, next, err.Error()); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("failed to reschedule pull task")
		}
		return
	}

	// validation and upstream failures do not self-heal with retries
	log.Error().Err(err).Str("task", task.ID).Str("type", task.Type).Str("uuid", task.UUID).
		Msg("pull task failed")
	if err := q.tasks.MarkFailed(task.ID, err.Error()); err != nil {
		log.Error().Err(err).Str("task", task.ID).Msg("failed to mark pull task failed")
	}
}

// Backoff doubles per attempt starting from the configured base,
// capped at the configured maximum.
func (q *Queue) Backoff(attempts int) time.Duration {
	backoff := q.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	if backoff > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return backoff
}
