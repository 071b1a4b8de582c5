package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sharp-job-service/internal/entity"
)

// slotLockKey serializes processing-slot accounting across every worker process.
const slotLockKey int64 = 0x5348415250

const jobColumns = `id, upload_id, status, status_detail, queue_position, estimated_wait_seconds,
	result_ref, error, processing_time_ms, dispatched_at, started_at, completed_at, created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	const q = `
INSERT INTO jobs (id, upload_id, status, status_detail, queue_position, estimated_wait_seconds, created_at, updated_at)
VALUES ($1, $2, 'queued', $3, $4, $5, $6, $6);
`
	if _, err := r.pool.Exec(ctx, q,
		job.ID, job.UploadID, job.StatusDetail, job.QueuePosition, job.EstimatedWaitSeconds, job.CreatedAt,
	); err != nil {
		return unavailable("create job", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
		}
		return nil, unavailable("get job", err)
	}
	return job, nil
}

// Counts derives the queue snapshot from the store itself, so every
// request-handling process sees the same numbers.
func (r *JobRepository) Counts(ctx context.Context) (entity.JobCounts, error) {
	const q = `
SELECT
	COUNT(*) FILTER (WHERE status = 'queued'),
	COUNT(*) FILTER (WHERE status = 'queued' AND dispatched_at IS NOT NULL),
	COUNT(*) FILTER (WHERE status = 'processing')
FROM jobs
WHERE status IN ('queued', 'processing');
`
	var c entity.JobCounts
	if err := r.pool.QueryRow(ctx, q).Scan(&c.Queued, &c.Dispatched, &c.Processing); err != nil {
		return entity.JobCounts{}, unavailable("count jobs", err)
	}
	return c, nil
}

func (r *JobRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE jobs SET dispatched_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'queued';`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return unavailable("mark dispatched", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, entity.StatusQueued)
	}
	return nil
}

// ListUndispatched returns the oldest queued jobs not yet handed to the dispatch queue.
func (r *JobRepository) ListUndispatched(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
SELECT id FROM jobs
WHERE status = 'queued' AND dispatched_at IS NULL
ORDER BY created_at ASC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, unavailable("list undispatched", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan job id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list undispatched", err)
	}
	return ids, nil
}

// AcquireSlot moves a queued job to processing if fewer than ceiling jobs are
// processing. The count and the update run under one advisory lock, so the
// ceiling holds no matter how many workers race for it.
func (r *JobRepository) AcquireSlot(ctx context.Context, id uuid.UUID, ceiling int, detail string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin acquire slot", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1);`, slotLockKey); err != nil {
		return unavailable("lock slots", err)
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE;`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
		}
		return unavailable("read job status", err)
	}
	if !entity.CanTransition(entity.JobStatus(status), entity.StatusProcessing) {
		return fmt.Errorf("job %s %s -> %s: %w", id, status, entity.StatusProcessing, entity.ErrInvalidTransition)
	}

	var processing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'processing';`).Scan(&processing); err != nil {
		return unavailable("count processing", err)
	}
	if processing >= ceiling {
		return entity.ErrNoSlot
	}

	const q = `
UPDATE jobs
SET status = 'processing', status_detail = $2, queue_position = 0, estimated_wait_seconds = 0,
    started_at = NOW(), updated_at = NOW()
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, q, id, detail); err != nil {
		return unavailable("acquire slot", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit acquire slot", err)
	}
	return nil
}

func (r *JobRepository) SetDetail(ctx context.Context, id uuid.UUID, detail string) error {
	const q = `UPDATE jobs SET status_detail = $2, updated_at = NOW() WHERE id = $1 AND status = 'processing';`

	tag, err := r.pool.Exec(ctx, q, id, detail)
	if err != nil {
		return unavailable("set detail", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, entity.StatusProcessing)
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, resultRef string, processingMs int64) error {
	const q = `
UPDATE jobs
SET status = 'complete', status_detail = 'Complete', result_ref = $2, error = NULL,
    processing_time_ms = $3, completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, q, id, resultRef, processingMs)
	if err != nil {
		return unavailable("complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, entity.StatusComplete)
	}
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `
UPDATE jobs
SET status = 'error', status_detail = 'Inference failed', error = $2, result_ref = NULL,
    completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, q, id, errText)
	if err != nil {
		return unavailable("fail job", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id, entity.StatusError)
	}
	return nil
}

// FailStale errors out jobs stuck in processing since before olderThanSeconds ago,
// which releases the slots held by crashed workers.
func (r *JobRepository) FailStale(ctx context.Context, olderThanSeconds int, errText string) (int64, error) {
	const q = `
UPDATE jobs
SET status = 'error', status_detail = 'Inference failed', error = $2,
    completed_at = NOW(), updated_at = NOW()
WHERE status = 'processing' AND started_at < NOW() - ($1::int * INTERVAL '1 second');
`
	tag, err := r.pool.Exec(ctx, q, olderThanSeconds, errText)
	if err != nil {
		return 0, unavailable("fail stale jobs", err)
	}
	return tag.RowsAffected(), nil
}

// transitionError explains why a guarded update touched no row.
func (r *JobRepository) transitionError(ctx context.Context, id uuid.UUID, to entity.JobStatus) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
		}
		return unavailable("read job status", err)
	}
	return fmt.Errorf("job %s %s -> %s: %w", id, status, to, entity.ErrInvalidTransition)
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job    entity.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.UploadID,
		&status,
		&job.StatusDetail,
		&job.QueuePosition,
		&job.EstimatedWaitSeconds,
		&job.ResultRef,        // NULL => nil
		&job.Error,            // NULL => nil
		&job.ProcessingTimeMs, // NULL => nil
		&job.DispatchedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)
	return &job, nil
}
