package repository

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

var jobColumns = []string{
	"id", "source_id", "stage", "recipes_found", "recipes_saved",
	"error_reason", "retryable", "started_at", "updated_at", "finished_at",
}

func (d *DB) CreateJob(ctx context.Context, job *entity.IngestionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Stage == "" {
		job.Stage = constants.StageCreated
	}
	job.StartedAt = utc(job.StartedAt)
	job.UpdatedAt = job.StartedAt
	q := d.builder().Insert(tableJobs).Columns(jobColumns...).Values(
		job.ID, job.SourceID, string(job.Stage), job.RecipesFound, job.RecipesSaved,
		job.ErrorReason, job.Retryable, job.StartedAt, job.UpdatedAt, utcPtr(job.FinishedAt),
	)
	if _, err := exec(ctx, d.db, q); err != nil {
		d.logger.Error("ingestion_job create failed", "job_id", job.ID, "source_id", job.SourceID, "error", err)
		return wrapDBError("create job", err)
	}
	d.logger.Info("ingestion_job created", "job_id", job.ID, "source_id", job.SourceID)
	return nil
}

func scanJob(sc interface{ Scan(...any) error }) (entity.IngestionJob, error) {
	var (
		job                        entity.IngestionJob
		stage                      string
		started, updated, finished dbTime
	)
	err := sc.Scan(&job.ID, &job.SourceID, &stage, &job.RecipesFound, &job.RecipesSaved,
		&job.ErrorReason, &job.Retryable, &started, &updated, &finished)
	job.Stage = constants.JobStage(stage)
	job.StartedAt = started.Time
	job.UpdatedAt = updated.Time
	job.FinishedAt = finished.ptr()
	return job, err
}

func (d *DB) GetJob(ctx context.Context, id uuid.UUID) (*entity.IngestionJob, error) {
	q := d.builder().Select(jobColumns...).From(d.builder().Table(tableJobs)).Where(entsql.EQ("id", id))
	job, err := scanJob(queryRow(ctx, d.db, q))
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get job %s", id), err)
	}
	return &job, nil
}

func (d *DB) UpdateJob(ctx context.Context, job *entity.IngestionJob) error {
	job.UpdatedAt = utc(job.UpdatedAt)
	u := d.builder().Update(tableJobs).
		Set("stage", string(job.Stage)).
		Set("recipes_found", job.RecipesFound).
		Set("recipes_saved", job.RecipesSaved).
		Set("error_reason", job.ErrorReason).
		Set("retryable", job.Retryable).
		Set("updated_at", job.UpdatedAt).
		Set("finished_at", utcPtr(job.FinishedAt)).
		Where(entsql.EQ("id", job.ID))
	if err := execOne(ctx, d.db, u, fmt.Sprintf("update job %s", job.ID)); err != nil {
		d.logger.Error("ingestion_job update failed", "job_id", job.ID, "stage", job.Stage, "error", err)
		return err
	}
	return nil
}

func (d *DB) ListJobsBySource(ctx context.Context, sourceID uuid.UUID) ([]entity.IngestionJob, error) {
	q := d.builder().Select(jobColumns...).From(d.builder().Table(tableJobs)).
		Where(entsql.EQ("source_id", sourceID)).
		OrderBy("started_at")
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list jobs", err)
	}
	defer rows.Close()
	var out []entity.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrapDBError("scan job", err)
		}
		out = append(out, job)
	}
	return out, wrapDBError("list jobs", rows.Err())
}

func (d *DB) AppendLog(ctx context.Context, entry *entity.ProcessingLog) error {
	entry.CreatedAt = utc(entry.CreatedAt)
	return d.inTx(ctx, func(tx *sql.Tx) error {
		sel := d.builder().Select("COALESCE(MAX(seq), 0)").From(d.builder().Table(tableLogs)).
			Where(entsql.EQ("job_id", entry.JobID))
		var last int
		if err := queryRow(ctx, tx, sel).Scan(&last); err != nil {
			return wrapDBError("next log seq", err)
		}
		entry.Seq = last + 1
		ins := d.builder().Insert(tableLogs).
			Columns("job_id", "seq", "stage", "outcome", "message", "created_at").
			Values(entry.JobID, entry.Seq, string(entry.Stage), string(entry.Outcome), entry.Message, entry.CreatedAt)
		if _, err := exec(ctx, tx, ins); err != nil {
			return wrapDBError("append log", err)
		}
		return nil
	})
}

func (d *DB) ListLogs(ctx context.Context, jobID uuid.UUID) ([]entity.ProcessingLog, error) {
	q := d.builder().Select("job_id", "seq", "stage", "outcome", "message", "created_at").
		From(d.builder().Table(tableLogs)).
		Where(entsql.EQ("job_id", jobID)).
		OrderBy("seq")
	rows, err := query(ctx, d.db, q)
	if err != nil {
		return nil, wrapDBError("list logs", err)
	}
	defer rows.Close()
	var out []entity.ProcessingLog
	for rows.Next() {
		var (
			l              entity.ProcessingLog
			stage, outcome string
			created        dbTime
		)
		if err := rows.Scan(&l.JobID, &l.Seq, &stage, &outcome, &l.Message, &created); err != nil {
			return nil, wrapDBError("scan log", err)
		}
		l.Stage = constants.JobStage(stage)
		l.Outcome = constants.LogOutcome(outcome)
		l.CreatedAt = created.Time
		out = append(out, l)
	}
	return out, wrapDBError("list logs", rows.Err())
}
