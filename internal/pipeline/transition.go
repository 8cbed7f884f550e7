// Package pipeline runs ingestion jobs through their stages:
// created, extracting, parsing, normalizing, saving, completed. Any
// non-terminal stage may move to failed.
package pipeline

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

// Failure reasons recorded on jobs.
const (
	ReasonNoContent = "no recipe content detected"
	ReasonCancelled = "cancelled"
)

// LogEntry is a processing log row produced by a stage, before it has a
// job and sequence number.
type LogEntry struct {
	Stage   constants.JobStage
	Outcome constants.LogOutcome
	Message string
}

func okf(stage constants.JobStage, format string, args ...any) LogEntry {
	return LogEntry{Stage: stage, Outcome: constants.OutcomeOK, Message: fmt.Sprintf(format, args...)}
}

func warnf(stage constants.JobStage, format string, args ...any) LogEntry {
	return LogEntry{Stage: stage, Outcome: constants.OutcomeWarning, Message: fmt.Sprintf(format, args...)}
}

func errorf(stage constants.JobStage, format string, args ...any) LogEntry {
	return LogEntry{Stage: stage, Outcome: constants.OutcomeError, Message: fmt.Sprintf(format, args...)}
}

// Transition moves a job to To. Reason and Retryable apply when To is
// failed.
type Transition struct {
	To        constants.JobStage
	Reason    string
	Retryable bool
	Logs      []LogEntry
}

// Fail builds a transition to the failed stage.
func Fail(reason string, retryable bool, logs ...LogEntry) Transition {
	return Transition{To: constants.StageFailed, Reason: reason, Retryable: retryable, Logs: logs}
}

// Advance applies t to job and returns the updated copy. Only a single step
// forward, or failed from a non-terminal stage, is accepted.
func Advance(job entity.IngestionJob, t Transition, now time.Time) (entity.IngestionJob, error) {
	if !job.Stage.CanAdvance(t.To) {
		return job, fmt.Errorf("job %s: %s -> %s: %w", job.ID, job.Stage, t.To, common.ErrInvalidTransition)
	}
	job.Stage = t.To
	job.UpdatedAt = now
	if t.To == constants.StageFailed {
		job.ErrorReason = t.Reason
		job.Retryable = t.Retryable
	}
	if t.To.IsTerminal() {
		finished := now
		job.FinishedAt = &finished
	}
	return job, nil
}
