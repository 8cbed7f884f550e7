package constants

// JobStage is the canonical pipeline stage for rows in ingestion_job.
type JobStage string

// Stable values (store these exact strings in DB).
const (
	StageCreated     JobStage = "created"
	StageExtracting  JobStage = "extracting"
	StageParsing     JobStage = "parsing"
	StageNormalizing JobStage = "normalizing"
	StageSaving      JobStage = "saving"
	StageCompleted   JobStage = "completed"
	StageFailed      JobStage = "failed" // terminal, reachable from any non-terminal stage
)

// orderedStages is the only legal forward path for a job.
var orderedStages = []JobStage{
	StageCreated,
	StageExtracting,
	StageParsing,
	StageNormalizing,
	StageSaving,
	StageCompleted,
}

// JobStages lists every stage value, including failed.
var JobStages = []string{
	string(StageCreated),
	string(StageExtracting),
	string(StageParsing),
	string(StageNormalizing),
	string(StageSaving),
	string(StageCompleted),
	string(StageFailed),
}

func (s JobStage) index() int {
	for i, st := range orderedStages {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s JobStage) Valid() bool {
	return s == StageFailed || s.index() >= 0
}

// Next returns the stage that follows s, or "" when s is terminal.
func (s JobStage) Next() JobStage {
	i := s.index()
	if i < 0 || i+1 >= len(orderedStages) {
		return ""
	}
	return orderedStages[i+1]
}

// CanAdvance reports whether moving from s to to is a legal transition:
// exactly one step forward, or to failed from any non-terminal stage.
func (s JobStage) CanAdvance(to JobStage) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	return s.Next() == to
}
