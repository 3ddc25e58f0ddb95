package pipeline

import (
	"sort"
	"sync"
	"time"
)

// RunInfo describes one in-flight evaluation run
type RunInfo struct {
	RunID      string    `json:"runId"`
	StrategyID string    `json:"strategyId"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"startedAt"`
}

// RunRegistry tracks in-flight runs for introspection. Each run's entry is
// written only by the goroutine executing that run.
type RunRegistry struct {
	runs sync.Map // runID -> RunInfo
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{}
}

// Add registers a run at its starting stage.
func (r *RunRegistry) Add(runID, strategyID string) {
	r.runs.Store(runID, RunInfo{
		RunID:      runID,
		StrategyID: strategyID,
		Stage:      "started",
		StartedAt:  time.Now().UTC(),
	})
}

// SetStage records the stage a run is currently executing.
func (r *RunRegistry) SetStage(runID, stage string) {
	if v, ok := r.runs.Load(runID); ok {
		info := v.(RunInfo)
		info.Stage = stage
		r.runs.Store(runID, info)
	}
}

// Remove deregisters a finished run.
func (r *RunRegistry) Remove(runID string) {
	r.runs.Delete(runID)
}

// Count returns the number of in-flight runs.
func (r *RunRegistry) Count() int {
	count := 0
	r.runs.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Snapshot lists in-flight runs ordered by start time.
func (r *RunRegistry) Snapshot() []RunInfo {
	var infos []RunInfo
	r.runs.Range(func(_, v any) bool {
		infos = append(infos, v.(RunInfo))
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}
