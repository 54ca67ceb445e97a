package orchestrator

import (
	"time"
)

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageState is the checkpoint record for one stage of one run. It lives
// inside RunState, which is serialized into job_run.result, so a re-claimed
// job sees exactly what earlier attempts finished.
type StageState struct {
	Name       string         `json:"name"`
	Status     StageStatus    `json:"status"`
	Attempts   int            `json:"attempts"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
}

type RunState struct {
	Version      int                    `json:"version"`
	Stages       map[string]*StageState `json:"stages"`
	WaitUntil    *time.Time             `json:"wait_until,omitempty"`
	LastProgress int                    `json:"last_progress"`
	Meta         map[string]any         `json:"meta,omitempty"`
}

func (s *RunState) ensure() {
	if s.Version <= 0 {
		s.Version = 1
	}
	if s.Stages == nil {
		s.Stages = map[string]*StageState{}
	}
	if s.Meta == nil {
		s.Meta = map[string]any{}
	}
}

func (s *RunState) EnsureStage(name string) *StageState {
	s.ensure()
	ss := s.Stages[name]
	if ss == nil {
		ss = &StageState{
			Name:    name,
			Status:  StagePending,
			Outputs: map[string]any{},
		}
		s.Stages[name] = ss
	}
	if ss.Outputs == nil {
		ss.Outputs = map[string]any{}
	}
	return ss
}

// StageOutput reads a single output value recorded by an earlier stage. This
// is how the sequencer threads one stage's result into the next stage's
// input without a shared mutable context.
func (s *RunState) StageOutput(stage, key string) (any, bool) {
	if s == nil || s.Stages == nil {
		return nil, false
	}
	ss := s.Stages[stage]
	if ss == nil || ss.Outputs == nil {
		return nil, false
	}
	v, ok := ss.Outputs[key]
	return v, ok
}

func (s *RunState) StageOutputString(stage, key string) string {
	v, ok := s.StageOutput(stage, key)
	if !ok || v == nil {
		return ""
	}
	str, _ := v.(string)
	return str
}
