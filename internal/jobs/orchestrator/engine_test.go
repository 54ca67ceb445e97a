package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/stridelab/coach-backend/internal/domain"
	jobrt "github.com/stridelab/coach-backend/internal/jobs/runtime"
)

// memJob builds an in-memory job context. With a nil repo the engine still
// mirrors every state write into Job.Result, which is all these tests need.
func memJob() *jobrt.Context {
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     "test_pipeline",
		Status:      types.JobStatusRunning,
		Payload:     datatypes.JSON([]byte(`{}`)),
	}
	return jobrt.NewContext(context.Background(), nil, job, nil, nil)
}

func fastEngine() *Engine {
	e := NewEngine()
	e.MinPollInterval = time.Millisecond
	e.MaxPollInterval = 2 * time.Millisecond
	return e
}

func TestEngineRunsStagesInOrder(t *testing.T) {
	jc := memJob()
	var order []string
	stages := []Stage{
		{Name: "one", StartPct: 0, EndPct: 50, Run: func(*jobrt.Context, *RunState) (map[string]any, error) {
			order = append(order, "one")
			return map[string]any{"k": "v"}, nil
		}},
		{Name: "two", StartPct: 50, EndPct: 100, Run: func(_ *jobrt.Context, st *RunState) (map[string]any, error) {
			order = append(order, "two")
			if got := st.StageOutputString("one", "k"); got != "v" {
				t.Fatalf("stage two sees output %q, want v", got)
			}
			return nil, nil
		}},
	}

	fastEngine().Run(jc, stages, map[string]any{"done": true})

	if len(order) != 2 || order[0] != "one" || order[1] != "two" {
		t.Fatalf("stage order = %v", order)
	}
	if jc.Job.Status != types.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", jc.Job.Status)
	}
	if jc.Job.Progress != 100 {
		t.Fatalf("job progress = %d, want 100", jc.Job.Progress)
	}
}

func TestEngineSkipsSucceededStagesOnResume(t *testing.T) {
	jc := memJob()
	runs := map[string]int{}
	boom := errors.New("transient")
	fail := true
	stages := []Stage{
		{Name: "a", StartPct: 0, EndPct: 40, Run: func(*jobrt.Context, *RunState) (map[string]any, error) {
			runs["a"]++
			return nil, nil
		}},
		{Name: "b", StartPct: 40, EndPct: 100, Retry: RetryPolicy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, Run: func(*jobrt.Context, *RunState) (map[string]any, error) {
			runs["b"]++
			if fail {
				fail = false
				return nil, boom
			}
			return nil, nil
		}},
	}
	e := fastEngine()

	// First pass: a succeeds, b fails and yields for retry.
	e.Run(jc, stages, nil)
	if jc.Job.Status != types.JobStatusRunning {
		t.Fatalf("after yield job status = %s, want running (in-memory)", jc.Job.Status)
	}

	// Give the backoff window time to pass, then resume.
	time.Sleep(10 * time.Millisecond)
	e.Run(jc, stages, nil)
	if jc.Job.Status == types.JobStatusRunning {
		// The wait gate may burn one pass on clearing WaitUntil.
		e.Run(jc, stages, nil)
	}

	if jc.Job.Status != types.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", jc.Job.Status)
	}
	if runs["a"] != 1 {
		t.Fatalf("stage a ran %d times, want 1", runs["a"])
	}
	if runs["b"] != 2 {
		t.Fatalf("stage b ran %d times, want 2", runs["b"])
	}
}

func TestEngineFailsAfterRetryBudget(t *testing.T) {
	jc := memJob()
	attempts := 0
	stages := []Stage{
		{Name: "flaky", StartPct: 0, EndPct: 100, Retry: RetryPolicy{MaxAttempts: 2, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, Run: func(*jobrt.Context, *RunState) (map[string]any, error) {
			attempts++
			return nil, errors.New("always broken")
		}},
	}
	e := fastEngine()

	for i := 0; i < 10 && jc.Job.Status != types.JobStatusFailed; i++ {
		time.Sleep(5 * time.Millisecond)
		e.Run(jc, stages, nil)
	}

	if jc.Job.Status != types.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", jc.Job.Status)
	}
	if attempts != 2 {
		t.Fatalf("stage attempts = %d, want 2", attempts)
	}
	if jc.Job.Error == "" {
		t.Fatalf("failed job has empty error")
	}
}

func TestEngineNonRetryableErrorFailsImmediately(t *testing.T) {
	jc := memJob()
	fatal := errors.New("missing prerequisite")
	attempts := 0
	stages := []Stage{
		{
			Name: "load", StartPct: 0, EndPct: 100,
			Retry: RetryPolicy{MaxAttempts: 5, Retryable: func(err error) bool { return !errors.Is(err, fatal) }},
			Run: func(*jobrt.Context, *RunState) (map[string]any, error) {
				attempts++
				return nil, fatal
			},
		},
	}

	fastEngine().Run(jc, stages, nil)

	if jc.Job.Status != types.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", jc.Job.Status)
	}
	if attempts != 1 {
		t.Fatalf("non-retryable error ran %d attempts, want 1", attempts)
	}
}

func TestEngineIsDoneShortCircuit(t *testing.T) {
	jc := memJob()
	ran := false
	stages := []Stage{
		{
			Name: "already", StartPct: 0, EndPct: 100,
			IsDone: func(*jobrt.Context, *RunState) (bool, error) { return true, nil },
			Run: func(*jobrt.Context, *RunState) (map[string]any, error) {
				ran = true
				return nil, nil
			},
		},
	}

	fastEngine().Run(jc, stages, nil)

	if ran {
		t.Fatalf("Run executed despite IsDone=true")
	}
	if jc.Job.Status != types.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", jc.Job.Status)
	}
}

func TestValidateStagesRejectsBadDefinitions(t *testing.T) {
	noop := func(*jobrt.Context, *RunState) (map[string]any, error) { return nil, nil }
	cases := []struct {
		name   string
		stages []Stage
	}{
		{"empty name", []Stage{{Name: " ", Run: noop}}},
		{"duplicate", []Stage{{Name: "x", Run: noop}, {Name: "x", Run: noop}}},
		{"nil run", []Stage{{Name: "x"}}},
		{"pct regression", []Stage{{Name: "x", StartPct: 0, EndPct: 80, Run: noop}, {Name: "y", StartPct: 10, EndPct: 50, Run: noop}}},
	}
	for _, tc := range cases {
		if err := validateStages(tc.stages); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
