package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"gorm.io/datatypes"

	jobrt "github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
)

// RetryPolicy bounds how often a single stage may fail before the whole job
// is failed. Retryable lets a stage declare some errors terminal (e.g.
// missing prerequisite data) regardless of attempts left.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(err error) bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
	JitterFrac float64       // default 0.20
}

// Stage is one checkpointed unit of a pipeline.
//
// IsDone is the idempotency checker: when it reports true the stage is
// recorded succeeded without running. Run does the actual work and returns
// outputs that are checkpointed for later stages. Both receive the run state
// so they can read outputs of earlier stages.
type Stage struct {
	Name     string
	Timeout  time.Duration
	StartPct int
	EndPct   int
	StartMsg string
	DoneMsg  string
	Retry    RetryPolicy
	IsDone   func(ctx *jobrt.Context, st *RunState) (bool, error)
	Run      func(ctx *jobrt.Context, st *RunState) (map[string]any, error)
}

// Engine executes an ordered stage list against one job run with per-stage
// checkpointing. A stage that already succeeded in a previous attempt is
// never re-executed; its recorded outputs stand in for it. The checkpoint
// cache is a convenience only: every stage's IsDone must stay safe to call
// again, because the source of truth is durable storage.
type Engine struct {
	MinPollInterval time.Duration // default 2s
	MaxPollInterval time.Duration // default 10s

	StateVersion int // default 1
}

func NewEngine() *Engine {
	return &Engine{
		MinPollInterval: 2 * time.Second,
		MaxPollInterval: 10 * time.Second,
		StateVersion:    1,
	}
}

// Run drives the stage list. It returns after either finishing the job
// (Succeed/Fail recorded on the job row) or yielding it back to the queue
// for a later attempt; callers inspect the job row to tell which.
func (e *Engine) Run(ctx *jobrt.Context, stages []Stage, finalResult map[string]any) {
	if ctx == nil || ctx.Job == nil {
		return
	}
	if len(stages) == 0 {
		ctx.Succeed("done", finalResult)
		return
	}
	if err := validateStages(stages); err != nil {
		ctx.Fail("validate", err)
		return
	}
	st, _ := LoadState(ctx, e.StateVersion)
	if e.waitGate(ctx, st) {
		return
	}
	for i := range stages {
		def := stages[i]
		ss := st.EnsureStage(def.Name)
		if ss.Status == StageSucceeded || ss.Status == StageSkipped {
			continue
		}
		if e.stageWaitGate(ctx, st, def, ss) {
			return
		}
		e.startStage(ctx, st, def, ss)
		if e.runStage(ctx, st, def, ss) {
			return
		}
	}
	e.succeed(ctx, st, stages, finalResult)
}

func (e *Engine) waitGate(ctx *jobrt.Context, st *RunState) bool {
	if st == nil || st.WaitUntil == nil {
		return false
	}
	now := time.Now()
	if now.Before(*st.WaitUntil) {
		sleep := clampDuration(st.WaitUntil.Sub(now), e.MinPollInterval, e.MaxPollInterval)
		if sleep > 0 {
			time.Sleep(sleep)
		}
		_ = SaveState(ctx, st)
		_ = yieldToQueue(ctx, "waiting", st.LastProgress)
		return true
	}
	st.WaitUntil = nil
	_ = SaveState(ctx, st)
	return false
}

func (e *Engine) stageWaitGate(ctx *jobrt.Context, st *RunState, def Stage, ss *StageState) bool {
	if ss == nil || ss.NextRunAt == nil {
		return false
	}
	if time.Now().Before(*ss.NextRunAt) {
		sleep := clampDuration(time.Until(*ss.NextRunAt), e.MinPollInterval, e.MaxPollInterval)
		if sleep > 0 {
			time.Sleep(sleep)
		}
		_ = SaveState(ctx, st)
		_ = yieldToQueue(ctx, "waiting_"+def.Name, st.LastProgress)
		return true
	}
	ss.NextRunAt = nil
	return false
}

func (e *Engine) startStage(ctx *jobrt.Context, st *RunState, def Stage, ss *StageState) {
	setProgress(ctx, st, def.Name, def.StartPct, msgOr(def.StartMsg, "Starting "+def.Name))
	ss.Status = StageRunning
	markStarted(ss)
	_ = SaveState(ctx, st)
}

// runStage returns true when the engine should stop for this attempt (stage
// failed terminally or yielded for retry).
func (e *Engine) runStage(ctx *jobrt.Context, st *RunState, def Stage, ss *StageState) bool {
	if def.IsDone != nil {
		done, derr := def.IsDone(ctx, st)
		if derr != nil {
			return e.handleStageErr(ctx, st, ss, def, derr)
		}
		if done {
			e.finishStage(ctx, st, def, ss)
			return false
		}
	}
	outs, runErr := runWithTimeout(def, ctx, st)
	if runErr != nil {
		return e.handleStageErr(ctx, st, ss, def, runErr)
	}
	if outs != nil {
		mergeOutputs(ss, outs)
	}
	e.finishStage(ctx, st, def, ss)
	return false
}

func (e *Engine) finishStage(ctx *jobrt.Context, st *RunState, def Stage, ss *StageState) {
	ss.Status = StageSucceeded
	markFinished(ss, "")
	setProgress(ctx, st, def.Name, def.EndPct, msgOr(def.DoneMsg, "Done "+def.Name))
	_ = SaveState(ctx, st)
}

func (e *Engine) succeed(ctx *jobrt.Context, st *RunState, stages []Stage, finalResult map[string]any) {
	out := map[string]any{}
	for _, sdef := range stages {
		if ss := st.Stages[sdef.Name]; ss != nil && ss.Outputs != nil {
			out[sdef.Name] = ss.Outputs
		}
	}
	final := map[string]any{
		"orchestrator": st,
		"outputs":      out,
	}
	for k, v := range finalResult {
		final[k] = v
	}
	ctx.Succeed("done", final)
}

func (e *Engine) handleStageErr(ctx *jobrt.Context, st *RunState, ss *StageState, def Stage, err error) bool {
	if ss == nil {
		return true
	}
	ss.Attempts++
	ss.LastError = errString(err)
	ss.Status = StageFailed
	markFinished(ss, ss.LastError)
	if shouldRetry(def.Retry, ss.Attempts, err) {
		delay := computeBackoff(def.Retry, ss.Attempts)
		when := time.Now().Add(delay)
		ss.NextRunAt = &when
		st.WaitUntil = &when
		_ = SaveState(ctx, st)
		_ = yieldToQueue(ctx, "retry_"+def.Name, st.LastProgress)
		return true
	}
	_ = SaveState(ctx, st)
	ctx.Fail(def.Name, err)
	return true
}

// -------------------- state persistence --------------------

// LoadState deserializes checkpoint state from the job row's result column.
// An unreadable or foreign result yields a fresh state; the stages' own
// IsDone checks make that safe.
func LoadState(ctx *jobrt.Context, version int) (*RunState, error) {
	st := &RunState{Version: version, Stages: map[string]*StageState{}, Meta: map[string]any{}}
	if ctx == nil || ctx.Job == nil {
		st.ensure()
		return st, nil
	}
	raw := ctx.Job.Result
	if len(raw) == 0 || string(raw) == "null" {
		st.ensure()
		return st, nil
	}
	var wrapped map[string]any
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if v, ok := wrapped["orchestrator"]; ok {
			b, _ := json.Marshal(v)
			_ = json.Unmarshal(b, st)
			st.ensure()
			return st, nil
		}
	}
	if err := json.Unmarshal(raw, st); err != nil {
		st.Meta["state_unmarshal_error"] = err.Error()
		st.ensure()
		return st, nil
	}
	st.ensure()
	return st, nil
}

// HasCheckpoint reports whether the job row already carries stage state from
// an earlier pass over this job. Callers use it to tell a resumed job apart
// from a fresh trigger.
func HasCheckpoint(ctx *jobrt.Context) bool {
	if ctx == nil || ctx.Job == nil || len(ctx.Job.Result) == 0 {
		return false
	}
	st, _ := LoadState(ctx, 1)
	return st != nil && len(st.Stages) > 0
}

func SaveState(ctx *jobrt.Context, st *RunState) error {
	if ctx == nil || ctx.Job == nil || st == nil {
		return nil
	}
	st.ensure()
	b, _ := json.Marshal(st)
	_ = ctx.Update(map[string]any{"result": datatypes.JSON(b)})
	ctx.Job.Result = datatypes.JSON(b)
	return nil
}

func yieldToQueue(ctx *jobrt.Context, stage string, progress int) error {
	if ctx == nil || ctx.Job == nil || ctx.Repo == nil {
		return nil
	}
	now := time.Now()
	return ctx.Repo.UpdateFields(dbctx.New(ctx.Ctx), ctx.Job.ID, map[string]interface{}{
		"status":       "queued",
		"stage":        stage,
		"progress":     progress,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	})
}

// -------------------- validation + helpers --------------------

func validateStages(stages []Stage) error {
	seen := map[string]bool{}
	lastEnd := -1
	for _, s := range stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stage missing Name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Run == nil {
			return fmt.Errorf("stage %q: Run is nil", s.Name)
		}
		if s.StartPct < 0 || s.StartPct > 100 || s.EndPct < 0 || s.EndPct > 100 {
			return fmt.Errorf("stage %q: progress must be 0..100", s.Name)
		}
		if s.EndPct < s.StartPct {
			return fmt.Errorf("stage %q: EndPct must be >= StartPct", s.Name)
		}
		if s.EndPct < lastEnd {
			return fmt.Errorf("stage %q: EndPct must be >= previous stage EndPct", s.Name)
		}
		lastEnd = s.EndPct
	}
	return nil
}

func runWithTimeout(def Stage, ctx *jobrt.Context, st *RunState) (map[string]any, error) {
	if def.Timeout <= 0 {
		return def.Run(ctx, st)
	}
	parent := ctx.Ctx
	if parent == nil {
		parent = context.Background()
	}
	tctx, cancel := context.WithTimeout(parent, def.Timeout)
	defer cancel()
	scoped := *ctx
	scoped.Ctx = tctx
	type out struct {
		m map[string]any
		e error
	}
	ch := make(chan out, 1)
	go func() {
		m, e := def.Run(&scoped, st)
		ch <- out{m: m, e: e}
	}()
	select {
	case <-tctx.Done():
		return nil, fmt.Errorf("stage %q timed out: %w", def.Name, tctx.Err())
	case o := <-ch:
		return o.m, o.e
	}
}

func setProgress(ctx *jobrt.Context, st *RunState, stage string, pct int, msg string) {
	if ctx == nil || st == nil {
		return
	}
	if pct < st.LastProgress {
		pct = st.LastProgress
	} else {
		st.LastProgress = pct
	}
	ctx.Progress(stage, pct, msg)
}

func markStarted(ss *StageState) {
	if ss == nil || ss.StartedAt != nil {
		return
	}
	now := time.Now().UTC()
	ss.StartedAt = &now
}

func markFinished(ss *StageState, lastErr string) {
	if ss == nil {
		return
	}
	now := time.Now().UTC()
	ss.FinishedAt = &now
	if strings.TrimSpace(lastErr) != "" {
		ss.LastError = lastErr
	}
}

func mergeOutputs(ss *StageState, outs map[string]any) {
	if ss == nil || outs == nil {
		return
	}
	if ss.Outputs == nil {
		ss.Outputs = map[string]any{}
	}
	for k, v := range outs {
		ss.Outputs[k] = v
	}
}

func shouldRetry(r RetryPolicy, attempts int, err error) bool {
	if r.MaxAttempts <= 0 || attempts >= r.MaxAttempts {
		return false
	}
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

func clampDuration(d, minD, maxD time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if minD > 0 && d < minD {
		return minD
	}
	if maxD > 0 && d > maxD {
		return maxD
	}
	return d
}

func msgOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
