package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	coachingrepo "github.com/stridelab/coach-backend/internal/data/repos/coaching"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/platform/openai"
)

var ErrPlanMissing = errors.New("no current plan for microcycle generation")

// MicrocycleService materializes the current week of a plan. The week is the
// user's local Monday-to-Sunday window, so two runs in the same week converge
// on the same row.
type MicrocycleService interface {
	GetCurrentWeek(ctx context.Context, user *types.User) (*types.Microcycle, error)
	GetOrCreate(ctx context.Context, user *types.User, plan *types.Plan, force bool) (*types.Microcycle, bool, error)
}

type microcycleService struct {
	repo  coachingrepo.MicrocycleRepo
	ai    openai.Client
	model string
	now   Clock
	log   *logger.Logger
}

func NewMicrocycleService(repo coachingrepo.MicrocycleRepo, ai openai.Client, model string, now Clock, baseLog *logger.Logger) MicrocycleService {
	return &microcycleService{
		repo:  repo,
		ai:    ai,
		model: model,
		now:   orNow(now),
		log:   baseLog.With("service", "MicrocycleService"),
	}
}

func (s *microcycleService) GetCurrentWeek(ctx context.Context, user *types.User) (*types.Microcycle, error) {
	if user == nil {
		return nil, ErrUserNotFound
	}
	weekStart, _ := weekBounds(userLocalTime(user, s.now()))
	return s.repo.GetCurrentForWeek(dbctx.New(ctx), user.ID, weekStart)
}

func (s *microcycleService) GetOrCreate(ctx context.Context, user *types.User, plan *types.Plan, force bool) (*types.Microcycle, bool, error) {
	if user == nil {
		return nil, false, ErrUserNotFound
	}
	if plan == nil {
		return nil, false, ErrPlanMissing
	}
	weekStart, weekEnd := weekBounds(userLocalTime(user, s.now()))
	check := func(ctx context.Context) (*types.Microcycle, error) {
		m, err := s.repo.GetCurrentForWeek(dbctx.New(ctx), user.ID, weekStart)
		if err != nil {
			return nil, err
		}
		if m == nil || !hasContent(m.Days) {
			return nil, nil
		}
		return m, nil
	}
	create := func(ctx context.Context) (*types.Microcycle, error) {
		return s.generate(ctx, user, plan, weekStart, weekEnd, force)
	}
	return GetOrCreate(ctx, force, check, create)
}

func (s *microcycleService) generate(ctx context.Context, user *types.User, plan *types.Plan, weekStart, weekEnd string, force bool) (*types.Microcycle, error) {
	system := "You are a fitness coach. Lay out one week of training days from the given plan. Every calendar day appears once, rest days included."
	prompt := fmt.Sprintf("Plan: %s\nWeek: %s to %s", string(plan.Content), weekStart, weekEnd)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":  map[string]any{"type": "string"},
						"focus": map[string]any{"type": "string"},
						"rest":  map[string]any{"type": "boolean"},
					},
					"required":             []string{"date", "focus"},
					"additionalProperties": true,
				},
			},
		},
		"required":             []string{"days"},
		"additionalProperties": false,
	}
	obj, err := s.ai.GenerateJSON(ctx, system, prompt, "microcycle_week", schema)
	if err != nil {
		return nil, fmt.Errorf("microcycle generation: %w", err)
	}
	days, err := json.Marshal(obj["days"])
	if err != nil {
		return nil, fmt.Errorf("microcycle generation: %w", err)
	}
	m := &types.Microcycle{
		ID:        uuid.New(),
		UserID:    user.ID,
		PlanID:    plan.ID,
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		Days:      datatypes.JSON(days),
		Model:     s.model,
	}
	if force {
		return s.repo.ReplaceCurrentForWeek(dbctx.New(ctx), m)
	}
	return s.repo.CreateCurrent(dbctx.New(ctx), m)
}

// DayFor picks the microcycle entry matching the given local date.
func DayFor(m *types.Microcycle, date string) (map[string]any, bool) {
	if m == nil || len(m.Days) == 0 {
		return nil, false
	}
	var days []map[string]any
	if err := json.Unmarshal(m.Days, &days); err != nil {
		return nil, false
	}
	for _, d := range days {
		if v, ok := d["date"].(string); ok && v == date {
			return d, true
		}
	}
	return nil, false
}
