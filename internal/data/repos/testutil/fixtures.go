package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:                 uuid.New(),
		Email:              email,
		FirstName:          "A",
		LastName:           "B",
		Phone:              "+15550100",
		Timezone:           "UTC",
		SubscriptionStatus: types.SubscriptionActive,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedSignupData(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *types.SignupData {
	tb.Helper()
	sd := &types.SignupData{
		ID:            uuid.New(),
		UserID:        userID,
		Goals:         datatypes.JSON([]byte(`["strength"]`)),
		Constraints:   datatypes.JSON([]byte(`["no barbell"]`)),
		SchedulePrefs: datatypes.JSON([]byte(`{"days_per_week":3}`)),
		Experience:    "beginner",
	}
	if err := tx.WithContext(ctx).Create(sd).Error; err != nil {
		tb.Fatalf("seed signup data: %v", err)
	}
	return sd
}

func SeedProfile(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, current bool) *types.Profile {
	tb.Helper()
	p := &types.Profile{
		ID:      uuid.New(),
		UserID:  userID,
		Content: datatypes.JSON([]byte(`{"level":"beginner"}`)),
	}
	if current {
		p.CurrentKey = types.CurrentSlot()
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed profile: %v", err)
	}
	return p
}

func SeedPlan(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, profileID uuid.UUID, current bool) *types.Plan {
	tb.Helper()
	p := &types.Plan{
		ID:        uuid.New(),
		UserID:    userID,
		ProfileID: profileID,
		Title:     "plan",
		Content:   datatypes.JSON([]byte(`{"weeks":4}`)),
	}
	if current {
		p.CurrentKey = types.CurrentSlot()
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed plan: %v", err)
	}
	return p
}

func SeedMicrocycle(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, planID uuid.UUID, weekStart string, current bool) *types.Microcycle {
	tb.Helper()
	m := &types.Microcycle{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    planID,
		WeekStart: weekStart,
		WeekEnd:   weekStart,
		Days:      datatypes.JSON([]byte(`[{"day":"mon"}]`)),
	}
	if current {
		m.CurrentKey = types.CurrentSlot()
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed microcycle: %v", err)
	}
	return m
}

func SeedWorkout(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, microcycleID uuid.UUID, date string, current bool) *types.WorkoutInstance {
	tb.Helper()
	w := &types.WorkoutInstance{
		ID:           uuid.New(),
		UserID:       userID,
		MicrocycleID: microcycleID,
		WorkoutDate:  date,
		Title:        "workout",
		Content:      datatypes.JSON([]byte(`{"blocks":[]}`)),
	}
	if current {
		w.CurrentKey = types.CurrentSlot()
	}
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		tb.Fatalf("seed workout: %v", err)
	}
	return w
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
