package app

import (
	"gorm.io/gorm"

	coachingrepo "github.com/stridelab/coach-backend/internal/data/repos/coaching"
	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	onboardingrepo "github.com/stridelab/coach-backend/internal/data/repos/onboarding"
	userrepo "github.com/stridelab/coach-backend/internal/data/repos/user"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type Repos struct {
	Users       userrepo.UserRepo
	Signups     userrepo.SignupDataRepo
	Profiles    coachingrepo.ProfileRepo
	Plans       coachingrepo.PlanRepo
	Microcycles coachingrepo.MicrocycleRepo
	Workouts    coachingrepo.WorkoutRepo
	Runs        onboardingrepo.RunRepo
	Messages    onboardingrepo.MessageRepo
	JobRuns     jobsrepo.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Users:       userrepo.NewUserRepo(db, log),
		Signups:     userrepo.NewSignupDataRepo(db, log),
		Profiles:    coachingrepo.NewProfileRepo(db, log),
		Plans:       coachingrepo.NewPlanRepo(db, log),
		Microcycles: coachingrepo.NewMicrocycleRepo(db, log),
		Workouts:    coachingrepo.NewWorkoutRepo(db, log),
		Runs:        onboardingrepo.NewRunRepo(db, log),
		Messages:    onboardingrepo.NewMessageRepo(db, log),
		JobRuns:     jobsrepo.NewJobRunRepo(db, log),
	}
}
