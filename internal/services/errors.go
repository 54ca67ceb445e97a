package services

import "errors"

// Fatal-missing-prerequisite errors: the pipeline aborts instead of retrying
// when these surface from the load stage.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrSignupDataMissing = errors.New("signup data missing")
)

func IsFatalPrerequisite(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrSignupDataMissing)
}
