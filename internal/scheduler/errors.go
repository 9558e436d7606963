package scheduler

import "errors"

var (
	// ErrPlanNotFound is returned when a plan id is unknown.
	ErrPlanNotFound = errors.New("scheduler: plan not found")

	// ErrDuplicatePlan is returned when adding a plan id that already exists.
	ErrDuplicatePlan = errors.New("scheduler: duplicate plan")

	// ErrInvalidPlan is returned when a plan fails validation.
	ErrInvalidPlan = errors.New("scheduler: invalid plan")

	// ErrStopped is returned by operations after the scheduler has stopped.
	ErrStopped = errors.New("scheduler: stopped")
)
