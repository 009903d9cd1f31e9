package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrConsistency     = errors.New("consistency violation")
	ErrRepoNotEnrolled = errors.New("repository not enrolled")
	ErrSyncStopped     = errors.New("sync stopped")
)
