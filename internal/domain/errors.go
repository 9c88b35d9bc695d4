package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrCacheInconsistent = errors.New("cache inconsistent")
	ErrJoinMiss          = errors.New("join miss")
	ErrNoProposal        = errors.New("no proposal for round")
	ErrLockHeld          = errors.New("lock held by another run")
)
