package entity

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrTimeout             = errors.New("timed out")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrVisibilityLag       = errors.New("artifact not yet visible")
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrNoSlot            = errors.New("no free processing slot")
)
