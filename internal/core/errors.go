package core

import "errors"

var (
	ErrDuplicateSession    = errors.New("session already exists")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyInSession    = errors.New("connection already in a session")
	ErrNotInSession        = errors.New("connection is not in a session")
	ErrTargetNotFound      = errors.New("target is not a member of the session")
	ErrBroadcastNotAllowed = errors.New("negotiation envelopes must be addressed to a single peer")
	ErrConnectionExists    = errors.New("connection id already connected")
)
