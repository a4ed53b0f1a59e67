package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found or inactive")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrStorageFailure       = errors.New("storage failure")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserNotInSession     = errors.New("user not in session")
	ErrNoUsersInSession     = errors.New("no users in session")
	ErrNotJoined            = errors.New("connection has not joined a session")
)
