package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNoCredentials = errors.New("no credentials")
	ErrSessionNotUp  = errors.New("network session not ready")
	ErrMasterClose   = errors.New("manual close targets the master account")
	ErrQueueFull     = errors.New("event queue full")
	ErrStopPending   = errors.New("stop requires confirmation")
	ErrNotRunning    = errors.New("relay is not running")
)
