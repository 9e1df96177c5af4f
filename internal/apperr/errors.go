// Package apperr holds the sentinel errors shared across sensorhub packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrCorrupt       = errors.New("corrupt")
	ErrAlreadyExists = errors.New("already exists")

	// Remote fetch failures. Both leave the sensor's last_used untouched.
	ErrUpstream  = errors.New("upstream failure")
	ErrMalformed = errors.New("malformed payload")

	// ErrNoContent marks a successful provider call that produced nothing new.
	ErrNoContent = errors.New("no content")

	// ErrRateLimited means request_delta has not elapsed since last_used.
	ErrRateLimited = errors.New("rate limited")

	ErrPersist    = errors.New("persist failure")
	ErrIncomplete = errors.New("incomplete record")
)
