// Package sentinel holds infrastructure facts returned by stores. Services
// translate them into domain errors.
package sentinel

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
