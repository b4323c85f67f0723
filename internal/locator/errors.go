package locator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a confirmed miss: the identifier has no cell.
	ErrNotFound = errors.New("no cell found for identifier")

	// ErrNotReady is returned for misses while no complete mapping has been
	// loaded yet (bootstrap in progress or degraded without a snapshot).
	ErrNotReady = errors.New("locator is not ready")

	// ErrLocalityMismatch is returned when the identifier's cell lives in a
	// different locality than the one requested.
	ErrLocalityMismatch = errors.New("requested locality does not match the cell's locality")

	ErrControlPlaneUnavailable = errors.New("control plane unavailable")
	ErrMalformedResponse       = errors.New("malformed control plane response")
	ErrBackupStoreUnavailable  = errors.New("backup route store unavailable")
)

// ConfigError reports an invalid locator setting. It is only produced at
// startup.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("locator config: %s: %s", e.Field, e.Msg)
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
