package bridge

import "errors"

// Sentinel errors for the on_load/on_update/on_unload boundary (§7). None
// of these ever panic across that boundary; on_update recovers any panic
// from a collaborator and converts it to ErrUpdateFailed.
var (
	ErrMappingUnavailable = errors.New("bridge: snapshot mapping unavailable")
	ErrAlreadyLoaded      = errors.New("bridge: already loaded")
	ErrNotLoaded          = errors.New("bridge: not loaded")
	ErrUpdateFailed       = errors.New("bridge: on_update recovered from a panic")
)
