package interfaces

import "errors"

// Error taxonomy from spec.md §7. Callers use errors.Is against these
// sentinels; propagation rules (recoverable -> surfaced to the model,
// unrecoverable -> short-circuit the ticker) live in the agent package.
var (
	ErrInputInvalid          = errors.New("input invalid")
	ErrResourceMissing       = errors.New("resource missing")
	ErrLoginFailed           = errors.New("login failed")
	ErrNavigationFailed      = errors.New("navigation failed")
	ErrExtractionFailed      = errors.New("extraction failed")
	ErrCellConflict          = errors.New("cell conflict: target cell already has a value")
	ErrAlreadyInserted       = errors.New("a period column was already inserted for this sheet in this run")
	ErrInvalidReference      = errors.New("invalid cell reference")
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
	ErrTimeoutExceeded       = errors.New("ticker run timed out")
	ErrTransport             = errors.New("transport error")
)
