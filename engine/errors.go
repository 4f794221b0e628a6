package engine

import "errors"

// Error codes from spec §6. No payload carries them: error_message payloads
// have no code field, and error_occurred carries the lowercase code taken
// from error_received (default "unknown_error").
const (
	CodeEmptyMessage         = "EMPTY_MESSAGE"
	CodeUnknownError         = "UNKNOWN_ERROR"
	CodeRateLimit            = "RATE_LIMIT"
	CodeTransportError       = "TRANSPORT_ERROR"
	CodeParseError           = "PARSE_ERROR"
	CodeDriverAborted        = "DRIVER_ABORTED"
	CodeEngineNotInitialized = "ENGINE_NOT_INITIALIZED"
	CodeEngineDestroyed      = "ENGINE_DESTROYED"
	CodeBusClosed            = "BUS_CLOSED"
)

// Sentinel lifecycle errors rejected synchronously from public methods
// (spec §7 "Lifecycle"), grounded on the teacher's flat sentinel errors
// (goadesign-goa-ai/runtime/agent/model/model.go: ErrStreamingUnsupported,
// ErrRateLimited — plain errors.New values, errors.Is-compatible).
var (
	ErrNotInitialized = errors.New("engine: not initialized")
	ErrEmptyMessage   = errors.New("engine: message content is empty")
	ErrDestroyed      = errors.New("engine: destroyed")
)
