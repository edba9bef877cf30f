package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("tool payload violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrRoundLimit      = errors.New("agent round limit exceeded")
	ErrToolFailed      = errors.New("tool execution failed")
	ErrAtomicWrite     = errors.New("atomic schedule write failed")
)

// GenericFailureMessage is the only text surfaced to end users for fatal failures.
const GenericFailureMessage = "The agent failed to answer. Please try again."

// IsFatal reports whether a tool error must abort the whole request instead of
// being reported back to the model as an error result.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrUnknownTool) ||
		errors.Is(err, ErrAtomicWrite)
}
