package errors

import "fmt"

// ValidationError reports tool arguments that do not match the tool schema.
// The tool never ran.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool '%s': %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutionError reports a tool that ran and failed.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool '%s' failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// LookupError reports a tool name that is not registered.
type LookupError struct {
	Tool string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("tool '%s' is not registered", e.Tool)
}

// GenerationError reports a failed call into the language model.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
