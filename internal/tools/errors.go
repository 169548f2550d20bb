package tools

import "fmt"

// InvalidArgumentsError means the model called a tool with a malformed or
// out-of-contract argument set. The orchestrator feeds it back as an
// observation and lets the model retry once.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// ExecutionError means a tool's collaborator failed (network, database).
// The orchestrator retries the call once, then surfaces the failure to
// the model as an observation.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
