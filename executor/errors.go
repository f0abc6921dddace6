// Package executor implements the StepExecutor (spec.md §4.5): the
// per-step dispatch engine that probes the cache, resolves parameters,
// dispatches by kind, normalizes the result, and writes status/audit/cache
// records. Grounded on gomind's orchestration/executor.go step-dispatch
// switch and orchestration/cache.go's cache shape, generalized from
// routing-plan caching to per-step result caching.
package executor

import "fmt"

// Error codes are the stable, matchable failure categories spec.md §7
// enumerates for ExecutionError. The Orchestrator and StepExecutor both
// raise these; callers should switch on Code, not on Error()'s text.
const (
	CodeMissingPluginAction     = "MISSING_PLUGIN_ACTION"
	CodeUnknownStepType         = "UNKNOWN_STEP_TYPE"
	CodeInvalidStepType         = "INVALID_STEP_TYPE"
	CodeInvalidInputType        = "INVALID_INPUT_TYPE"
	CodeMissingCondition        = "MISSING_CONDITION"
	CodeMissingOperation        = "MISSING_OPERATION"
	CodeMissingInputData        = "MISSING_INPUT_DATA"
	CodeUnknownTransformOp      = "UNKNOWN_TRANSFORM_OPERATION"
	CodeUnknownComparisonOp     = "UNKNOWN_COMPARISON_OPERATION"
	CodeSubWorkflowFailed       = "SUB_WORKFLOW_FAILED"
	CodeSubWorkflowTimeout      = "SUB_WORKFLOW_TIMEOUT"
	CodeApprovalRejected        = "APPROVAL_REJECTED"
	CodeExecutionTimeout        = "EXECUTION_TIMEOUT"
	CodeWorkflowNotFound        = "WORKFLOW_NOT_FOUND"
	CodeStepExecutionFailed     = "STEP_EXECUTION_FAILED"
	CodeLLMDecisionFailed       = "LLM_DECISION_FAILED"
	CodeMissingParallelExecutor = "MISSING_PARALLEL_EXECUTOR"
)

// ExecutionError is a runtime step failure carrying a stable code (spec.md
// §7 "ExecutionError"). It never represents a malformed workflow definition
// — that is planner.ValidationError's job.
type ExecutionError struct {
	StepID  string
	Code    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: step %q [%s]: %s: %v", e.StepID, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("executor: step %q [%s]: %s", e.StepID, e.Code, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func newExecErr(stepID, code, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{StepID: stepID, Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapExecErr(stepID, code string, err error) *ExecutionError {
	return &ExecutionError{StepID: stepID, Code: code, Message: err.Error(), Err: err}
}
