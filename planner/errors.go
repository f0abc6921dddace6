// Package planner implements the Planner/WorkflowParser (spec.md §4.1):
// step-list normalization, validation, and Kahn's-algorithm-based execution
// planning. Grounded on gomind's orchestration/workflow_dag.go (topological
// planning over a step dependency graph) and workflow_engine.go's
// buildDAG/validateWorkflow pass (duplicate-id, missing-dependency, and
// cycle checks over a flat step list before it becomes a DAG).
package planner

import "fmt"

// ValidationError is one structural defect found during Validate. Code
// names a stable, matchable failure category; Message is human-readable.
type ValidationError struct {
	Code    string
	Message string
	StepID  string
}

func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("planner: [%s] step %q: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("planner: [%s] %s", e.Code, e.Message)
}

// ValidationResult collects every fatal error and non-fatal warning found
// across a full pass — Validate does not stop at the first problem.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []string
}

func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addError(code, stepID, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{Code: code, StepID: stepID, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
