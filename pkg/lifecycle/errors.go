package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCleanupInProgress is returned to callers that try to start something
// while teardown is running.
var ErrCleanupInProgress = errors.New("cleanup in progress")

// CleanupError collects the teardown steps that failed. Every step is
// attempted regardless of the others.
type CleanupError struct {
	// Failures maps a step name ("processes", "listeners", "hosts", "certs",
	// "dns") to its error.
	Failures map[string]error
}

// Steps returns the failed step names, sorted.
func (e *CleanupError) Steps() []string {
	steps := make([]string, 0, len(e.Failures))
	for step := range e.Failures {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	return steps
}

func (e *CleanupError) Error() string {
	steps := e.Steps()
	if len(steps) == 1 {
		return fmt.Sprintf("cleanup step %s failed: %v", steps[0], e.Failures[steps[0]])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d cleanup steps failed:", len(steps))
	for _, step := range steps {
		fmt.Fprintf(&sb, "\n  - %s: %v", step, e.Failures[step])
	}
	return sb.String()
}

func (e *CleanupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, step := range e.Steps() {
		errs = append(errs, e.Failures[step])
	}
	return errs
}
