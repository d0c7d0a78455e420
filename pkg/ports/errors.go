package ports

import (
	"errors"
	"fmt"
)

// ErrPortExhaustion is returned when no usable port is found within the
// attempt budget.
var ErrPortExhaustion = errors.New("port exhaustion")

// ExhaustionError records where a failed scan started and how many ports it
// tried.
type ExhaustionError struct {
	Start    int
	Attempts int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("unable to find available port after %d attempts starting from %d", e.Attempts, e.Start)
}

func (e *ExhaustionError) Unwrap() error {
	return ErrPortExhaustion
}
