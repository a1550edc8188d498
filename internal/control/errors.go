package control

import (
	"errors"
	"fmt"
)

// ErrConvergenceStall is returned when a convergence phase makes no progress
// for longer than the configured stall timeout.
var ErrConvergenceStall = errors.New("control: convergence stalled")

// TerminalActionError reports that the vehicle rejected the terminal kill.
// The controller never retries it.
type TerminalActionError struct {
	Action string
	Err    error
}

func (e *TerminalActionError) Error() string {
	return fmt.Sprintf("control: terminal %s failed: %v", e.Action, e.Err)
}

func (e *TerminalActionError) Unwrap() error { return e.Err }
