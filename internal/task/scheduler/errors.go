package scheduler

import (
	"errors"
	"fmt"
)

// ErrPastDue is returned by Arm for a one-off trigger whose fire instant is
// further in the past than the configured tolerance. No timer is created.
var ErrPastDue = errors.New("trigger fire time is in the past")

// SchedulingFault reports a trigger that could not be translated into a timer.
type SchedulingFault struct {
	TriggerID string
	Err       error
}

func (e *SchedulingFault) Error() string {
	return fmt.Sprintf("schedule trigger %s: %v", e.TriggerID, e.Err)
}

func (e *SchedulingFault) Unwrap() error { return e.Err }
