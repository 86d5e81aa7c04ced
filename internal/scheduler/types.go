package scheduler

import "time"

// Actions a schedule can start.
const (
	ActionPlay    = "play"
	ActionTrigger = "trigger"
)

// ScheduleEvent is a pending run in the scheduler queue.
type ScheduleEvent struct {
	// ID identifies the stored schedule the event was built from.
	ID string
	// Profile names the profile to run.
	Profile string
	// Action is ActionPlay or ActionTrigger.
	Action string
	// TriggerAt is the wall-clock time the run starts.
	TriggerAt time.Time
	// CronExpr makes the event recurring.
	// Empty string means one-shot: no re-scheduling after firing.
	CronExpr string
}
