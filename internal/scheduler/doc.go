// Package scheduler starts profile runs at planned times.
//
// One goroutine owns a queue of ScheduleEvents ordered by trigger time. It
// never sleeps longer than a minute, so clock steps and system suspend
// delay a run by at most that much.
//
// The daemon passes a callback that starts the player or the trigger
// manager for the event's profile. Schedules live in the store, and
// LoadSchedules turns them back into events when the daemon restarts.
package scheduler
