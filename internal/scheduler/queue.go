package scheduler

import (
	"container/heap"
	"time"
)

// queue holds pending events ordered by TriggerAt. Only the scheduler
// goroutine touches it.
type queue []ScheduleEvent

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].TriggerAt.Before(q[j].TriggerAt) }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(ScheduleEvent)) }

func (q *queue) Pop() any {
	last := len(*q) - 1
	e := (*q)[last]
	*q = (*q)[:last]
	return e
}

func (q *queue) add(e ScheduleEvent) { heap.Push(q, e) }

// take removes the earliest event. q must not be empty.
func (q *queue) take() ScheduleEvent { return heap.Pop(q).(ScheduleEvent) }

// remove drops the event with the schedule id and reports whether it was
// queued.
func (q *queue) remove(id string) bool {
	for i := range *q {
		if (*q)[i].ID == id {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}

// wait is how long until the earliest event is due, clamped to
// [0, maxSleepCap]. ok is false when q is empty.
func (q queue) wait(now time.Time) (d time.Duration, ok bool) {
	if len(q) == 0 {
		return 0, false
	}
	d = q[0].TriggerAt.Sub(now)
	return min(max(d, 0), maxSleepCap), true
}

// due reports whether the earliest event fires at or before now.
func (q queue) due(now time.Time) bool {
	return len(q) > 0 && !q[0].TriggerAt.After(now)
}
