package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/portplayer/portplayer/internal/store"
)

const maxSleepCap = 60 * time.Second

// ErrNoOccurrence is returned by ValidateCron for an expression that does
// not fire within a year.
var ErrNoOccurrence = errors.New("cron expression has no occurrence within a year")

// Scheduler fires scheduled runs from a time-ordered queue.
// It runs a background goroutine that sleeps until the next event's
// trigger time, then calls the onTrigger callback with the event.
type Scheduler struct {
	addChan    chan ScheduleEvent
	removeChan chan string
	ctx        context.Context
}

// New creates and starts a new Scheduler.
// The onTrigger callback is invoked on the scheduler goroutine when an
// event fires; it must not block for long.
// The scheduler goroutine exits when ctx is cancelled.
func New(ctx context.Context, onTrigger func(ScheduleEvent)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan ScheduleEvent, 64),
		removeChan: make(chan string, 64),
		ctx:        ctx,
	}
	go s.run(onTrigger)
	return s
}

// Add enqueues a new schedule event.
func (s *Scheduler) Add(event ScheduleEvent) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// Remove cancels a scheduled event by id.
func (s *Scheduler) Remove(id string) {
	select {
	case s.removeChan <- id:
	case <-s.ctx.Done():
	}
}

// run owns the queue. It sleeps until the earliest event is due, at most
// maxSleepCap at a time, and re-queues recurring events at their next
// occurrence after firing them.
func (s *Scheduler) run(onTrigger func(ScheduleEvent)) {
	q := &queue{}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	rearm := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		d, ok := q.wait(time.Now())
		if !ok {
			return nil
		}
		timer = time.NewTimer(d)
		return timer.C
	}

	timerCh := rearm()
	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.addChan:
			q.add(event)
			timerCh = rearm()

		case id := <-s.removeChan:
			q.remove(id)
			timerCh = rearm()

		case <-timerCh:
			for now := time.Now(); q.due(now); {
				event := q.take()
				onTrigger(event)
				if event.CronExpr == "" {
					continue
				}
				if next, err := nextCronOccurrence(event.CronExpr, time.Now()); err == nil {
					event.TriggerAt = next
					q.add(event)
				}
			}
			timerCh = rearm()
		}
	}
}

// maxCronSteps bounds the search for a tick that matches its expression.
const maxCronSteps = 1000

// nextCronOccurrence returns the next time the cron expression fires strictly
// after start. gronx can step onto a date the expression does not match,
// e.g. March 4th for "0 0 30 2 *", so every candidate is checked with IsDue
// and the search gives up with ErrNoOccurrence after a year.
func nextCronOccurrence(expr string, start time.Time) (time.Time, error) {
	g := gronx.New()
	limit := start.Add(366 * 24 * time.Hour)
	ref := start
	for i := 0; i < maxCronSteps; i++ {
		next, err := gronx.NextTickAfter(expr, ref, false)
		if err != nil {
			return time.Time{}, err
		}
		if next.After(limit) {
			break
		}
		if due, err := g.IsDue(expr, next); err == nil && due {
			return next, nil
		}
		ref = next
	}
	return time.Time{}, fmt.Errorf("%q: %w", expr, ErrNoOccurrence)
}

// NextOccurrence is the exported form of the cron step, used to persist the
// next run time after a recurring event fires.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	return nextCronOccurrence(expr, after)
}

// hasOccurrenceWithinYear checks if a cron expression has any occurrence
// within 1 year from the given time.
func hasOccurrenceWithinYear(expr string, from time.Time) bool {
	next, err := nextCronOccurrence(expr, from)
	if err != nil {
		return false
	}
	return next.Before(from.Add(365 * 24 * time.Hour))
}

// ValidateCron rejects malformed expressions and ones that never fire.
func ValidateCron(expr string, from time.Time) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	if !hasOccurrenceWithinYear(expr, from) {
		return fmt.Errorf("%q: %w", expr, ErrNoOccurrence)
	}
	return nil
}

// LoadSchedules sorts stored schedules at daemon startup.
//
// Schedules in state scheduled whose time is before now are marked
// missed and returned in missed. Later ones are returned in future as
// ScheduleEvents ready for Add. For missed recurring
// schedules the next cron occurrence is also added to future so the
// recurrence continues.
func LoadSchedules(schedules []*store.Schedule, now time.Time) (missed []*store.Schedule, future []ScheduleEvent) {
	for _, sc := range schedules {
		if sc.State != store.ScheduleStateScheduled || sc.At.IsZero() {
			continue
		}
		event := ScheduleEvent{
			ID:        sc.ID,
			Profile:   sc.Profile,
			Action:    sc.Action,
			TriggerAt: sc.At,
			CronExpr:  sc.CronExpr,
		}
		if sc.At.Before(now) {
			sc.State = store.ScheduleStateMissed
			missed = append(missed, sc)
			if sc.CronExpr != "" {
				next, err := nextCronOccurrence(sc.CronExpr, now)
				if err == nil {
					event.TriggerAt = next
					future = append(future, event)
				}
			}
			continue
		}
		future = append(future, event)
	}
	return missed, future
}
