package scheduler

import (
	"testing"
	"time"
)

func TestQueueOrder(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := &queue{}
	q.add(ScheduleEvent{ID: "late", TriggerAt: base.Add(3 * time.Hour)})
	q.add(ScheduleEvent{ID: "early", TriggerAt: base.Add(time.Hour)})
	q.add(ScheduleEvent{ID: "middle", TriggerAt: base.Add(2 * time.Hour)})

	for _, want := range []string{"early", "middle", "late"} {
		if got := q.take().ID; got != want {
			t.Fatalf("took %q, want %q", got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty: %d", q.Len())
	}
}

func TestQueueSameTime(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := &queue{}
	for _, id := range []string{"a", "b", "c"} {
		q.add(ScheduleEvent{ID: id, TriggerAt: at})
	}
	seen := map[string]bool{}
	for q.Len() > 0 {
		e := q.take()
		if seen[e.ID] {
			t.Fatalf("%s taken twice", e.ID)
		}
		seen[e.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("took %d distinct events, want 3", len(seen))
	}
}

func TestQueueRemove(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		remove  string
		removed bool
		left    []string
	}{
		{"middle", []string{"a", "b", "c"}, "b", true, []string{"a", "c"}},
		{"only", []string{"a"}, "a", true, nil},
		{"missing", []string{"a"}, "zzz", false, []string{"a"}},
	}
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &queue{}
			for i, id := range tt.ids {
				q.add(ScheduleEvent{ID: id, TriggerAt: base.Add(time.Duration(i) * time.Hour)})
			}
			if got := q.remove(tt.remove); got != tt.removed {
				t.Fatalf("removed = %v, want %v", got, tt.removed)
			}
			for _, want := range tt.left {
				if got := q.take().ID; got != want {
					t.Fatalf("took %q, want %q", got, want)
				}
			}
			if q.Len() != 0 {
				t.Fatalf("%d events left over", q.Len())
			}
		})
	}
}

func TestQueueWait(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		at      []time.Duration
		want    time.Duration
		wantOK  bool
		wantDue bool
	}{
		{name: "empty"},
		{name: "soon", at: []time.Duration{30 * time.Second, time.Hour}, want: 30 * time.Second, wantOK: true},
		{name: "capped", at: []time.Duration{time.Hour}, want: maxSleepCap, wantOK: true},
		{name: "overdue", at: []time.Duration{-time.Minute}, want: 0, wantOK: true, wantDue: true},
		{name: "exactly now", at: []time.Duration{0}, want: 0, wantOK: true, wantDue: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &queue{}
			for i, d := range tt.at {
				q.add(ScheduleEvent{ID: string(rune('a' + i)), TriggerAt: now.Add(d)})
			}
			got, ok := q.wait(now)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("wait = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
			if due := q.due(now); due != tt.wantDue {
				t.Fatalf("due = %v, want %v", due, tt.wantDue)
			}
		})
	}
}
