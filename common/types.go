package common

import "time"

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// ProfileParam names a stored profile.
type ProfileParam struct {
	Profile string `json:"profile"`
}

// StartParams is the input for player.start.
type StartParams struct {
	// Profile, when set, is loaded before starting.
	Profile string `json:"profile,omitempty"`
	// State is the index of the first state.
	State int `json:"state,omitempty"`
}

// PauseParams is the input for player.pause and trigger.pause.
type PauseParams struct {
	Pause bool `json:"pause"`
}

// PlayerStatus is the response for player.status and player.load.
type PlayerStatus struct {
	Profile      string   `json:"profile"`
	State        string   `json:"state"`
	CurrentState int      `json:"currentState"`
	NumStates    int      `json:"numStates"`
	Repeat       bool     `json:"repeat"`
	Pins         []string `json:"pins"`
	TotalMs      int64    `json:"totalMs"`
	RunID        string   `json:"runId,omitempty"`
}

// TriggerStatus is the response for trigger.status.
type TriggerStatus struct {
	Profile  string  `json:"profile"`
	State    string  `json:"state"`
	NextID   uint64  `json:"nextId"`
	PeriodMs float64 `json:"periodMs"`
	Mode     string  `json:"mode"`
	Rate     float64 `json:"rate"`
	RunID    string  `json:"runId,omitempty"`
}

// ScheduleParams is the input for schedule.add.
type ScheduleParams struct {
	Profile string    `json:"profile"`
	Action  string    `json:"action"`
	At      time.Time `json:"at,omitempty"`
	Cron    string    `json:"cron,omitempty"`
}

// ScheduleItem is one stored schedule.
type ScheduleItem struct {
	ID      string    `json:"id"`
	Profile string    `json:"profile"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
	Cron    string    `json:"cron,omitempty"`
	State   string    `json:"state"`
}

// IDParam carries a schedule id.
type IDParam struct {
	ID string `json:"id"`
}

// ScheduleList is the response for schedule.list.
type ScheduleList struct {
	Schedules []*ScheduleItem `json:"schedules"`
}

// EmptyResult is returned by methods without data.
type EmptyResult struct{}

// ProgressNotification is pushed while a playlist runs.
type ProgressNotification struct {
	State      int   `json:"state"`
	PlaylistMs int64 `json:"playlistMs"`
	StateMs    int64 `json:"stateMs"`
}

// StateChangedNotification is pushed on every transition.
type StateChangedNotification struct {
	State int `json:"state"`
}

// DoneNotification is pushed when a playlist run ends.
type DoneNotification struct {
	Profile string `json:"profile"`
	RunID   string `json:"runId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TriggerFiredNotification is pushed for every trigger.
type TriggerFiredNotification struct {
	ID uint64 `json:"id"`
}
