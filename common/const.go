package common

// JSON-RPC methods served by the daemon.
const (
	MethodVersion        = "system.getVersion"
	MethodPlayerLoad     = "player.load"
	MethodPlayerStart    = "player.start"
	MethodPlayerStop     = "player.stop"
	MethodPlayerPause    = "player.pause"
	MethodPlayerStatus   = "player.status"
	MethodTriggerStart   = "trigger.start"
	MethodTriggerStop    = "trigger.stop"
	MethodTriggerPause   = "trigger.pause"
	MethodTriggerStatus  = "trigger.status"
	MethodScheduleAdd    = "schedule.add"
	MethodScheduleRemove = "schedule.remove"
	MethodScheduleList   = "schedule.list"
)

// Notifications pushed by the daemon.
const (
	NotifyProgress     = "player.progress"
	NotifyStateChanged = "player.stateChanged"
	NotifyPlayerDone   = "player.done"
	NotifyTriggerFired = "trigger.fired"
)
