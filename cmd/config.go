package cmd

const DESCRIPTION = `
portplayer drives the pins of a parallel port or of sysfs GPIO lines
through a playlist of output states, each held for its own duration,
and emits periodic trigger events. Profiles are kept in a local
database and can be played directly or through the portplayer daemon.
`

const (
	PlayDescription = `The play command drives the profile's pins through its
playlist and shows the position in the playlist and in the
current state. Press Ctrl+C to stop; send SIGUSR1 to pause
or resume.

Flags override the stored profile. Without --profile the
built-in example profile is used as the base.

Example:
        portplayer play --profile demo
        portplayer play --backend memory --pins "a 0x378 0 b 0x378 1" \
                --playlist "10 01" --durations "500 500" --repeat

`
	TriggerDescription = `The trigger command emits trigger events at the profile's
period and prints the effective rate. Press Ctrl+C to stop.

Example:
        portplayer trigger --profile demo --period 20ms

`
	PinsDescription = `The pins command lists the profile's pins. With --set the
given state is driven on the pins until Ctrl+C is pressed.

Example:
        portplayer pins --profile demo
        portplayer pins --profile demo --set 1010

`
	ProfileDescription = `The profile command manages the profiles stored in the
local database.
`
	ProfileSaveDescription = `The profile save command stores a profile. Flags not
given keep the stored value, or the example value for a new
profile.

Example:
        portplayer profile save demo --backend gpio \
                --pins "led 0 17 buzzer 0 27" --playlist "10 01 11"

`
	RunsDescription = `The runs command shows the most recent playlist and trigger
runs, started locally or by the daemon.

Example:
        portplayer runs --limit 20

`
	DaemonDescription = `The daemon command serves JSON-RPC 2.0 on a Unix socket
and, when a token is available, on a WebSocket endpoint on
localhost. It runs scheduled playlist and trigger runs.
`
	RemoteDescription = `The remote command controls a running daemon. The daemon
is started in the background when it is not running.
`
)
