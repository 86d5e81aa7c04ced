// Package timerfd provides the monotonic interval timer that paces the
// playlist player and the trigger manager.
//
// On Linux the timer is a timerfd(2) armed on CLOCK_MONOTONIC: the kernel
// keeps the period, so wake-ups do not drift the way a sleep loop does, and
// every read reports how many expirations happened since the previous read.
// A count above one means the reader was late and ticks were missed; the
// count is always handed back to the caller so it can be logged.
//
// Other platforms get the same API on top of time.Ticker.
package timerfd
