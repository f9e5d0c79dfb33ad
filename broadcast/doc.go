// Package broadcast provides core.Broadcaster implementations: a Recorder
// that captures broadcasts for tests and headless runs, and a websocket hub
// in the websocket sub-package for real client fan-out. Broadcasts are
// fire-and-forget and at-least-once; a failed or dropped delivery never
// interrupts the pipeline that already committed the event.
package broadcast
