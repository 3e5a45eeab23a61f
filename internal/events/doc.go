// Package events defines the task lifecycle events published by the executor
// and the handler interfaces that observe them.
//
// The executor invokes its EventEmitter synchronously at each observation
// point: success, retry-scheduled and terminal failure. Telemetry subscribes
// by registering an EventHandler; LogHandler is the default subscriber and
// writes one structured log record per event.
package events
