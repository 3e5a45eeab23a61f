// Package domain contains the core entities of the image processing service
// and the rules that govern them. The central entity is Task, whose status
// moves through a small state machine driven by the task executor.
//
// The package is independent of storage and transport: stores persist the
// Task shape defined here and apply the same transition rules.
package domain
