// Package transform defines the scheduler-side client for the minification
// engine. InProcessClient calls a local engine.Service; GRPCClient reaches a
// worker process.
package transform
