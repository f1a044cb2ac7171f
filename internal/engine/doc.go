// Package engine holds the handle to the minification engine: an explicitly
// owned Service that starts the engine lazily and never lets engine failures
// escape a transform call.
package engine
