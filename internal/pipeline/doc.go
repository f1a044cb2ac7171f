// Package pipeline runs minification passes: it filters a compilation's
// assets, consults the cache, dispatches misses inline or to worker
// processes and applies results back to the host.
package pipeline
