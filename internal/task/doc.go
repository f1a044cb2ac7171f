// Package task defines the unit of work handed between the scheduler, the
// cache and the executors, and builds tasks from host assets.
package task
