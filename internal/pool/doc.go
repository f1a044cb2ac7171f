// Package pool runs minification in worker processes. Each worker hosts its
// own engine behind the gRPC Worker service; the pool hands requests to idle
// workers, replaces workers that died, and shuts them all down once a pass is
// over.
package pool
