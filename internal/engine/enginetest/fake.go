// Package enginetest provides a scriptable engine for tests.
package enginetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"esminify/internal/task"
)

// Fake "minifies" by collapsing runs of whitespace. Inputs can steer it:
//
//	SYNTAX_ERROR   fails with a located error (line 1, column 0)
//	PANIC          panics inside Transform
//	// WARN: text  adds "text" as a warning (one per marker, in order)
//	/*! text */    is extracted when comments are requested
type Fake struct {
	StartErr error
	Delay    time.Duration
	// Parallel is returned by Concurrent.
	Parallel bool

	starts  atomic.Int32
	stops   atomic.Int32
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32

	mu    sync.Mutex
	files []string
}

func (f *Fake) Start(context.Context) error {
	f.starts.Add(1)
	return f.StartErr
}

func (f *Fake) Stop() error {
	f.stops.Add(1)
	return nil
}

func (f *Fake) Version() string  { return "fake@1.0.0" }
func (f *Fake) Concurrent() bool { return f.Parallel }

func (f *Fake) Transform(ctx context.Context, req task.Request) (task.Result, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.files = append(f.files, req.File)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return task.Result{}, ctx.Err()
		}
	}

	switch {
	case strings.Contains(req.Input, "PANIC"):
		panic("fake engine exploded")
	case strings.Contains(req.Input, "SYNTAX_ERROR"):
		return task.Result{}, &task.ErrorInfo{Message: "Unexpected SYNTAX_ERROR", Line: 1, Column: 0}
	case strings.Contains(req.Input, "PLAIN_ERROR"):
		return task.Result{}, errors.New("engine refused input")
	}

	var res task.Result
	var body []string
	for _, line := range strings.Split(req.Input, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "// WARN:"):
			res.Warnings = append(res.Warnings, strings.TrimSpace(strings.TrimPrefix(trimmed, "// WARN:")))
			continue
		case req.ExtractComments && strings.HasPrefix(trimmed, "/*!"):
			res.ExtractedComments = append(res.ExtractedComments, trimmed)
			continue
		}
		body = append(body, line)
	}
	res.Code = Collapse(strings.Join(body, "\n"))
	return res, nil
}

// Collapse is the fake's minification: a shebang line is kept on its own
// line, the rest has whitespace runs folded to one space.
func Collapse(src string) string {
	var head string
	if strings.HasPrefix(src, "#!") {
		nl := strings.IndexByte(src, '\n')
		if nl < 0 {
			return src
		}
		head, src = src[:nl+1], src[nl+1:]
	}
	return head + strings.Join(strings.Fields(src), " ")
}

func (f *Fake) Starts() int        { return int(f.starts.Load()) }
func (f *Fake) Stops() int         { return int(f.stops.Load()) }
func (f *Fake) Calls() int         { return int(f.calls.Load()) }
func (f *Fake) MaxConcurrent() int { return int(f.maxSeen.Load()) }

// Files returns the files transformed so far, in call order.
func (f *Fake) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}
