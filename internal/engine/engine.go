package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"esminify/internal/task"
)

// ErrStart wraps a failure to bring the engine up. It is fatal for a pass.
var ErrStart = errors.New("engine: start failed")

// Engine is the external minifier.
type Engine interface {
	Start(ctx context.Context) error
	// Transform minifies one request. Syntax errors come back as
	// *task.ErrorInfo so their location survives.
	Transform(ctx context.Context, req task.Request) (task.Result, error)
	Stop() error
	Version() string
	// Concurrent reports whether Transform may be called from several
	// goroutines at once.
	Concurrent() bool
}

// Service owns one engine for its lifetime: started on first use, stopped
// explicitly by the owner.
type Service struct {
	eng Engine

	mu       sync.Mutex
	started  bool
	startErr error

	call sync.Mutex // serializes Transform for non-concurrent engines
}

func NewService(eng Engine) *Service { return &Service{eng: eng} }

// Ensure starts the engine once. A start failure sticks.
func (s *Service) Ensure(ctx context.Context) (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	if !s.started {
		if err := s.eng.Start(ctx); err != nil {
			s.startErr = fmt.Errorf("%w: %v", ErrStart, err)
			return nil, s.startErr
		}
		s.started = true
	}
	return s.eng, nil
}

// Stop releases the engine. Safe when never started and on repeat calls.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.eng.Stop()
}

func (s *Service) Version() string  { return s.eng.Version() }
func (s *Service) Concurrent() bool { return s.eng.Concurrent() }

// Transform runs req through the engine. Only a start failure is returned as
// an error; everything the engine does wrong lands in Result.Error.
func (s *Service) Transform(ctx context.Context, req task.Request) (task.Result, error) {
	eng, err := s.Ensure(ctx)
	if err != nil {
		return task.Result{}, err
	}
	if !eng.Concurrent() {
		s.call.Lock()
		defer s.call.Unlock()
	}
	return invoke(ctx, eng, req), nil
}

func invoke(ctx context.Context, eng Engine, req task.Request) (res task.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = task.Result{Error: &task.ErrorInfo{Message: fmt.Sprintf("engine panic: %v", r)}}
		}
	}()
	out, err := eng.Transform(ctx, req)
	if err != nil {
		return task.Result{Error: task.ErrorFrom(err)}
	}
	return out
}
