package routing

import (
	"context"
	"sync"
)

// Session tracks the route for one caller. Each Plan supersedes the previous
// one: the earlier request is cancelled and its result, if it still arrives,
// is discarded rather than stored.
type Session struct {
	planner *Planner

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	current    RouteResult
	currentGen uint64
}

// NewSession creates a session over planner
func NewSession(planner *Planner) *Session {
	return &Session{planner: planner}
}

// Plan issues req as the newest request. applied reports whether the result
// became the session's current route; it is false when a later Plan call was
// issued before this one finished.
func (s *Session) Plan(ctx context.Context, req RouteRequest) (result RouteResult, applied bool, err error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.generation == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	result, err = s.planner.PlanRoute(ctx, req)
	if err != nil {
		return RouteResult{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return result, false, nil
	}
	s.current = result
	s.currentGen = gen
	return result, true, nil
}

// Current returns the latest applied result and the generation that produced
// it. Generation 0 means nothing has been applied yet.
func (s *Session) Current() (RouteResult, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.currentGen
}

// Cancel aborts the in-flight request, if any, and discards its result
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}
