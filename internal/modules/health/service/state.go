package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickOutcome: чем закончился последний тик цикла.
type TickOutcome string

const (
	OutcomeNone        TickOutcome = ""
	OutcomeWaiting     TickOutcome = "waiting"
	OutcomePlaced      TickOutcome = "placed"
	OutcomeOrderFailed TickOutcome = "order_failed"
	OutcomeSkipped     TickOutcome = "skipped"
	OutcomeError       TickOutcome = "error"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastTickUnix atomic.Int64 // unix seconds
	ordersPlaced atomic.Int64

	mu          sync.Mutex
	lastOutcome TickOutcome
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// RecordTick фиксирует время и исход тика.
func (s *State) RecordTick(t time.Time, outcome TickOutcome) {
	s.lastTickUnix.Store(t.Unix())
	if outcome == OutcomePlaced {
		s.ordersPlaced.Add(1)
	}
	s.mu.Lock()
	s.lastOutcome = outcome
	s.mu.Unlock()
}

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) LastOutcome() TickOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

func (s *State) OrdersPlaced() int64 { return s.ordersPlaced.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
