// Package ioline abstracts the two digital output lines the scheduler
// drives: the heartbeat pin and the "data ready" pin that signals the OBC
// whenever the event queue is non-empty. It defines the Line contract, a
// GPIO implementation that drives real pins (gpio.go), and a process-local
// simulated line used by tests and by any deployment without GPIO hardware.
package ioline

import "sync"

// Line is a single digital output the scheduler can drive high or low.
type Line interface {
	// Set drives the line high (true) or low (false).
	Set(high bool) error
}

// Sim is an in-memory Line, suitable for tests and for environments with
// no GPIO hardware attached.
type Sim struct {
	mu   sync.Mutex
	high bool
}

// NewSim returns a Sim line, initially low.
func NewSim() *Sim {
	return &Sim{}
}

// Set implements Line.
func (s *Sim) Set(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.high = high
	return nil
}

// High reports the line's current state.
func (s *Sim) High() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.high
}
