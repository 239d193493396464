package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator stands in for real machines. Faults are injected per machine id:
// a failing machine rejects every start, and a latency delays it.
type Simulator struct {
	startDelay time.Duration

	mu      sync.RWMutex
	failing map[string]bool
	latency map[string]time.Duration
	cycles  map[string]int
}

func NewSimulator(startDelay time.Duration) *Simulator {
	return &Simulator{
		startDelay: startDelay,
		failing:    make(map[string]bool),
		latency:    make(map[string]time.Duration),
		cycles:     make(map[string]int),
	}
}

func (s *Simulator) StartCycle(ctx context.Context, machineID string) error {
	if d := s.startDelay + s.getLatency(machineID); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[machineID] {
		return fmt.Errorf("%w: machine %s is faulted", ErrRejected, machineID)
	}
	s.cycles[machineID]++
	return nil
}

// Fail makes every following start of machineID fail until Heal.
func (s *Simulator) Fail(machineID string) {
	s.mu.Lock()
	s.failing[machineID] = true
	s.mu.Unlock()
}

// Heal clears faults and latency for machineID.
func (s *Simulator) Heal(machineID string) {
	s.mu.Lock()
	delete(s.failing, machineID)
	delete(s.latency, machineID)
	s.mu.Unlock()
}

func (s *Simulator) SetLatency(machineID string, d time.Duration) {
	s.mu.Lock()
	s.latency[machineID] = d
	s.mu.Unlock()
}

// Cycles reports how many cycles machineID has started.
func (s *Simulator) Cycles(machineID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles[machineID]
}

func (s *Simulator) getLatency(machineID string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latency[machineID]
}
