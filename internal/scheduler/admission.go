package scheduler

import (
	"sync"
	"time"
)

// admissionState is a three-state breaker gating the scheduler's own claim
// loop on in-flight job saturation — a different concern from the
// dispatcher's per-transport gobreaker.CircuitBreaker, which trips on a
// single outbound call's consecutive failures. This one trips on the
// scheduler's own worker pool filling up, independent of whether any
// individual delivery is failing.
type admissionState int

const (
	admissionClosed admissionState = iota
	admissionHalfOpen
	admissionOpen
)

// AdmissionGate decides whether the scheduler should claim and start more
// deliveries this tick, based on how saturated its own concurrency
// semaphore already is. Adapted from the teacher's scheduler circuit
// breaker, generalized from (queue depth, worker saturation) to the single
// saturation ratio this scheduler tracks.
type AdmissionGate struct {
	mu sync.Mutex

	state               admissionState
	saturationThreshold float64
	cooldown            time.Duration
	testLimit           int

	openedAt  time.Time
	testCount int
}

func NewAdmissionGate(saturationThreshold float64, cooldown time.Duration) *AdmissionGate {
	return &AdmissionGate{
		state:               admissionClosed,
		saturationThreshold: saturationThreshold,
		cooldown:            cooldown,
		testLimit:           5,
	}
}

// ShouldAdmit reports whether the scheduler should claim more subscriptions
// this tick given the fraction of its concurrency semaphore currently in
// use.
func (g *AdmissionGate) ShouldAdmit(saturation float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == admissionOpen && time.Since(g.openedAt) > g.cooldown {
		g.state = admissionHalfOpen
		g.testCount = 0
	}

	if g.state == admissionOpen {
		return false
	}

	if g.state == admissionHalfOpen {
		if g.testCount < g.testLimit {
			g.testCount++
			return true
		}
		if saturation < g.saturationThreshold/2 {
			g.state = admissionClosed
			return true
		}
		return false
	}

	if saturation > g.saturationThreshold {
		g.state = admissionOpen
		g.openedAt = time.Now()
		return false
	}

	return true
}

func (g *AdmissionGate) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case admissionHalfOpen:
		return "half_open"
	case admissionOpen:
		return "open"
	default:
		return "closed"
	}
}
