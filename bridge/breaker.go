package bridge

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// Circuit breaker states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// DefaultFailureThreshold opens the circuit after this many consecutive
// failures.
const DefaultFailureThreshold = 3

// DefaultBackoff is the retry schedule walked while a branch keeps failing.
// The index caps at the last slot.
var DefaultBackoff = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	60 * time.Second,
}

// circuitBreaker is the per-branch fault-isolation state machine. Its
// counters are only touched from the branch's worker goroutine, so it carries
// no lock of its own; the current state lives in the fsm, which guards it, so
// Manager.BreakerState may read it from any goroutine.
type circuitBreaker struct {
	fsm           *fsm.FSM
	threshold     int
	schedule      []time.Duration
	failures      int
	lastFailure   time.Time
	nextRetry     time.Time
	backoffIdx    int
	probeInFlight bool
}

func newCircuitBreaker(threshold int, schedule []time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if len(schedule) == 0 {
		schedule = DefaultBackoff
	}
	b := &circuitBreaker{threshold: threshold, schedule: schedule}
	b.fsm = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: "trip", Src: []string{StateClosed, StateHalfOpen}, Dst: StateOpen},
			{Name: "probe", Src: []string{StateOpen}, Dst: StateHalfOpen},
			{Name: "reset", Src: []string{StateOpen, StateHalfOpen, StateClosed}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
	return b
}

func (b *circuitBreaker) state() string { return b.fsm.Current() }

func (b *circuitBreaker) event(name string) {
	// Same-state "reset" reports NoTransitionError; that is fine here.
	_ = b.fsm.Event(context.Background(), name)
}

// refresh performs the lazily-evaluated OPEN to HALF_OPEN transition once the
// backoff interval has elapsed.
func (b *circuitBreaker) refresh(now time.Time) {
	if b.state() == StateOpen && !now.Before(b.nextRetry) {
		b.event("probe")
		b.probeInFlight = false
	}
}

// gate decides whether a request may proceed. In HALF_OPEN exactly one probe
// runs at a time.
func (b *circuitBreaker) gate(now time.Time) error {
	b.refresh(now)
	switch b.state() {
	case StateOpen:
		return &CircuitOpenError{RetryAt: b.nextRetry}
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrProbeInFlight
		}
		b.probeInFlight = true
	}
	return nil
}

// recordSuccess closes the circuit and zeroes the failure count and backoff
// index.
func (b *circuitBreaker) recordSuccess() {
	b.event("reset")
	b.failures = 0
	b.backoffIdx = 0
	b.probeInFlight = false
}

// recordFailure counts one failure and reports whether the circuit opened as
// a result. Opening resets nothing; the failure count keeps accumulating
// until a success closes the circuit.
func (b *circuitBreaker) recordFailure(now time.Time) (opened bool) {
	b.failures++
	b.probeInFlight = false
	b.lastFailure = now
	if b.failures >= b.threshold || b.state() == StateHalfOpen {
		b.event("trip")
		b.nextRetry = now.Add(b.schedule[b.backoffIdx])
		if b.backoffIdx < len(b.schedule)-1 {
			b.backoffIdx++
		}
		return true
	}
	return false
}
