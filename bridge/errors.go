package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownBranch is returned for operations addressed to a branch id
	// the manager does not know.
	ErrUnknownBranch = errors.New("bridge: unknown branch")
	// ErrCircuitOpen is the sentinel matched by errors.Is against
	// CircuitOpenError.
	ErrCircuitOpen = errors.New("bridge: circuit open")
	// ErrProbeInFlight is returned while a half-open probe is already
	// running for the branch.
	ErrProbeInFlight = errors.New("bridge: half-open probe already in flight")
	// ErrLoginRejected is returned after the login handshake exhausts its
	// attempts.
	ErrLoginRejected = errors.New("bridge: LMS rejected service login")
	// ErrShuttingDown is returned for operations enqueued during
	// reinitialize or shutdown.
	ErrShuttingDown = errors.New("bridge: manager shutting down")
)

// CircuitOpenError carries the earliest time a retry can succeed.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("bridge: circuit open until %s", e.RetryAt.UTC().Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
