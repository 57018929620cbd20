package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts gateway operations by branch, action, and outcome
	// (ok, error, gated).
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sip2_requests_total",
		Help: "Total number of SIP2 gateway operations, by branch, action, and outcome.",
	}, []string{"branch", "action", "outcome"})

	// breakerState exports the circuit state per branch: 0 CLOSED,
	// 1 HALF_OPEN, 2 OPEN.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sip2_breaker_state",
		Help: "Circuit breaker state per branch (0=closed, 1=half-open, 2=open).",
	}, []string{"branch"})

	// loginAttemptsTotal counts service login attempts by branch and result.
	loginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sip2_login_attempts_total",
		Help: "Total number of SIP2 service login attempts, by branch and result.",
	}, []string{"branch", "result"})
)

func breakerStateValue(state string) float64 {
	switch state {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
