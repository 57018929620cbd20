package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	linq "github.com/ahmetb/go-linq/v3"

	"github.com/libbridge/sip2go/bus"
	"github.com/libbridge/sip2go/common"
	"github.com/libbridge/sip2go/mask"
	"github.com/libbridge/sip2go/sip2"
)

const loginAttempts = 3

// loginRetryDelays are the waits between login attempts.
var loginRetryDelays = []time.Duration{500 * time.Millisecond, time.Second}

// Options configures a Manager.
type Options struct {
	// LocationCode is sent as the CP field of every Login request.
	LocationCode string
	// FailureThreshold opens a branch's circuit after this many consecutive
	// failures. Defaults to DefaultFailureThreshold.
	FailureThreshold int
	// Backoff overrides the retry schedule; tests use a compressed one.
	Backoff []time.Duration
	Logger  common.Logger
	Bus     *bus.Bus
	Masker  *mask.Masker
}

// branch couples a configuration with its at-most-one client, its circuit
// breaker, and the FIFO worker that serializes its operations. The client
// and the breaker's counters are touched only from the worker goroutine;
// BreakerState reads the breaker's state from the caller's goroutine.
type branch struct {
	cfg     BranchConfig
	log     common.Logger
	breaker *circuitBreaker
	client  *sip2.Client

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	jobs   chan func()
	done   chan struct{}
}

func (b *branch) enqueue(job func()) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	b.wg.Add(1)
	b.mu.Unlock()
	b.jobs <- func() {
		defer b.wg.Done()
		job()
	}
	return nil
}

// drainAndStop refuses new work, waits for every queued operation to settle,
// then stops the worker.
func (b *branch) drainAndStop() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	close(b.jobs)
	<-b.done
}

// Manager fronts every configured branch. Operations on one branch run
// strictly one at a time, in enqueue order; branches are independent of each
// other.
type Manager struct {
	mu           sync.Mutex
	branches     map[string]*branch
	locationCode string

	threshold int
	backoff   []time.Duration
	log       common.Logger
	bus       *bus.Bus
	masker    *mask.Masker
}

// NewManager builds a manager from branch configurations.
func NewManager(opts Options, branches []BranchConfig) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = common.NopLogger()
	}
	m := &Manager{
		branches:     make(map[string]*branch),
		locationCode: opts.LocationCode,
		threshold:    opts.FailureThreshold,
		backoff:      opts.Backoff,
		log:          opts.Logger,
		bus:          opts.Bus,
		masker:       opts.Masker,
	}
	for _, cfg := range branches {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if _, dup := m.branches[cfg.ID]; dup {
			return nil, fmt.Errorf("bridge: duplicate branch id %q", cfg.ID)
		}
		m.branches[cfg.ID] = m.newBranch(cfg)
	}
	return m, nil
}

func (m *Manager) newBranch(cfg BranchConfig) *branch {
	br := &branch{
		cfg:     cfg,
		log:     m.log.WithBranch(cfg.ID),
		breaker: newCircuitBreaker(m.threshold, m.backoff),
		jobs:    make(chan func(), 256),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(br.done)
		for job := range br.jobs {
			job()
		}
	}()
	breakerState.WithLabelValues(cfg.ID).Set(0)
	return br
}

// BranchIDs lists the configured branch ids, sorted.
func (m *Manager) BranchIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	linq.From(m.branches).
		Select(func(kv interface{}) interface{} { return kv.(linq.KeyValue).Key }).
		OrderBy(func(v interface{}) interface{} { return v }).
		ToSlice(&ids)
	return ids
}

// BreakerState reports the circuit state for a branch.
func (m *Manager) BreakerState(branchID string) (string, error) {
	m.mu.Lock()
	br, ok := m.branches[branchID]
	m.mu.Unlock()
	if !ok {
		return "", ErrUnknownBranch
	}
	return br.breaker.state(), nil
}

// execute chains an operation onto the branch's FIFO queue and waits for it.
// Failures never break the chain.
func (m *Manager) execute(branchID, action string, request interface{}, op func(*sip2.Client) (interface{}, error)) (interface{}, error) {
	m.mu.Lock()
	br, ok := m.branches[branchID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBranch, branchID)
	}

	type result struct {
		v   interface{}
		err error
	}
	ch := make(chan result, 1)
	err := br.enqueue(func() {
		v, err := m.run(br, action, request, op)
		ch <- result{v, err}
	})
	if err != nil {
		return nil, err
	}
	res := <-ch
	return res.v, res.err
}

func (m *Manager) run(br *branch, action string, request interface{}, op func(*sip2.Client) (interface{}, error)) (interface{}, error) {
	client, err := m.getClient(br)
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProbeInFlight) {
			requestsTotal.WithLabelValues(br.cfg.ID, action, "gated").Inc()
			return nil, err
		}
		m.recordFailure(br)
		requestsTotal.WithLabelValues(br.cfg.ID, action, "error").Inc()
		return nil, err
	}

	v, err := op(client)
	if err != nil {
		m.recordFailure(br)
		requestsTotal.WithLabelValues(br.cfg.ID, action, "error").Inc()
		return nil, err
	}

	m.recordSuccess(br)
	requestsTotal.WithLabelValues(br.cfg.ID, action, "ok").Inc()
	m.emitTransaction(action, br.cfg.ID, request, v)
	return v, nil
}

// getClient gates on the circuit breaker, then returns the cached client or
// creates one, performing the login handshake when service credentials are
// configured.
func (m *Manager) getClient(br *branch) (*sip2.Client, error) {
	err := br.breaker.gate(time.Now())
	breakerState.WithLabelValues(br.cfg.ID).Set(breakerStateValue(br.breaker.state()))
	if err != nil {
		return nil, err
	}
	if br.client != nil {
		return br.client, nil
	}

	cfg := br.cfg
	client := sip2.NewClient(sip2.ClientConfig{
		Host:             cfg.Host,
		Port:             cfg.Port,
		Timeout:          cfg.Timeout(),
		Institution:      cfg.Institution,
		UseTLS:           cfg.TLS,
		TLSSkipVerify:    cfg.TLSSkipVerify,
		ChecksumRequired: cfg.Profile != nil && cfg.Profile.ChecksumRequired,
		Logger:           br.log,
		Dashboard:        m.dashboardFunc(),
	})
	if cfg.Credentials != nil && cfg.Credentials.User != "" {
		if err := m.performLogin(client, br); err != nil {
			client.Disconnect()
			return nil, err
		}
	}
	br.client = client
	return client, nil
}

func (m *Manager) dashboardFunc() sip2.DashboardFunc {
	if m.bus == nil {
		return nil
	}
	return m.bus.LogToDashboard
}

// performLogin runs the Login (93) handshake on sequence 0, up to three
// attempts with increasing delays. A vendor profile may require an SC Status
// round-trip on top.
func (m *Manager) performLogin(client *sip2.Client, br *branch) error {
	creds := br.cfg.Credentials
	m.mu.Lock()
	location := m.locationCode
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < loginAttempts; attempt++ {
		if attempt > 0 {
			delay := loginRetryDelays[len(loginRetryDelays)-1]
			if attempt-1 < len(loginRetryDelays) {
				delay = loginRetryDelays[attempt-1]
			}
			time.Sleep(delay)
		}

		resp, err := client.Login(creds.User, creds.Password, location)
		if err != nil {
			lastErr = err
			loginAttemptsTotal.WithLabelValues(br.cfg.ID, "error").Inc()
			continue
		}
		if !resp.Ok {
			lastErr = ErrLoginRejected
			loginAttemptsTotal.WithLabelValues(br.cfg.ID, "rejected").Inc()
			continue
		}
		if br.cfg.Profile != nil && br.cfg.Profile.PostLoginSCStatus {
			if _, err := client.SCStatus(); err != nil {
				lastErr = err
				loginAttemptsTotal.WithLabelValues(br.cfg.ID, "error").Inc()
				continue
			}
		}
		loginAttemptsTotal.WithLabelValues(br.cfg.ID, "ok").Inc()
		br.log.Info("service login complete")
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrLoginRejected, loginAttempts, lastErr)
}

func (m *Manager) recordSuccess(br *branch) {
	br.breaker.recordSuccess()
	breakerState.WithLabelValues(br.cfg.ID).Set(0)
}

func (m *Manager) recordFailure(br *branch) {
	if br.breaker.recordFailure(time.Now()) {
		if br.client != nil {
			br.client.Disconnect()
			br.client = nil
		}
		br.log.Warn("circuit opened",
			"failures", br.breaker.failures, "retryAt", br.breaker.nextRetry.UTC().Format(time.RFC3339))
	}
	breakerState.WithLabelValues(br.cfg.ID).Set(breakerStateValue(br.breaker.state()))
}

// emitTransaction hands a masked record of a completed operation to the bus.
// If masking cannot run, the event is dropped rather than emitted with PII.
func (m *Manager) emitTransaction(action, branchID string, request, response interface{}) {
	if m.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"action":    action,
		"branchId":  branchID,
		"request":   toJSONValue(request),
		"response":  toJSONValue(response),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	masked, err := m.masker.MaskPayload(payload)
	if err != nil {
		m.log.Error("transaction masking failed, event dropped", "error", err)
		return
	}
	m.bus.EmitLog(masked.(map[string]interface{}))
}

// toJSONValue round-trips a typed record through JSON so the masking walk
// sees plain maps and slices.
func toJSONValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data)
	}
	return out
}

// Reinitialize drains every branch queue, disconnects every client, and
// rebuilds the manager from the new configuration list. An empty
// newLocationCode keeps the current one.
func (m *Manager) Reinitialize(newConfigs []BranchConfig, newLocationCode string) error {
	seen := make(map[string]bool)
	for _, cfg := range newConfigs {
		if err := cfg.validate(); err != nil {
			return err
		}
		if seen[cfg.ID] {
			return fmt.Errorf("bridge: duplicate branch id %q", cfg.ID)
		}
		seen[cfg.ID] = true
	}

	m.mu.Lock()
	old := m.branches
	m.branches = make(map[string]*branch)
	m.mu.Unlock()

	for _, br := range old {
		br.drainAndStop()
		if br.client != nil {
			br.client.Disconnect()
			br.client = nil
		}
	}

	m.mu.Lock()
	if newLocationCode != "" {
		m.locationCode = newLocationCode
	}
	for _, cfg := range newConfigs {
		m.branches[cfg.ID] = m.newBranch(cfg)
	}
	m.mu.Unlock()
	m.log.Info("manager reinitialized", "branches", len(newConfigs))
	return nil
}

// Shutdown drains every branch and disconnects every client.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	old := m.branches
	m.branches = make(map[string]*branch)
	m.mu.Unlock()

	for _, br := range old {
		br.drainAndStop()
		if br.client != nil {
			br.client.Disconnect()
			br.client = nil
		}
	}
}
