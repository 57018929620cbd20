// Package bus is the in-process fan-out for transaction records and dashboard
// log lines. Delivery is asynchronous so a slow or failing subscriber can
// never delay a SIP2 operation.
package bus

import (
	"time"

	"go.uber.org/atomic"

	"github.com/libbridge/sip2go/common"
	"github.com/libbridge/sip2go/mask"
	"github.com/libbridge/sip2go/utils"
)

// TransactionListener receives masked transaction payloads.
type TransactionListener func(payload map[string]interface{})

// DashboardEntry is one dashboard log line.
type DashboardEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// DashboardListener receives dashboard log lines.
type DashboardListener func(entry DashboardEntry)

type event struct {
	payload map[string]interface{} // transaction channel
	dash    *DashboardEntry        // dashboard channel
}

// Options configures a Bus.
type Options struct {
	// QueueSize bounds the delivery queue; when full the oldest event is
	// dropped. Defaults to 1024.
	QueueSize int
	// Masker redacts identifier tag runs on the dashboard channel. May be
	// nil or keyless, in which case identifiers fall back to asterisks.
	Masker *mask.Masker
	Logger common.Logger
}

// Bus fans events out to subscribers from a single dispatcher goroutine, so
// events emitted in program order are delivered in program order.
type Bus struct {
	queue    *utils.BoundedQueue
	masker   *mask.Masker
	log      common.Logger
	closed   *atomic.Bool
	done     chan struct{}
	txSubs   *subscribers[TransactionListener]
	dashSubs *subscribers[DashboardListener]
}

// New creates a Bus and starts its dispatcher.
func New(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = common.NopLogger()
	}
	b := &Bus{
		queue:    utils.NewBoundedQueue(opts.QueueSize),
		masker:   opts.Masker,
		log:      opts.Logger,
		closed:   atomic.NewBool(false),
		done:     make(chan struct{}),
		txSubs:   newSubscribers[TransactionListener](),
		dashSubs: newSubscribers[DashboardListener](),
	}
	go b.dispatch()
	return b
}

// SubscribeTransactions registers a transaction listener. Subscription order
// is delivery order.
func (b *Bus) SubscribeTransactions(l TransactionListener) {
	b.txSubs.add(l)
}

// SubscribeDashboard registers a dashboard listener.
func (b *Bus) SubscribeDashboard(l DashboardListener) {
	b.dashSubs.add(l)
}

// EmitLog queues a masked transaction payload for asynchronous delivery.
func (b *Bus) EmitLog(payload map[string]interface{}) {
	if b.closed.Load() {
		return
	}
	b.queue.Put(event{payload: payload})
}

// LogToDashboard queues a dashboard line. Raw SIP2 frames inside details are
// redacted here, on a clone, before any subscriber can observe them.
func (b *Bus) LogToDashboard(level, message string, details map[string]interface{}) {
	if b.closed.Load() {
		return
	}
	entry := DashboardEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Details:   redactDetails(details, b.masker),
	}
	b.queue.Put(event{dash: &entry})
}

// redactDetails clones details and rewrites sensitive tag runs in every
// string-valued "raw" or "message" field, recursively.
func redactDetails(details map[string]interface{}, m *mask.Masker) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		switch val := v.(type) {
		case string:
			if k == "raw" || k == "message" {
				out[k] = mask.RedactFrame(val, m)
			} else {
				out[k] = val
			}
		case map[string]interface{}:
			out[k] = redactDetails(val, m)
		default:
			out[k] = v
		}
	}
	return out
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		item, err := b.queue.Get(200 * time.Millisecond)
		if err != nil {
			if b.closed.Load() {
				return
			}
			continue
		}
		ev := item.(event)
		switch {
		case ev.payload != nil:
			for _, l := range b.txSubs.snapshot() {
				b.deliverTx(l, ev.payload)
			}
			// Reforward the transaction as a dashboard line so consumers get
			// one unified stream.
			b.deliverDashboard(DashboardEntry{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Level:     "info",
				Message:   "SIP2 Transaction",
				Details:   ev.payload,
			})
		case ev.dash != nil:
			b.deliverDashboard(*ev.dash)
		}
	}
}

func (b *Bus) deliverTx(l TransactionListener, payload map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("transaction listener panicked", "panic", r)
		}
	}()
	l(payload)
}

func (b *Bus) deliverDashboard(entry DashboardEntry) {
	for _, l := range b.dashSubs.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("dashboard listener panicked", "panic", r)
				}
			}()
			l(entry)
		}()
	}
}

// Drain blocks until the queue is empty or the timeout passes. Tests use it
// to observe delivery without sleeping.
func (b *Bus) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for b.queue.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// One more beat so the dispatcher finishes the event it already took.
	time.Sleep(10 * time.Millisecond)
}

// Close stops the dispatcher. Events queued after Close are discarded.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		<-b.done
	}
}

// Dropped reports how many events were evicted due to queue overflow.
func (b *Bus) Dropped() uint64 { return b.queue.Dropped() }
