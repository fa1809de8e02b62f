// Package metrics counts message and save outcomes for the process lifetime.
//
// The Collector is a leaf package with no internal dependencies. All
// increment methods are nil-receiver safe so components can run without
// metrics in tests. It also implements prometheus.Collector.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Inbound
	MessagesReceived  int64            `json:"messages_received"`
	MessagesDuplicate int64            `json:"messages_duplicate"`
	MessagesAdmitted  int64            `json:"messages_admitted"`
	MessagesRejected  int64            `json:"messages_rejected"`
	RejectedByReason  map[string]int64 `json:"rejected_by_reason"`

	// Saves
	SavesInFlight  int64 `json:"saves_in_flight"`
	SavesSucceeded int64 `json:"saves_succeeded"`
	SavesFailed    int64 `json:"saves_failed"`
	BytesWritten   int64 `json:"bytes_written"`

	// Post-save hooks
	MirrorSuccess int64 `json:"mirror_success"`
	MirrorFailure int64 `json:"mirror_failure"`
	NotifySuccess int64 `json:"notify_success"`
	NotifyFailure int64 `json:"notify_failure"`

	// Dimensions
	Transport     string `json:"transport"`
	MirrorBackend string `json:"mirror_backend,omitempty"`
}

// Collector accumulates counters. Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	messagesReceived  int64
	messagesDuplicate int64
	messagesAdmitted  int64
	rejectedByReason  map[string]int64

	savesInFlight  int64
	savesSucceeded int64
	savesFailed    int64
	bytesWritten   int64

	mirrorSuccess int64
	mirrorFailure int64
	notifySuccess int64
	notifyFailure int64

	transport     string
	mirrorBackend string
}

// NewCollector creates a Collector. mirrorBackend is empty when mirroring is off.
func NewCollector(transport, mirrorBackend string) *Collector {
	return &Collector{
		rejectedByReason: make(map[string]int64),
		transport:        transport,
		mirrorBackend:    mirrorBackend,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Inbound ---

// IncReceived records an inbound message reaching the dispatcher.
func (c *Collector) IncReceived() {
	if c == nil {
		return
	}
	c.add(&c.messagesReceived, 1)
}

// IncDuplicate records a message suppressed as already dispatched.
func (c *Collector) IncDuplicate() {
	if c == nil {
		return
	}
	c.add(&c.messagesDuplicate, 1)
}

// IncAdmitted records a message that passed sender and type checks.
func (c *Collector) IncAdmitted() {
	if c == nil {
		return
	}
	c.add(&c.messagesAdmitted, 1)
}

// IncRejected records a policy rejection under its reason.
func (c *Collector) IncRejected(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rejectedByReason[reason]++
	c.mu.Unlock()
}

// --- Saves ---

// SaveStarted marks a save pipeline as running.
func (c *Collector) SaveStarted() {
	if c == nil {
		return
	}
	c.add(&c.savesInFlight, 1)
}

// SaveFinished marks a save pipeline as done, whatever its outcome.
func (c *Collector) SaveFinished() {
	if c == nil {
		return
	}
	c.add(&c.savesInFlight, -1)
}

// IncSaveSucceeded records a completed write of n bytes.
func (c *Collector) IncSaveSucceeded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.savesSucceeded++
	c.bytesWritten += n
	c.mu.Unlock()
}

// IncSaveFailed records a fetch or write failure.
func (c *Collector) IncSaveFailed() {
	if c == nil {
		return
	}
	c.add(&c.savesFailed, 1)
}

// --- Post-save hooks ---

// IncMirror records a mirror attempt.
func (c *Collector) IncMirror(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.mirrorSuccess, 1)
	} else {
		c.add(&c.mirrorFailure, 1)
	}
}

// IncNotify records a notification attempt.
func (c *Collector) IncNotify(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.notifySuccess, 1)
	} else {
		c.add(&c.notifyFailure, 1)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{RejectedByReason: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var rejected int64
	for _, n := range c.rejectedByReason {
		rejected += n
	}
	return Snapshot{
		MessagesReceived:  c.messagesReceived,
		MessagesDuplicate: c.messagesDuplicate,
		MessagesAdmitted:  c.messagesAdmitted,
		MessagesRejected:  rejected,
		RejectedByReason:  maps.Clone(c.rejectedByReason),
		SavesInFlight:     c.savesInFlight,
		SavesSucceeded:    c.savesSucceeded,
		SavesFailed:       c.savesFailed,
		BytesWritten:      c.bytesWritten,
		MirrorSuccess:     c.mirrorSuccess,
		MirrorFailure:     c.mirrorFailure,
		NotifySuccess:     c.notifySuccess,
		NotifyFailure:     c.notifyFailure,
		Transport:         c.transport,
		MirrorBackend:     c.mirrorBackend,
	}
}
