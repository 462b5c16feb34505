package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/logger"
)

// Notification is a passive cross-cutting alert for a batch the user is not
// currently looking at. It travels outside the per-batch callback path.
type Notification struct {
	BatchID          string
	ProjectID        string
	TotalScripts     int
	CompletedScripts int
	FailedScripts    int
	Link             string
}

// Notifier receives passive notifications (e.g. renders a toast).
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// opSender issues join/leave operations to the gateway. The mux calls it on
// the first subscription for a batch and after the last unsubscription.
type opSender interface {
	sendOp(op string, batchID string) error
}

// batchSubs holds the callback registries of one batch, keyed by
// registration id so unsubscription removes exactly one callback.
type batchSubs struct {
	progress  map[uint64]func(events.Progress)
	completed map[uint64]func(events.Completed)
}

func (b *batchSubs) empty() bool {
	return len(b.progress) == 0 && len(b.completed) == 0
}

// Mux demultiplexes incoming wire envelopes by (batchId, kind) and fans them
// out to registered callbacks. Multiple UI regions can observe the same batch
// through one network join; the mux joins on the first callback for a batch
// and leaves when the last one unsubscribes, so the registry never grows
// without bound across a long session.
type Mux struct {
	mu       sync.Mutex
	batches  map[string]*batchSubs
	nextID   uint64
	viewing  string
	sender   opSender
	notifier Notifier
	logger   *logger.Logger
}

// NewMux creates a multiplexer. notifier may be nil to disable toasts.
func NewMux(sender opSender, notifier Notifier, log *logger.Logger) *Mux {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Mux{
		batches:  make(map[string]*batchSubs),
		sender:   sender,
		notifier: notifier,
		logger:   log,
	}
}

// SubscribeToProgress registers a callback for a batch's progress events and
// returns its unsubscribe function. Unsubscribing is idempotent.
func (m *Mux) SubscribeToProgress(batchID string, cb func(events.Progress)) func() {
	m.mu.Lock()
	subs, id := m.ensureSubsLocked(batchID)
	subs.progress[id] = cb
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(batchID, id, events.KindProgress) })
	}
}

// SubscribeToCompleted registers a callback for a batch's completion event
// and returns its unsubscribe function. Unsubscribing is idempotent.
func (m *Mux) SubscribeToCompleted(batchID string, cb func(events.Completed)) func() {
	m.mu.Lock()
	subs, id := m.ensureSubsLocked(batchID)
	subs.completed[id] = cb
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(batchID, id, events.KindCompleted) })
	}
}

// SetViewingBatchID records which batch the user is actively looking at; the
// empty string means none. It only gates passive notifications and never
// affects callback delivery.
func (m *Mux) SetViewingBatchID(id string) {
	m.mu.Lock()
	m.viewing = id
	m.mu.Unlock()
}

// ViewingBatchID returns the currently-viewed batch id, or empty.
func (m *Mux) ViewingBatchID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewing
}

// ensureSubsLocked returns the registry entry for a batch, creating it (and
// issuing the network join) on first use. Caller holds m.mu.
func (m *Mux) ensureSubsLocked(batchID string) (*batchSubs, uint64) {
	subs, ok := m.batches[batchID]
	if !ok {
		subs = &batchSubs{
			progress:  make(map[uint64]func(events.Progress)),
			completed: make(map[uint64]func(events.Completed)),
		}
		m.batches[batchID] = subs
		if m.sender != nil {
			if err := m.sender.sendOp(events.OpJoin, batchID); err != nil {
				m.logger.WithError(err).Warn("failed to send join op")
			}
		}
	}
	m.nextID++
	return subs, m.nextID
}

// remove drops one callback; removing the last callback for a batch deletes
// the batch entry entirely and issues the network leave.
func (m *Mux) remove(batchID string, id uint64, kind events.Kind) {
	m.mu.Lock()
	subs, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch kind {
	case events.KindProgress:
		delete(subs.progress, id)
	case events.KindCompleted:
		delete(subs.completed, id)
	}
	last := subs.empty()
	if last {
		delete(m.batches, batchID)
	}
	m.mu.Unlock()

	if last && m.sender != nil {
		if err := m.sender.sendOp(events.OpLeave, batchID); err != nil {
			m.logger.WithError(err).Warn("failed to send leave op")
		}
	}
}

// joinedBatches lists the batches that currently have callbacks, for
// re-joining after a reconnect.
func (m *Mux) joinedBatches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.batches))
	for id := range m.batches {
		out = append(out, id)
	}
	return out
}

// Dispatch routes one incoming envelope to the callbacks registered for its
// exact (batchId, kind) address. Callbacks run over a snapshot of the
// registry, so a callback may itself subscribe or unsubscribe without
// corrupting the dispatch in progress. An envelope for a batch with no
// callbacks is dropped silently.
func (m *Mux) Dispatch(env events.Envelope) error {
	switch env.Kind {
	case events.KindProgress:
		var p events.Progress
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode progress payload: %w", err)
		}

		m.mu.Lock()
		var cbs []func(events.Progress)
		if subs, ok := m.batches[env.BatchID]; ok {
			cbs = make([]func(events.Progress), 0, len(subs.progress))
			for _, cb := range subs.progress {
				cbs = append(cbs, cb)
			}
		}
		m.mu.Unlock()

		for _, cb := range cbs {
			cb(p)
		}

	case events.KindCompleted:
		var done events.Completed
		if err := json.Unmarshal(env.Payload, &done); err != nil {
			return fmt.Errorf("failed to decode completed payload: %w", err)
		}

		m.mu.Lock()
		var cbs []func(events.Completed)
		if subs, ok := m.batches[env.BatchID]; ok {
			cbs = make([]func(events.Completed), 0, len(subs.completed))
			for _, cb := range subs.completed {
				cbs = append(cbs, cb)
			}
		}
		viewing := m.viewing
		m.mu.Unlock()

		for _, cb := range cbs {
			cb(done)
		}

		// Passive toast, suppressed while the user is looking at this very
		// batch: its own view renders the outcome through the callback path.
		if m.notifier != nil && done.BatchID != viewing {
			m.notifier.Notify(Notification{
				BatchID:          done.BatchID,
				ProjectID:        done.ProjectID,
				TotalScripts:     done.TotalScripts,
				CompletedScripts: done.CompletedScripts,
				FailedScripts:    done.FailedScripts,
				Link:             fmt.Sprintf("/projects/%s/batches/%s", done.ProjectID, done.BatchID),
			})
		}

	default:
		return fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return nil
}
