// SPDX-License-Identifier: BSD-3-Clause

// Package flightrec implements a fixed-size ring buffer of recent bus
// activity: internal signal traffic and control action invocations. It is
// fed passively by the daemon and flushed to disk on demand (SIGUSR1),
// giving a post-mortem trail of the last N events leading up to a protection
// trigger or an unexpected shutdown without needing a full trace pipeline.
package flightrec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/bus"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/file"
)

// Entry is one recorded event.
type Entry struct {
	Time   time.Time       `json:"time"`
	Kind   string          `json:"kind"` // "signal" or "action"
	Source string          `json:"source"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Recorder is a fixed-capacity ring buffer of Entry, safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	full     bool
	capacity int
	logger   *slog.Logger
	sub      *bus.Subscription
}

// New creates a Recorder holding at most capacity entries. Once full, the
// oldest entry is overwritten first.
func New(capacity int, logger *slog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 512
	}
	return &Recorder{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Attach subscribes to every internal bus signal and begins recording them.
// Call Detach to stop.
func (r *Recorder) Attach(facade *bus.Facade) error {
	sub, err := facade.Subscribe("internal.>", nil, r.recordSignal)
	if err != nil {
		return fmt.Errorf("flightrec: attach: %w", err)
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Detach stops recording bus signals.
func (r *Recorder) Detach() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

func (r *Recorder) recordSignal(_ context.Context, sig bus.Signal, _ any) {
	detail, _ := json.Marshal(sig)
	r.record(Entry{Time: time.Now(), Kind: "signal", Source: sig.Path + "#" + sig.Property, Detail: detail})
}

// RecordAction records a control action invocation (zone name, action name,
// and whatever scalar result it produced).
func (r *Recorder) RecordAction(zone, action string, detail any) {
	raw, _ := json.Marshal(detail)
	r.record(Entry{Time: time.Now(), Kind: "action", Source: zone + "/" + action, Detail: raw})
}

func (r *Recorder) record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the recorded entries in chronological order.
func (r *Recorder) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}

	out := make([]Entry, r.capacity)
	copy(out, r.entries[r.next:])
	copy(out[r.capacity-r.next:], r.entries[:r.next])
	return out
}

// Dump writes the current snapshot to path as JSON, atomically.
func (r *Recorder) Dump(path string) error {
	snap := r.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("flightrec: marshal: %w", err)
	}
	if err := file.AtomicReplaceFile(path, data, 0o644); err != nil {
		return fmt.Errorf("flightrec: write %s: %w", path, err)
	}
	r.logger.Info("flightrec: dumped", slog.String("path", path), slog.Int("entries", len(snap)))
	return nil
}
