// SPDX-License-Identifier: BSD-3-Clause

// Package persist implements AlarmTimestamps: an on-disk, crash-safe record
// of (sensor, severity, direction) -> start-time used by ShutdownMonitor so
// that a daemon restart mid-countdown resumes the correct remaining delay
// instead of restarting the grace period from zero.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/file"
)

// Severity mirrors the alarm interface the threshold was read from.
type Severity int

const (
	SeverityHardShutdown Severity = iota
	SeveritySoftShutdown
	SeverityCritical
	SeverityWarning
)

// Direction is which side of the threshold was crossed.
type Direction int

const (
	DirectionLow Direction = iota
	DirectionHigh
)

// Key identifies one outstanding grace-period timer. At most one timer may
// be active per Key.
type Key struct {
	SensorPath string
	Severity   Severity
	Direction  Direction
}

// record is the on-disk encoding: a JSON array of
// [sensorPath, severityInt, directionInt, startMsSinceEpoch] tuples.
type record struct {
	SensorPath  string
	Severity    int
	Direction   int
	StartMillis uint64
}

// MarshalJSON encodes a record as a 4-element JSON array rather than an object.
func (r record) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.SensorPath, r.Severity, r.Direction, r.StartMillis})
}

// UnmarshalJSON decodes a record from a 4-element JSON array.
func (r *record) UnmarshalJSON(data []byte) error {
	var tuple [4]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &r.SensorPath); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &r.Severity); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[2], &r.Direction); err != nil {
		return err
	}
	return json.Unmarshal(tuple[3], &r.StartMillis)
}

// Store is the AlarmTimestamps collaborator: a crash-safe table of
// Key -> start-time-in-milliseconds, persisted to a single JSON file.
type Store struct {
	path string
	perm os.FileMode

	mu      sync.Mutex
	entries map[Key]uint64
}

// Open loads path if it exists. A malformed file is treated per the
// daemon's error-handling design: delete it and continue with an empty table.
func Open(path string) (*Store, error) {
	s := &Store{path: path, perm: 0o600, entries: make(map[Key]uint64)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	if len(data) == 0 {
		return s, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		_ = os.Remove(path)
		return s, nil
	}

	for _, r := range records {
		key := Key{SensorPath: r.SensorPath, Severity: Severity(r.Severity), Direction: Direction(r.Direction)}
		s.entries[key] = r.StartMillis
	}

	return s, nil
}

// Get returns the persisted start time for key, if any.
func (s *Store) Get(key Key) (startMillis uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Set persists (key, startMillis), replacing any prior entry for key, and
// atomically rewrites the backing file.
func (s *Store) Set(key Key, startMillis uint64) error {
	s.mu.Lock()
	s.entries[key] = startMillis
	s.mu.Unlock()
	return s.flush()
}

// Delete removes key, if present, and atomically rewrites the backing file.
func (s *Store) Delete(key Key) error {
	s.mu.Lock()
	_, existed := s.entries[key]
	if existed {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !existed {
		return nil
	}
	return s.flush()
}

// Prune removes every entry whose key is not in keep, and atomically
// rewrites the backing file if anything changed. Used at startup to discard
// persisted entries with no corresponding running timer.
func (s *Store) Prune(keep map[Key]struct{}) error {
	s.mu.Lock()
	changed := false
	for k := range s.entries {
		if _, ok := keep[k]; !ok {
			delete(s.entries, k)
			changed = true
		}
	}
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.flush()
}

// All returns a snapshot copy of every persisted entry.
func (s *Store) All() map[Key]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Key]uint64, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

func (s *Store) flush() error {
	s.mu.Lock()
	records := make([]record, 0, len(s.entries))
	for k, v := range s.entries {
		records = append(records, record{SensorPath: k.SensorPath, Severity: int(k.Severity), Direction: int(k.Direction), StartMillis: v})
	}
	s.mu.Unlock()

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if err := file.AtomicReplaceFile(s.path, data, s.perm); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
