// Package memory is the durable per-user conversation store: a single
// JSON file mirroring an in-memory map, written by a debounced
// background flusher so bursts of turns coalesce into one disk write.
package memory

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type Record struct {
	History  []Turn    `json:"history"`
	LastSeen time.Time `json:"last_seen"`
	Topic    string    `json:"topic,omitempty"`
}

type Store struct {
	path       string
	maxHistory int

	mu      sync.Mutex
	records map[int64]*Record
	dirty   bool

	stop chan struct{}
	done chan struct{}
}

// NewStore loads the file at path (missing or corrupt files start an
// empty store) and starts the background flusher. Close flushes any
// pending state.
func NewStore(path string, maxHistory int, flushInterval time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure memory dir: %w", err)
	}
	s := &Store{
		path:       path,
		maxHistory: maxHistory,
		records:    make(map[int64]*Record),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &s.records); err != nil {
			log.Printf("memory file %s unreadable, starting empty: %v", path, err)
			s.records = make(map[int64]*Record)
		}
	}
	go s.flushLoop(flushInterval)
	return s, nil
}

func (s *Store) flushLoop(interval time.Duration) {
	defer close(s.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.flushIfDirty(); err != nil {
				log.Printf("memory flush failed: %v", err)
			}
		case <-s.stop:
			if err := s.flushIfDirty(); err != nil {
				log.Printf("memory final flush failed: %v", err)
			}
			return
		}
	}
}

func (s *Store) flushIfDirty() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Flush forces a write of any pending mutations.
func (s *Store) Flush() error {
	return s.flushIfDirty()
}

// Close stops the flusher after a final flush.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
}

// Ensure creates an empty record for the user if none exists.
func (s *Store) Ensure(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[userID]; !ok {
		s.records[userID] = &Record{}
		s.dirty = true
	}
}

// History returns a copy of the user's stored history.
func (s *Store) History(userID int64) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(rec.History))
	copy(out, rec.History)
	return out
}

// AppendExchange writes one completed (user, model) pair and trims the
// window to the newest maxHistory entries. The two sides are never
// written separately, so a stored history is always pair-aligned. A
// trailing unanswered user turn (possible only via hand-edited files)
// is dropped before the pair lands, healing the stored copy too.
func (s *Store) AppendExchange(userID int64, userText, modelText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	if n := len(rec.History); n > 0 && rec.History[n-1].Role == "user" {
		rec.History = rec.History[:n-1]
	}
	rec.History = append(rec.History,
		Turn{Role: "user", Text: userText},
		Turn{Role: "model", Text: modelText},
	)
	if len(rec.History) > s.maxHistory {
		rec.History = rec.History[len(rec.History)-s.maxHistory:]
	}
	s.dirty = true
}

// Wipe destroys the user's history and persists the wipe immediately,
// so a later crash cannot resurrect state the remote side has already
// rejected.
func (s *Store) Wipe(userID int64) {
	s.mu.Lock()
	rec := s.ensureLocked(userID)
	rec.History = nil
	s.dirty = true
	s.mu.Unlock()
	if err := s.flushIfDirty(); err != nil {
		log.Printf("failed to persist history wipe for %d: %v", userID, err)
	}
}

// Reset replaces the user's record with a fresh one and persists.
func (s *Store) Reset(userID int64) {
	s.mu.Lock()
	s.records[userID] = &Record{}
	s.dirty = true
	s.mu.Unlock()
	if err := s.flushIfDirty(); err != nil {
		log.Printf("failed to persist reset for %d: %v", userID, err)
	}
}

// Touch records the time of the latest inbound message and returns the
// previous value for absence detection.
func (s *Store) Touch(userID int64) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	prev := rec.LastSeen
	rec.LastSeen = time.Now().UTC()
	s.dirty = true
	return prev
}

func (s *Store) Topic(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[userID]; ok {
		return rec.Topic
	}
	return ""
}

// SetTopic stores an advisory label for the conversation. Only set
// once, from the user's first substantive message.
func (s *Store) SetTopic(userID int64, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	if rec.Topic != "" {
		return
	}
	rec.Topic = topic
	s.dirty = true
}

// PruneStale drops records whose last activity is older than the
// retention window. Returns the number of records removed.
func (s *Store) PruneStale(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if !rec.LastSeen.IsZero() && rec.LastSeen.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	if n > 0 {
		s.dirty = true
	}
	return n
}

func (s *Store) ensureLocked(userID int64) *Record {
	rec, ok := s.records[userID]
	if !ok {
		rec = &Record{}
		s.records[userID] = rec
	}
	return rec
}
