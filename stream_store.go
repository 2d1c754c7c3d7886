// stream_store.go implements a thread-safe, in-memory transcript store.
//
// The MCP relay sink writes tokens here and the check_streams / get_streams
// tools read them back. State is ephemeral and lives only as long as the
// server process.
package main

import (
	"sync"
	"time"
)

// StreamStore holds all transcripts in memory, protected by a mutex.
// Transcripts are stored in a map for O(1) lookup and a separate slice to
// preserve insertion order for stable iteration in List/Summary.
type StreamStore struct {
	mu          sync.Mutex
	transcripts map[string]*Transcript
	order       []string // insertion order for stable iteration
}

// NewStreamStore creates an empty store.
func NewStreamStore() *StreamStore {
	return &StreamStore{
		transcripts: make(map[string]*Transcript),
	}
}

// Add inserts a transcript. Called by start_chat before the relay starts.
func (s *StreamStore) Add(t *Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transcripts[t.ID]; !exists {
		s.order = append(s.order, t.ID)
	}
	s.transcripts[t.ID] = t
}

// Get returns a copy of a single transcript, or nil if not found.
func (s *StreamStore) Get(id string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil
	}
	cp := *t
	cp.Tokens = append([]string(nil), t.Tokens...)
	return &cp
}

// IDs returns transcript IDs matching the filter, in insertion order.
// An empty filter matches everything; only is an optional status filter.
func (s *StreamStore) IDs(ids []string, only string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, t := range s.matching(ids) {
		if only != "" && t.Status != only {
			continue
		}
		out = append(out, t.ID)
	}
	return out
}

// matching returns transcripts in insertion order. Callers hold s.mu.
func (s *StreamStore) matching(ids []string) []*Transcript {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	var result []*Transcript
	for _, id := range s.order {
		if len(idSet) > 0 && !idSet[id] {
			continue
		}
		result = append(result, s.transcripts[id])
	}
	return result
}

// AppendToken adds a relayed token. Returns false if the transcript doesn't
// exist or is no longer running, so late tokens never land in a cancelled
// transcript.
func (s *StreamStore) AppendToken(id, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok || t.Status != statusRunning {
		return false
	}
	t.Tokens = append(t.Tokens, token)
	return true
}

// SetCompleted marks a transcript as completed when its relay finishes.
// Only transitions from "running"; a cancelled transcript stays cancelled.
func (s *StreamStore) SetCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transcripts[id]; ok && t.Status == statusRunning {
		t.Status = statusCompleted
		t.CompletedAt = time.Now()
	}
}

// SetCancelled marks a transcript as cancelled. Called only after the stream
// registry confirmed it aborted a running task, so it also overrides
// "completed": the relay's finish notice for an aborted task can arrive
// before this call. Returns true if the status changed.
func (s *StreamStore) SetCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok || t.Status == statusCancelled {
		return false
	}
	t.Status = statusCancelled
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
	return true
}

// Summary returns aggregate counts and per-stream statuses for the
// check_streams tool. No transcript content is included. The lock is held
// for the entire operation so the relay cannot mutate a stream mid-read.
func (s *StreamStore) Summary(ids []string) (StreamSummary, []StreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := StreamSummary{}
	statuses := make([]StreamStatus, 0, len(s.order))
	now := time.Now()

	for _, t := range s.matching(ids) {
		summary.Total++
		switch t.Status {
		case statusRunning:
			summary.Running++
		case statusCompleted:
			summary.Completed++
		case statusCancelled:
			summary.Cancelled++
		}
		statuses = append(statuses, StreamStatus{
			ID:             t.ID,
			Model:          t.Model,
			Status:         t.Status,
			Tokens:         len(t.Tokens),
			ElapsedSeconds: elapsedSeconds(t, now),
		})
	}
	return summary, statuses
}

// elapsedSeconds is time since creation while running, else the total
// duration of the stream.
func elapsedSeconds(t *Transcript, now time.Time) int {
	if t.Status == statusRunning || t.CompletedAt.IsZero() {
		return int(now.Sub(t.CreatedAt).Seconds())
	}
	return int(t.CompletedAt.Sub(t.CreatedAt).Seconds())
}

// Results returns the full content for specific stream IDs. Used by
// get_streams. Unknown IDs produce a "not_found" entry.
func (s *StreamStore) Results(ids []string) []StreamResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]StreamResult, 0, len(ids))
	for _, id := range ids {
		t, ok := s.transcripts[id]
		if !ok {
			results = append(results, StreamResult{
				ID:     id,
				Status: statusNotFound,
				Error:  "stream not found",
			})
			continue
		}
		results = append(results, StreamResult{
			ID:      t.ID,
			Model:   t.Model,
			Status:  t.Status,
			Content: t.Content(),
		})
	}
	return results
}
