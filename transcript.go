// transcript.go defines the consumer-side record of a relayed chat stream.
// Not exposed via MCP.
package main

import (
	"strings"
	"time"
)

// Stream statuses as seen by MCP clients.
const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusCancelled = "cancelled"
	statusNotFound  = "not_found"
)

// Transcript accumulates the tokens relayed for one stream. It is fed only by
// the relay sink and by cancel_streams; the stream registry stays the single
// source of truth for whether the upstream task is still running.
//
// Lifecycle: running -> completed | cancelled
type Transcript struct {
	ID     string
	Model  string
	Status string   // running, completed, cancelled
	Tokens []string // in relay order

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Content joins the relayed tokens.
func (t *Transcript) Content() string {
	return strings.Join(t.Tokens, "")
}
