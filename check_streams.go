// check_streams.go defines the check_streams tool types: lightweight status
// polling with aggregate counts and per-stream status (no transcript content).
package main

// CheckStreamsArgs is the input for the check_streams tool.
type CheckStreamsArgs struct {
	// StreamIDs filters to specific streams. Empty returns all streams.
	StreamIDs []string `json:"stream_ids,omitempty" jsonschema:"Filter to specific stream IDs. Empty returns all."`
}

// CheckStreamsOutput contains a compact summary plus individual stream statuses.
type CheckStreamsOutput struct {
	Summary StreamSummary  `json:"summary"`
	Streams []StreamStatus `json:"streams"`
}

// StreamSummary provides aggregate counts across all matched streams.
type StreamSummary struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// StreamStatus is the per-stream view in check_streams. Omits the relayed
// text; use get_streams for that.
type StreamStatus struct {
	ID             string `json:"id"`
	Model          string `json:"model"`
	Status         string `json:"status"`
	Tokens         int    `json:"tokens"`          // tokens relayed so far
	ElapsedSeconds int    `json:"elapsed_seconds"` // wall-clock seconds (meaning varies by status)
}
