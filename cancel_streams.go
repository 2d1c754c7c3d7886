// cancel_streams.go defines the cancel_streams tool types.
package main

// CancelStreamsArgs is the input for the cancel_streams tool.
type CancelStreamsArgs struct {
	// StreamIDs cancels specific streams. If empty, every running stream is
	// cancelled.
	StreamIDs []string `json:"stream_ids,omitempty" jsonschema:"Specific stream IDs to cancel. Empty cancels all running streams."`
}

// CancelStreamsOutput reports which streams were actually cancelled. IDs that
// had already finished, were already cancelled, or never existed are listed
// under NotRunning.
type CancelStreamsOutput struct {
	Cancelled  int      `json:"cancelled"`
	StreamIDs  []string `json:"stream_ids"`
	NotRunning []string `json:"not_running"`
}
