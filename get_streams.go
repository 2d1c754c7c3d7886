// get_streams.go defines the get_streams tool types: full transcript
// retrieval for specific streams.
package main

// GetStreamsArgs is the input for the get_streams tool.
type GetStreamsArgs struct {
	// StreamIDs selects streams. Empty returns every stream.
	StreamIDs []string `json:"stream_ids,omitempty" jsonschema:"Stream IDs to retrieve transcripts for. Empty returns all."`
}

// GetStreamsOutput contains the relayed text for each requested stream.
type GetStreamsOutput struct {
	Results []StreamResult `json:"results"`
}

// StreamResult is the text relayed so far for a single stream.
type StreamResult struct {
	ID      string `json:"id"`
	Model   string `json:"model,omitempty"`
	Status  string `json:"status"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}
