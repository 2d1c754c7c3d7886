// start_chat.go defines the start_chat tool types.
package main

import "github.com/ollama/ollama/api"

// ChatMessage is one conversation turn passed to start_chat.
type ChatMessage struct {
	Role    string `json:"role"    jsonschema:"One of system, user, assistant"`
	Content string `json:"content" jsonschema:"Message text"`
}

// StartChatArgs is the input for the start_chat tool.
type StartChatArgs struct {
	Model    string        `json:"model"    jsonschema:"Ollama model name, e.g. llama3"`
	Messages []ChatMessage `json:"messages" jsonschema:"Conversation so far, oldest first"`
}

// StartChatOutput returns the ID the stream's notifications are tagged with.
type StartChatOutput struct {
	StreamID string `json:"stream_id"`
}

func toAPIMessages(in []ChatMessage) []api.Message {
	out := make([]api.Message, 0, len(in))
	for _, m := range in {
		out = append(out, api.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
