package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AaronKronberg/OllamaRelay/internal/ollama"
	"github.com/AaronKronberg/OllamaRelay/internal/stream"
)

// testRelay is an MCP client session connected in memory to a relay server
// whose upstream is a fake Ollama.
type testRelay struct {
	session *mcp.ClientSession
	manager *stream.Manager
	store   *StreamStore
	notes   chan *mcp.LoggingMessageParams
}

func newTestRelay(t *testing.T, upstream http.Handler) *testRelay {
	t.Helper()
	ctx := context.Background()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	client, err := ollama.New(srv.URL, ollama.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	manager := stream.NewManager(client, stream.NewRegistry())
	store := NewStreamStore()
	server := newMCPServer(client, manager, store, zap.NewNop())

	notes := make(chan *mcp.LoggingMessageParams, 128)
	mcpClient := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, &mcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *mcp.LoggingMessageRequest) {
			notes <- req.Params
		},
	})

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	cs, err := mcpClient.Connect(ctx, ct, nil)
	require.NoError(t, err)
	require.NoError(t, cs.SetLoggingLevel(ctx, &mcp.SetLoggingLevelParams{Level: "info"}))

	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(sctx)
		_ = cs.Close()
		_ = ss.Wait()
	})
	return &testRelay{session: cs, manager: manager, store: store, notes: notes}
}

// call invokes a tool and decodes its structured output into out.
func (r *testRelay) call(t *testing.T, name string, args, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := r.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return res
}

// next waits for the next notification from logger.
func (r *testRelay) next(t *testing.T, logger string) map[string]any {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-r.notes:
			if n.Logger != logger {
				continue
			}
			data, ok := n.Data.(map[string]any)
			require.True(t, ok, "notification data is %T", n.Data)
			return data
		case <-timeout:
			t.Fatalf("no %s notification", logger)
			return nil
		}
	}
}

func errorText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// chatHandler answers /api/chat with the given NDJSON lines.
func chatHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			_, _ = io.WriteString(w, l+"\n")
			w.(http.Flusher).Flush()
		}
	}
}

// ---------------------------------------------------------------------------
// Model directory tools
// ---------------------------------------------------------------------------

func TestListModelsTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3:latest","size":4661224676,"details":{"family":"llama","parameter_size":"8B","quantization_level":"Q4_0"}}]}`)
	})
	r := newTestRelay(t, mux)

	var out ListModelsOutput
	res := r.call(t, "list_models", ListModelsArgs{}, &out)
	require.False(t, res.IsError, errorText(res))
	assert.Equal(t, []ModelInfo{{
		Name:              "llama3:latest",
		Size:              4661224676,
		ParameterSize:     "8B",
		QuantizationLevel: "Q4_0",
		Family:            "llama",
	}}, out.Models)
}

func TestListModelsToolUpstreamDown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	})
	r := newTestRelay(t, mux)

	res := r.call(t, "list_models", ListModelsArgs{}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, errorText(res), "boom")
}

func TestListActiveModelsToolFallsBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ps", http.NotFound)
	mux.HandleFunc("GET /api/running", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3"}]}`)
	})
	r := newTestRelay(t, mux)

	var out ListActiveModelsOutput
	res := r.call(t, "list_active_models", ListActiveModelsArgs{}, &out)
	require.False(t, res.IsError, errorText(res))
	assert.Equal(t, []string{"llama3"}, out.Models)
}

func TestListActiveModelsToolEmpty(t *testing.T) {
	r := newTestRelay(t, http.NotFoundHandler())

	var out ListActiveModelsOutput
	res := r.call(t, "list_active_models", ListActiveModelsArgs{}, &out)
	require.False(t, res.IsError, errorText(res))
	assert.NotNil(t, out.Models)
	assert.Empty(t, out.Models)
}

func TestUnloadModelTool(t *testing.T) {
	bodies := make(chan api.GenerateRequest, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body api.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		_, _ = io.WriteString(w, `{"model":"llama3","response":"","done":true}`)
	})
	r := newTestRelay(t, mux)

	var out UnloadModelOutput
	res := r.call(t, "unload_model", UnloadModelArgs{Model: "llama3"}, &out)
	require.False(t, res.IsError, errorText(res))
	assert.Equal(t, UnloadModelOutput{Model: "llama3", Unloaded: true}, out)
	body := <-bodies
	assert.Equal(t, "llama3", body.Model)
	require.NotNil(t, body.KeepAlive)
	assert.Zero(t, body.KeepAlive.Duration)
}

func TestUnloadModelToolRequiresModel(t *testing.T) {
	r := newTestRelay(t, http.NotFoundHandler())

	res := r.call(t, "unload_model", UnloadModelArgs{}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, errorText(res), "model is required")
}

func TestGenerateTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"llama3","response":"Paris.","done":true}`)
	})
	r := newTestRelay(t, mux)

	var out GenerateOutput
	res := r.call(t, "generate", GenerateArgs{Model: "llama3", Prompt: "Capital of France?"}, &out)
	require.False(t, res.IsError, errorText(res))
	assert.Equal(t, "Paris.", out.Response)
}

// ---------------------------------------------------------------------------
// Streaming tools
// ---------------------------------------------------------------------------

func TestStartChatRelaysTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", chatHandler(
		`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	))
	r := newTestRelay(t, mux)

	var started StartChatOutput
	res := r.call(t, "start_chat", StartChatArgs{
		Model:    "llama3",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, &started)
	require.False(t, res.IsError, errorText(res))
	require.NotEmpty(t, started.StreamID)

	var tokens []string
	for range 2 {
		n := r.next(t, tokenLogger)
		assert.Equal(t, started.StreamID, n["taskId"])
		tokens = append(tokens, n["token"].(string))
	}
	assert.ElementsMatch(t, []string{"Hel", "lo"}, tokens)

	done := r.next(t, doneLogger)
	assert.Equal(t, started.StreamID, done["taskId"])

	var got GetStreamsOutput
	r.call(t, "get_streams", GetStreamsArgs{StreamIDs: []string{started.StreamID}}, &got)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "Hello", got.Results[0].Content)
	assert.Equal(t, statusCompleted, got.Results[0].Status)

	var check CheckStreamsOutput
	r.call(t, "check_streams", CheckStreamsArgs{}, &check)
	assert.Equal(t, StreamSummary{Total: 1, Completed: 1}, check.Summary)
	require.Len(t, check.Streams, 1)
	assert.Equal(t, 2, check.Streams[0].Tokens)
	assert.Empty(t, r.manager.Running())
}

func TestStartChatUpstreamRefused(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"nope\" not found"}`)
	})
	r := newTestRelay(t, mux)

	res := r.call(t, "start_chat", StartChatArgs{
		Model:    "nope",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, errorText(res), "not found")
	assert.Empty(t, r.store.IDs(nil, ""))
	assert.Empty(t, r.manager.Running())
}

func TestStartChatRequiresMessages(t *testing.T) {
	r := newTestRelay(t, http.NotFoundHandler())

	res := r.call(t, "start_chat", StartChatArgs{Model: "llama3", Messages: []ChatMessage{}}, nil)
	assert.True(t, res.IsError)
}

func TestCancelStreams(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"first"},"done":false}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	r := newTestRelay(t, mux)
	t.Cleanup(func() { close(release) })

	var started StartChatOutput
	res := r.call(t, "start_chat", StartChatArgs{
		Model:    "llama3",
		Messages: []ChatMessage{{Role: "user", Content: "tell me a story"}},
	}, &started)
	require.False(t, res.IsError, errorText(res))
	r.next(t, tokenLogger)

	var out CancelStreamsOutput
	r.call(t, "cancel_streams", CancelStreamsArgs{StreamIDs: []string{started.StreamID}}, &out)
	assert.Equal(t, 1, out.Cancelled)
	assert.Equal(t, []string{started.StreamID}, out.StreamIDs)
	assert.Empty(t, out.NotRunning)

	// A second cancel finds nothing running.
	r.call(t, "cancel_streams", CancelStreamsArgs{StreamIDs: []string{started.StreamID}}, &out)
	assert.Equal(t, 0, out.Cancelled)
	assert.Equal(t, []string{started.StreamID}, out.NotRunning)

	r.next(t, doneLogger)

	var got GetStreamsOutput
	r.call(t, "get_streams", GetStreamsArgs{}, &got)
	require.Len(t, got.Results, 1)
	assert.Equal(t, statusCancelled, got.Results[0].Status)
	assert.Equal(t, "first", got.Results[0].Content)
}

func TestCancelStreamsAllRunning(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	r := newTestRelay(t, mux)
	t.Cleanup(func() { close(release) })

	for range 3 {
		res := r.call(t, "start_chat", StartChatArgs{
			Model:    "llama3",
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		}, nil)
		require.False(t, res.IsError, errorText(res))
	}
	require.Len(t, r.manager.Running(), 3)

	var out CancelStreamsOutput
	r.call(t, "cancel_streams", CancelStreamsArgs{}, &out)
	assert.Equal(t, 3, out.Cancelled)
	assert.Empty(t, r.manager.Running())

	var check CheckStreamsOutput
	r.call(t, "check_streams", CheckStreamsArgs{}, &check)
	assert.Equal(t, 3, check.Summary.Cancelled)
}

func TestCancelStreamsUnknownID(t *testing.T) {
	r := newTestRelay(t, http.NotFoundHandler())

	var out CancelStreamsOutput
	res := r.call(t, "cancel_streams", CancelStreamsArgs{StreamIDs: []string{"missing"}}, &out)
	require.False(t, res.IsError, errorText(res))
	assert.Equal(t, 0, out.Cancelled)
	assert.Equal(t, []string{"missing"}, out.NotRunning)
}

func TestGetStreamsNotFound(t *testing.T) {
	r := newTestRelay(t, http.NotFoundHandler())

	var out GetStreamsOutput
	r.call(t, "get_streams", GetStreamsArgs{StreamIDs: []string{"missing"}}, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, statusNotFound, out.Results[0].Status)
}

func TestGetStreamsWithoutIDsReturnsAll(t *testing.T) {
	r := newTestRelay(t, http.NotFoundHandler())
	for _, id := range []string{"a", "b"} {
		r.store.Add(&Transcript{ID: id, Model: "llama3", Status: statusRunning, CreatedAt: time.Now()})
		r.store.AppendToken(id, "text-"+id)
	}

	var out GetStreamsOutput
	res := r.call(t, "get_streams", map[string]any{}, &out)
	require.False(t, res.IsError, errorText(res))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "a", out.Results[0].ID)
	assert.Equal(t, "text-b", out.Results[1].Content)
}
