// server.go exposes the relay over MCP. Each consumer operation is one tool;
// relayed tokens travel back as logging notifications tagged with the stream
// ID.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/AaronKronberg/OllamaRelay/internal/ollama"
	"github.com/AaronKronberg/OllamaRelay/internal/stream"
)

// Notification logger names. Clients filter on these to tell token events
// from ordinary server logs.
const (
	tokenLogger = "ollama:stream"
	doneLogger  = "ollama:stream_done"
)

// serverName and version are reported in the MCP handshake.
const serverName = "ollamarelay"

var version = "dev"

// tokenEvent is the payload of an ollama:stream notification.
type tokenEvent struct {
	TaskID string `json:"taskId"`
	Token  string `json:"token"`
}

// doneEvent is the payload of an ollama:stream_done notification.
type doneEvent struct {
	TaskID string `json:"taskId"`
}

// relayServer holds what the tool handlers share.
type relayServer struct {
	ollama  *ollama.Client
	manager *stream.Manager
	store   *StreamStore
	logger  *zap.Logger
}

// newMCPServer registers every tool on a fresh MCP server.
func newMCPServer(client *ollama.Client, manager *stream.Manager, store *StreamStore, logger *zap.Logger) *mcp.Server {
	rs := &relayServer{ollama: client, manager: manager, store: store, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the models installed on the Ollama server.",
	}, rs.listModels)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_active_models",
		Description: "List the models currently loaded in memory. Empty when none are loaded.",
	}, rs.listActiveModels)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "unload_model",
		Description: "Evict a model from memory.",
	}, rs.unloadModel)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate",
		Description: "Run a prompt to completion and return the whole response.",
	}, rs.generate)
	mcp.AddTool(server, &mcp.Tool{
		Name: "start_chat",
		Description: "Start a streaming chat and return its stream ID immediately. " +
			"Tokens arrive as logging notifications from logger " + tokenLogger +
			" with data {taskId, token}, followed by one " + doneLogger + " notification. " +
			"Set a logging level to receive them.",
	}, rs.startChat)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_streams",
		Description: "Cancel running streams. Finished or unknown IDs are reported as not running.",
	}, rs.cancelStreams)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_streams",
		Description: "Summarise stream status without transcript text.",
	}, rs.checkStreams)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_streams",
		Description: "Return the text relayed so far for the given streams. Empty returns all.",
	}, rs.getStreams)

	return server
}

func (rs *relayServer) listModels(ctx context.Context, _ *mcp.CallToolRequest, _ ListModelsArgs) (*mcp.CallToolResult, ListModelsOutput, error) {
	models, err := rs.ollama.ListModelDetails(ctx)
	if err != nil {
		return nil, ListModelsOutput{}, err
	}
	out := ListModelsOutput{Models: make([]ModelInfo, 0, len(models))}
	for _, m := range models {
		out.Models = append(out.Models, ModelInfo{
			Name:              m.Name,
			Size:              m.Size,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
			Family:            m.Details.Family,
		})
	}
	return nil, out, nil
}

func (rs *relayServer) listActiveModels(ctx context.Context, _ *mcp.CallToolRequest, _ ListActiveModelsArgs) (*mcp.CallToolResult, ListActiveModelsOutput, error) {
	names, err := rs.ollama.ListActiveModels(ctx)
	if err != nil {
		return nil, ListActiveModelsOutput{}, err
	}
	if names == nil {
		names = []string{}
	}
	return nil, ListActiveModelsOutput{Models: names}, nil
}

func (rs *relayServer) unloadModel(ctx context.Context, _ *mcp.CallToolRequest, args UnloadModelArgs) (*mcp.CallToolResult, UnloadModelOutput, error) {
	if args.Model == "" {
		return nil, UnloadModelOutput{}, errors.New("model is required")
	}
	if err := rs.ollama.Unload(ctx, args.Model); err != nil {
		return nil, UnloadModelOutput{}, err
	}
	rs.logger.Info("model unloaded", zap.String("model", args.Model))
	return nil, UnloadModelOutput{Model: args.Model, Unloaded: true}, nil
}

func (rs *relayServer) generate(ctx context.Context, _ *mcp.CallToolRequest, args GenerateArgs) (*mcp.CallToolResult, GenerateOutput, error) {
	if args.Model == "" {
		return nil, GenerateOutput{}, errors.New("model is required")
	}
	text, err := rs.ollama.Generate(ctx, args.Model, args.Prompt)
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	return nil, GenerateOutput{Model: args.Model, Response: text}, nil
}

// startChat opens the upstream stream before answering, so a refused
// request is reported as a tool error and never gets an ID. The transcript
// is stored before the relay starts so no token can arrive for an unknown ID.
func (rs *relayServer) startChat(ctx context.Context, req *mcp.CallToolRequest, args StartChatArgs) (*mcp.CallToolResult, StartChatOutput, error) {
	if args.Model == "" {
		return nil, StartChatOutput{}, errors.New("model is required")
	}
	if len(args.Messages) == 0 {
		return nil, StartChatOutput{}, errors.New("at least one message is required")
	}

	t, err := rs.manager.StartStream(ctx, args.Model, toAPIMessages(args.Messages))
	if err != nil {
		return nil, StartChatOutput{}, err
	}
	rs.store.Add(&Transcript{
		ID:        t.ID(),
		Model:     t.Model(),
		Status:    statusRunning,
		Tokens:    []string{},
		CreatedAt: time.Now(),
	})

	var session *mcp.ServerSession
	if req != nil {
		session = req.Session
	}
	rs.manager.Attach(ctx, t, &mcpSink{session: session, store: rs.store, logger: rs.logger})
	return nil, StartChatOutput{StreamID: t.ID()}, nil
}

// cancelStreams aborts through the manager first; the transcript is marked
// cancelled only when the registry confirms it stopped a running task.
func (rs *relayServer) cancelStreams(_ context.Context, _ *mcp.CallToolRequest, args CancelStreamsArgs) (*mcp.CallToolResult, CancelStreamsOutput, error) {
	ids := args.StreamIDs
	if len(ids) == 0 {
		ids = rs.manager.Running()
	}

	out := CancelStreamsOutput{StreamIDs: []string{}, NotRunning: []string{}}
	for _, id := range ids {
		if !rs.manager.Cancel(id) {
			out.NotRunning = append(out.NotRunning, id)
			continue
		}
		rs.store.SetCancelled(id)
		out.StreamIDs = append(out.StreamIDs, id)
	}
	out.Cancelled = len(out.StreamIDs)
	return nil, out, nil
}

func (rs *relayServer) checkStreams(_ context.Context, _ *mcp.CallToolRequest, args CheckStreamsArgs) (*mcp.CallToolResult, CheckStreamsOutput, error) {
	summary, statuses := rs.store.Summary(args.StreamIDs)
	return nil, CheckStreamsOutput{Summary: summary, Streams: statuses}, nil
}

func (rs *relayServer) getStreams(_ context.Context, _ *mcp.CallToolRequest, args GetStreamsArgs) (*mcp.CallToolResult, GetStreamsOutput, error) {
	ids := args.StreamIDs
	if len(ids) == 0 {
		ids = rs.store.IDs(nil, "")
	}
	return nil, GetStreamsOutput{Results: rs.store.Results(ids)}, nil
}

// mcpSink records tokens in the transcript store and forwards them to the
// client session that started the stream. A failed notification only stops
// further notifications: the transcript keeps filling, so get_streams still
// returns the full text after the client went away.
type mcpSink struct {
	session *mcp.ServerSession
	store   *StreamStore
	logger  *zap.Logger

	silent bool // set after the first failed notification
}

func (s *mcpSink) Token(ctx context.Context, taskID, token string) error {
	if !s.store.AppendToken(taskID, token) {
		return fmt.Errorf("stream %s is not running", taskID)
	}
	s.notify(ctx, taskID, tokenLogger, tokenEvent{TaskID: taskID, Token: token})
	return nil
}

func (s *mcpSink) Finished(ctx context.Context, taskID string) {
	s.store.SetCompleted(taskID)
	s.notify(ctx, taskID, doneLogger, doneEvent{TaskID: taskID})
}

func (s *mcpSink) notify(ctx context.Context, taskID, logger string, data any) {
	if s.session == nil || s.silent {
		return
	}
	err := s.session.Log(ctx, &mcp.LoggingMessageParams{
		Level:  "info",
		Logger: logger,
		Data:   data,
	})
	if err != nil {
		s.silent = true
		s.logger.Info("client stopped accepting notifications", zap.String("task_id", taskID), zap.Error(err))
	}
}
