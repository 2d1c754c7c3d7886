// Package stream relays token-streamed chat responses from an upstream Ollama
// server to a consumer. A Manager starts one background Task per request,
// each registered by ID in a Registry so it can be cancelled while in flight.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// DefaultBufferSize is the token channel capacity of each task.
const DefaultBufferSize = 256

// Upstream opens a streaming chat request. The returned body must stay
// readable until ctx is cancelled or the stream ends.
type Upstream interface {
	OpenChatStream(ctx context.Context, model string, messages []api.Message) (io.ReadCloser, error)
}

// Manager is the consumer-facing entry point: start, relay and cancel.
type Manager struct {
	upstream     Upstream
	registry     *Registry
	logger       *zap.Logger
	metrics      *Metrics
	bufferSize   int
	stallTimeout time.Duration

	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithBufferSize sets the per-task token channel capacity. Values below 1
// are ignored.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// WithStallTimeout ends a stream whose upstream sends nothing for d.
// Zero waits forever.
func WithStallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stallTimeout = d }
}

// NewManager creates a manager. The registry is shared with whatever else
// needs to see live tasks; the manager never creates one of its own.
func NewManager(up Upstream, reg *Registry, opts ...Option) *Manager {
	m := &Manager{
		upstream:   up,
		registry:   reg,
		logger:     zap.NewNop(),
		bufferSize: DefaultBufferSize,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StartStream registers a task and opens its upstream chat stream. The task
// is Running, and cancellable by ID, from the moment it is registered, so an
// open that hangs while the model loads can still be aborted with Cancel or
// by ending ctx. A connection or status failure is returned here and the
// task is deregistered. After a successful return, upstream failures only
// end the stream early.
//
// Past the open, ctx bounds nothing: the task outlives it and keeps ctx's
// values only.
func (m *Manager) StartStream(ctx context.Context, model string, messages []api.Message) (*Task, error) {
	id := uuid.NewString()
	tctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))

	t := &Task{
		id:           id,
		model:        model,
		ctx:          tctx,
		cancel:       cancel,
		out:          make(chan string, m.bufferSize),
		done:         make(chan struct{}),
		registry:     m.registry,
		stallTimeout: m.stallTimeout,
		metrics:      m.metrics,
		logger:       m.logger,
	}

	m.registry.Register(id, t)
	t.state.CompareAndSwap(int32(StateCreated), int32(StateRunning))
	m.metrics.streamStarted()

	// The caller may give up while the request is in flight.
	unlink := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	body, err := m.upstream.OpenChatStream(tctx, model, messages)
	if !unlink() {
		if err == nil {
			_ = body.Close()
		}
		err = context.Cause(ctx)
	} else if err != nil && tctx.Err() != nil {
		// Aborted by ID mid-open: report why, not the transport's view of it.
		err = context.Cause(tctx)
	}
	if err != nil {
		m.abandon(t, err)
		return nil, fmt.Errorf("start stream: %w", err)
	}

	m.logger.Info("stream started", zap.String("task_id", id), zap.String("model", model), zap.Int("messages", len(messages)))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.run(body)
	}()
	return t, nil
}

// abandon tears down a task whose upstream never opened. A Cancel that came
// first has already removed and counted it.
func (m *Manager) abandon(t *Task, err error) {
	if _, ok := m.registry.Remove(t.id); ok {
		t.state.CompareAndSwap(int32(StateRunning), int32(StateCompleted))
		t.outcome.CompareAndSwap(nil, OutcomeError)
		m.metrics.streamFinished(OutcomeError)
	}
	m.metrics.streamStopped()
	t.cancel(err)
	close(t.out)
	close(t.done)
	m.logger.Info("stream open failed", zap.String("task_id", t.id), zap.String("model", t.model), zap.Error(err))
}

// Stream starts a task and relays it to sink on its own goroutine. It returns
// the task ID as soon as the upstream has accepted the request.
func (m *Manager) Stream(ctx context.Context, model string, messages []api.Message, sink Sink) (string, error) {
	t, err := m.StartStream(ctx, model, messages)
	if err != nil {
		return "", err
	}
	m.Attach(ctx, t, sink)
	return t.ID(), nil
}

// Attach relays t to sink on its own goroutine. Use it instead of Stream when
// the consumer must prepare for the task ID before the first token arrives.
// A task must be attached at most once.
func (m *Manager) Attach(ctx context.Context, t *Task, sink Sink) {
	rctx := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res := Relay(rctx, t, sink)
		m.metrics.tokensRelayed(res.Forwarded)
		if res.Detached {
			m.logger.Info("consumer detached", zap.String("task_id", t.ID()), zap.Error(res.Err))
		}
	}()
}

// Cancel aborts the running task with the given ID. It returns false when no
// such task is running, including after it finished or was already cancelled.
func (m *Manager) Cancel(id string) bool {
	ok := m.registry.AbortAndRemove(id)
	m.logger.Info("stream cancel", zap.String("task_id", id), zap.Bool("found", ok))
	return ok
}

// Running returns the IDs of the tasks still reading upstream.
func (m *Manager) Running() []string {
	return m.registry.IDs()
}

// Shutdown aborts every running task and waits for tasks and relays to
// return, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	n := m.registry.AbortAll()
	if n > 0 {
		m.logger.Info("aborted running streams", zap.Int("count", n))
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
