package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// readBufferSize is the size of each read from the upstream body.
const readBufferSize = 32 << 10

var (
	// ErrAborted is the cancellation cause of a task stopped by ID.
	ErrAborted = errors.New("stream aborted")
	// ErrStalled is the cancellation cause of a task whose upstream sent
	// nothing for longer than the stall timeout.
	ErrStalled = errors.New("upstream stalled")
)

// State is the lifecycle position of a Task.
//
// Lifecycle: created -> running -> completed | aborted
//
// No transition goes backwards.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Task is one background relay of an upstream chat stream. It owns the
// upstream body, its decoder and the sending side of the token channel.
// Tokens are delivered on Tokens in upstream order; the channel is closed
// when the task ends for any reason.
type Task struct {
	id    string
	model string

	ctx    context.Context
	cancel context.CancelCauseFunc

	out  chan string
	done chan struct{}

	registry     *Registry
	stallTimeout time.Duration
	metrics      *Metrics
	logger       *zap.Logger

	state   atomic.Int32
	sent    atomic.Int64
	dropped atomic.Int64
	skipped atomic.Int64
	outcome atomic.Value // string
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Model returns the model the task is streaming from.
func (t *Task) Model() string { return t.model }

// Tokens returns the receiving side of the task's token channel.
func (t *Task) Tokens() <-chan string { return t.out }

// Done is closed once the task has stopped reading upstream and closed Tokens.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Aborted reports whether the task was cancelled by ID.
func (t *Task) Aborted() bool { return t.State() == StateAborted }

// Sent is the number of tokens placed on the channel.
func (t *Task) Sent() int64 { return t.sent.Load() }

// Dropped is the number of tokens discarded by the non-blocking send.
func (t *Task) Dropped() int64 { return t.dropped.Load() }

// Skipped is the number of malformed upstream lines ignored.
func (t *Task) Skipped() int64 { return t.skipped.Load() }

// Outcome reports why the task ended; empty while it is running.
func (t *Task) Outcome() string {
	s, _ := t.outcome.Load().(string)
	return s
}

// Abort stops the task: the upstream read is interrupted and no further token
// is sent. Only the registry calls it, from AbortAndRemove or AbortAll, so the
// registry entry is already gone.
func (t *Task) Abort() {
	for {
		s := t.state.Load()
		if State(s) == StateCompleted || State(s) == StateAborted {
			return
		}
		if t.state.CompareAndSwap(s, int32(StateAborted)) {
			break
		}
	}
	t.outcome.CompareAndSwap(nil, OutcomeAborted)
	t.cancel(ErrAborted)
	t.metrics.streamFinished(OutcomeAborted)
}

// run reads body until the stream ends, then deregisters and closes the
// token channel.
func (t *Task) run(body io.ReadCloser) {
	defer close(t.done)
	defer t.metrics.streamStopped()

	// Closing the body unblocks a pending Read when the task is cancelled.
	stop := context.AfterFunc(t.ctx, func() { _ = body.Close() })
	defer stop()

	var stall *time.Timer
	if t.stallTimeout > 0 {
		stall = time.AfterFunc(t.stallTimeout, func() { t.cancel(ErrStalled) })
	}

	outcome := t.pump(body, stall)

	if stall != nil {
		stall.Stop()
	}
	_ = body.Close()
	t.finish(outcome)
}

// pump feeds upstream chunks through the decoder and interpreter until a
// completion flag, EOF, a read error or cancellation.
func (t *Task) pump(body io.Reader, stall *time.Timer) string {
	dec := NewDecoder(Lenient)
	defer func() {
		n := dec.Skipped()
		t.skipped.Store(int64(n))
		t.metrics.recordsSkipped(n)
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if stall != nil {
				stall.Reset(t.stallTimeout)
			}
			if t.ctx.Err() != nil {
				return t.cancelOutcome()
			}
			for rec := range dec.Feed(buf[:n]) {
				frag := Interpret(rec)
				if frag.Err != "" {
					t.logger.Warn("upstream reported error", zap.String("task_id", t.id), zap.String("error", frag.Err))
				}
				if frag.HasToken() {
					t.send(frag.Token)
				}
				if frag.Done {
					// Anything still buffered after the completion flag is discarded.
					return OutcomeDone
				}
			}
		}
		if err != nil {
			if t.ctx.Err() != nil {
				return t.cancelOutcome()
			}
			if errors.Is(err, io.EOF) {
				return OutcomeEOF
			}
			t.logger.Debug("upstream read failed", zap.String("task_id", t.id), zap.Error(err))
			return OutcomeError
		}
	}
}

// send is a try-send: when the buffer is full or the task is aborted the
// token is dropped instead of blocking the upstream reader.
func (t *Task) send(token string) {
	if t.ctx.Err() != nil {
		t.dropped.Add(1)
		t.metrics.tokenDropped()
		return
	}
	select {
	case t.out <- token:
		t.sent.Add(1)
	default:
		t.dropped.Add(1)
		t.metrics.tokenDropped()
	}
}

func (t *Task) cancelOutcome() string {
	if errors.Is(context.Cause(t.ctx), ErrStalled) {
		return OutcomeStalled
	}
	return OutcomeAborted
}

// finish removes the task from the registry unless a cancellation already
// did, then closes the token channel. The registry decides the winner.
func (t *Task) finish(outcome string) {
	if _, ok := t.registry.Remove(t.id); ok {
		t.state.CompareAndSwap(int32(StateRunning), int32(StateCompleted))
		t.outcome.CompareAndSwap(nil, outcome)
		t.metrics.streamFinished(outcome)
	}
	// Release the context without overwriting an abort cause.
	t.cancel(context.Canceled)
	close(t.out)

	t.logger.Debug("stream finished",
		zap.String("task_id", t.id),
		zap.String("model", t.model),
		zap.String("state", t.State().String()),
		zap.String("outcome", t.Outcome()),
		zap.Int64("tokens", t.Sent()),
		zap.Int64("dropped", t.Dropped()),
		zap.Int64("skipped", t.Skipped()),
	)
}
