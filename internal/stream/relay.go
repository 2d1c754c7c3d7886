package stream

import "context"

// Sink is the external consumer of a stream.
type Sink interface {
	// Token delivers one token. An error means the consumer has gone away;
	// no further tokens are offered to it.
	Token(ctx context.Context, taskID, token string) error
	// Finished is called exactly once, after the last token.
	Finished(ctx context.Context, taskID string)
}

// RelayResult summarises one relay run.
type RelayResult struct {
	Forwarded int   // tokens accepted by the sink
	Discarded int   // tokens drained but not forwarded
	Detached  bool  // the sink failed and was dropped
	Err       error // the sink error that detached it
}

// Relay forwards the task's tokens to sink in receipt order until the task
// closes its channel, then emits a single Finished. Once the sink fails, or
// once the task has been aborted, the channel is still drained but nothing
// more is forwarded. Relay never touches the registry.
func Relay(ctx context.Context, t *Task, sink Sink) RelayResult {
	var res RelayResult
	for tok := range t.Tokens() {
		if res.Detached || t.Aborted() {
			res.Discarded++
			continue
		}
		if err := sink.Token(ctx, t.ID(), tok); err != nil {
			res.Detached = true
			res.Err = err
			res.Discarded++
			continue
		}
		res.Forwarded++
	}
	sink.Finished(ctx, t.ID())
	return res
}

// SinkFuncs adapts plain functions to Sink. A nil field is a no-op.
type SinkFuncs struct {
	OnToken    func(ctx context.Context, taskID, token string) error
	OnFinished func(ctx context.Context, taskID string)
}

func (s SinkFuncs) Token(ctx context.Context, taskID, token string) error {
	if s.OnToken == nil {
		return nil
	}
	return s.OnToken(ctx, taskID, token)
}

func (s SinkFuncs) Finished(ctx context.Context, taskID string) {
	if s.OnFinished != nil {
		s.OnFinished(ctx, taskID)
	}
}
