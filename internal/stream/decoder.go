package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/ollama/ollama/api"
)

// Policy selects what the decoder does with a line that is not valid JSON.
// Only lines that fail to parse as JSON are malformed; a well-formed line
// with unexpected field types still decodes.
type Policy int

const (
	// Lenient skips malformed lines and counts them. Streaming tasks use it:
	// framing noise from the upstream server must not end the stream.
	Lenient Policy = iota
	// Strict ends the sequence at the first malformed line and records it in
	// Err. Streaming never uses it; it exists for tests and for diagnosing a
	// misbehaving upstream.
	Strict
)

func (p Policy) String() string {
	switch p {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Record is one decoded line of an Ollama NDJSON response. Chat streams fill
// Message, generate streams fill Response.
type Record struct {
	Message    *api.Message `json:"message,omitempty"`
	Response   *string      `json:"response,omitempty"`
	Done       bool         `json:"done"`
	DoneReason string       `json:"done_reason,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// UnmarshalJSON reads each field on its own. A field of an unexpected type is
// left empty instead of rejecting the line, so a completion flag is honoured
// even next to a garbled token. Valid JSON that is not an object decodes to
// an empty Record.
func (r *Record) UnmarshalJSON(data []byte) error {
	*r = Record{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if json.Valid(data) {
			return nil
		}
		return err
	}

	if raw, ok := fields["message"]; ok {
		var msg map[string]json.RawMessage
		if json.Unmarshal(raw, &msg) == nil && msg != nil {
			role, _ := field[string](msg, "role")
			content, _ := field[string](msg, "content")
			r.Message = &api.Message{Role: role, Content: content}
		}
	}
	if resp, ok := field[string](fields, "response"); ok {
		r.Response = &resp
	}
	r.Done, _ = field[bool](fields, "done")
	r.DoneReason, _ = field[string](fields, "done_reason")
	r.Error, _ = field[string](fields, "error")
	return nil
}

// field decodes fields[key] as T. Absent, null and mistyped values report
// false.
func field[T any](fields map[string]json.RawMessage, key string) (T, bool) {
	var v T
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// MalformedError describes a line rejected under the Strict policy.
type MalformedError struct {
	Line string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed record %q: %v", e.Line, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Decoder turns byte chunks of arbitrary size into Records, one per complete
// newline-terminated line. Lines are split on raw bytes before any text
// decoding, so a multi-byte character cut by a chunk boundary is reassembled
// intact. Invalid UTF-8 inside a complete line is replaced with U+FFFD.
//
// A Decoder is owned by a single goroutine. It cannot be rewound; build a new
// one to start over.
type Decoder struct {
	policy  Policy
	buf     []byte
	start   int // offset of the first unconsumed byte in buf
	skipped int
	err     error
}

// NewDecoder returns an empty decoder using policy p.
func NewDecoder(p Policy) *Decoder {
	return &Decoder{policy: p}
}

// Feed appends chunk to the internal buffer and returns the records of every
// line completed so far. The sequence is lazy: lines are consumed only as the
// caller ranges over it, and lines left when the caller stops early remain
// buffered. A trailing partial line always stays buffered for the next chunk.
func (d *Decoder) Feed(chunk []byte) iter.Seq[Record] {
	if d.err == nil {
		d.buf = append(d.buf, chunk...)
	}
	return func(yield func(Record) bool) {
		defer d.compact()
		for d.err == nil {
			i := bytes.IndexByte(d.buf[d.start:], '\n')
			if i < 0 {
				return
			}
			line := d.buf[d.start : d.start+i]
			d.start += i + 1

			rec, ok := d.parse(line)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Skipped reports how many malformed lines were dropped under Lenient.
func (d *Decoder) Skipped() int { return d.skipped }

// Err returns the line that stopped a Strict decoder, if any.
func (d *Decoder) Err() error { return d.err }

// Buffered reports the number of bytes waiting for a newline.
func (d *Decoder) Buffered() int { return len(d.buf) - d.start }

func (d *Decoder) parse(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Record{}, false
	}
	text := strings.ToValidUTF8(string(line), "\uFFFD")

	var rec Record
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		if d.policy == Strict {
			d.err = &MalformedError{Line: text, Err: err}
		} else {
			d.skipped++
		}
		return Record{}, false
	}
	return rec, true
}

func (d *Decoder) compact() {
	if d.start == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.start:])
	d.buf = d.buf[:n]
	d.start = 0
}
