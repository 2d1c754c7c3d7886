package stream

// Fragment is what one Record contributes to a stream.
type Fragment struct {
	Token string // empty when the record carries no text
	Done  bool   // upstream will send nothing further
	Err   string // upstream-reported error, never forwarded as a token
}

// HasToken reports whether the fragment carries text for the consumer.
func (f Fragment) HasToken() bool { return f.Token != "" }

// Interpret extracts the token from a record. Non-empty chat message content
// wins over the flat response field; a record with neither yields no token.
func Interpret(r Record) Fragment {
	f := Fragment{Done: r.Done, Err: r.Error}
	switch {
	case r.Message != nil && r.Message.Content != "":
		f.Token = r.Message.Content
	case r.Response != nil:
		f.Token = *r.Response
	}
	return f
}
