package backend

import (
	"bytes"
	"encoding/json"
)

// Kind tells how a backend reply was shaped on the wire.
type Kind int

const (
	// KindSingle is one JSON object.
	KindSingle Kind = iota + 1
	// KindStream is newline-delimited JSON fragments, one per token or step.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Response is a resolved backend reply. Final is the whole object for
// KindSingle and the last well-formed line for KindStream.
type Response struct {
	Kind  Kind
	Final json.RawMessage
	// Lines counts well-formed fragments in a stream.
	Lines int
}

// ParseResponse resolves a reply body into a Response.
func ParseResponse(body []byte) (Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Response{}, ErrUnparseable
	}
	if isObject(trimmed) {
		return Response{Kind: KindSingle, Final: json.RawMessage(trimmed), Lines: 1}, nil
	}
	var last []byte
	n := 0
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if isObject(line) {
			last = line
			n++
		}
	}
	if last == nil {
		return Response{}, ErrUnparseable
	}
	return Response{Kind: KindStream, Final: json.RawMessage(last), Lines: n}, nil
}

func isObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

// chatStats is the subset of an Ollama chat reply used for accounting.
type chatStats struct {
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Tokens returns prompt plus completion tokens reported in the final fragment.
func (r Response) Tokens() int {
	var s chatStats
	if err := json.Unmarshal(r.Final, &s); err != nil {
		return 0
	}
	return s.PromptEvalCount + s.EvalCount
}
