package types

import (
	"encoding/json"
	"time"
)

// ModelDescriptor describes a model served by the local backend and advertised to the pool.
type ModelDescriptor struct {
	// Model name as reported by the backend.
	// example: llama3:8b
	Name string `json:"name" example:"llama3:8b"`
	// Whether the model produces embeddings.
	SupportsEmbedding bool `json:"supports_embedding"`
	// Whether the model accepts image input.
	SupportsVision bool `json:"supports_vision"`
	// Whether the model accepts audio input.
	SupportsAudio bool `json:"supports_audio"`
	// Maximum concurrent requests this host accepts for the model.
	// example: 2
	MaxConcurrent int `json:"max_concurrent" example:"2"`
	// Context window in tokens.
	// example: 4096
	ContextLength int `json:"context_length" example:"4096"`
	// Quantization label reported by the backend.
	// example: Q4_K_M
	Quantization string `json:"quantization" example:"Q4_K_M"`
	// Model family, when the backend reports one.
	Family string `json:"family,omitempty"`
	// Size on disk in bytes.
	Size int64 `json:"size,omitempty"`
	// Whether the model is currently offered to the pool.
	Enabled bool `json:"enabled"`
}

// CatalogSnapshot is a set of models discovered at a point in time.
type CatalogSnapshot struct {
	Models    []ModelDescriptor `json:"models"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Fresh reports whether the snapshot is younger than ttl at now.
func (s CatalogSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	if s.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(s.FetchedAt) < ttl
}

// TaskType selects how a work item is executed.
type TaskType string

const (
	TaskChat           TaskType = "chat"
	TaskEmbedding      TaskType = "embedding"
	TaskModelDiscovery TaskType = "model_discovery"
)

// WorkItem is a unit of inference work handed out by the pool coordinator.
// Older coordinators send chat messages at the top level and omit task_type.
type WorkItem struct {
	WorkID   string          `json:"work_id"`
	TaskType TaskType        `json:"task_type,omitempty"`
	Model    string          `json:"model,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Messages json.RawMessage `json:"messages,omitempty"`
	Input    string          `json:"input,omitempty"`
	Prompt   string          `json:"prompt,omitempty"`
	Params   map[string]any  `json:"params,omitempty"`
}

// Kind returns the task type, defaulting to chat.
func (w WorkItem) Kind() TaskType {
	if w.TaskType == "" {
		return TaskChat
	}
	return w.TaskType
}

// WorkResult carries either a result payload or an error reason for one work item.
type WorkResult struct {
	WorkID string          `json:"work_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(workID string, payload json.RawMessage) WorkResult {
	return WorkResult{WorkID: workID, Result: payload}
}

// Failure builds a failed result.
func Failure(workID, reason string) WorkResult {
	if reason == "" {
		reason = "unknown error"
	}
	return WorkResult{WorkID: workID, Error: reason}
}

// OK reports whether the result is a success.
func (r WorkResult) OK() bool { return r.Error == "" }
