package types

// HostInfo is the capability payload sent when joining the pool.
type HostInfo struct {
	Models       []ModelDescriptor `json:"models"`
	MaxClients   int               `json:"max_clients"`
	Endpoint     string            `json:"endpoint"`
	Capabilities []string          `json:"capabilities"`
	Name         string            `json:"name,omitempty"`
	CPUCores     int               `json:"cpu_cores,omitempty"`
	VRAMTotalGB  float64           `json:"vram_total_gb"`
	VRAMUsedGB   float64           `json:"vram_used_gb"`
}

// JoinRequest is the body of POST /api/andy/join_pool.
type JoinRequest struct {
	Info HostInfo `json:"info"`
}

// JoinResponse is returned by a successful join.
type JoinResponse struct {
	HostID string `json:"host_id"`
	// Number of hosts in the pool after this join, when reported.
	PoolSize int `json:"pool_size,omitempty"`
	// Heartbeat interval suggested by the coordinator, in seconds.
	PingInterval int `json:"ping_interval,omitempty"`
}

// PingRequest is the body of POST /api/andy/ping_pool.
type PingRequest struct {
	HostID      string `json:"host_id"`
	CurrentLoad int    `json:"current_load"`
	Status      string `json:"status"`
}

// LeaveRequest is the body of POST /api/andy/leave_pool.
type LeaveRequest struct {
	HostID string `json:"host_id"`
}

// PollRequest is the body of the work polling endpoints.
type PollRequest struct {
	HostID string   `json:"host_id"`
	Models []string `json:"models"`
}

// StatusResponse is returned by GET /status on the local status API.
type StatusResponse struct {
	// Membership state (unregistered, registering, verifying, registered, degraded).
	// example: registered
	State string `json:"state" example:"registered"`
	// Identity assigned by the coordinator; empty while unregistered.
	// example: host_3f2a
	HostID string `json:"host_id,omitempty" example:"host_3f2a"`
	// When the current state was entered (unix seconds).
	StateSinceUnix int64 `json:"state_since_unix"`
	// Last acknowledged heartbeat (unix seconds, 0 if none).
	LastHeartbeatUnix int64 `json:"last_heartbeat_unix"`
	// Pool size reported at join time.
	PoolSize int `json:"pool_size,omitempty"`
	// Work items currently executing.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Names of models currently offered to the pool.
	EnabledModels []string `json:"enabled_models"`
	// Coordinator and backend endpoints.
	PoolURL    string `json:"pool_url"`
	BackendURL string `json:"backend_url"`
	// Uptime of the process in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// True after a disconnect until the next connect; the host does not rejoin while paused.
	Paused bool `json:"paused"`
}

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	Models []ModelDescriptor `json:"models"`
}

// ModelRequest names a model in the body of POST /models/toggle.
type ModelRequest struct {
	// example: hf.co/org/model:Q4_K_M
	ModelName string `json:"model_name" example:"hf.co/org/model:Q4_K_M"`
}

// ToggleResponse is returned by POST /models/toggle.
type ToggleResponse struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ModelUpdate overrides discovered model settings. Nil fields keep their
// current value; overrides survive catalog refreshes.
type ModelUpdate struct {
	ModelName         string `json:"model_name" example:"llama3:8b"`
	Enabled           *bool  `json:"enabled,omitempty"`
	SupportsEmbedding *bool  `json:"supports_embedding,omitempty"`
	SupportsVision    *bool  `json:"supports_vision,omitempty"`
	SupportsAudio     *bool  `json:"supports_audio,omitempty"`
	MaxConcurrent     *int   `json:"max_concurrent,omitempty" example:"4"`
	ContextLength     *int   `json:"context_length,omitempty" example:"8192"`
}

// RefreshResponse is returned by POST /models/refresh.
type RefreshResponse struct {
	// Number of models discovered after the refresh.
	// example: 3
	Count  int               `json:"count" example:"3"`
	Models []ModelDescriptor `json:"models"`
}

// ConnectionResponse is returned by POST /connect and POST /disconnect.
type ConnectionResponse struct {
	Connected bool   `json:"connected"`
	State     string `json:"state" example:"registered"`
	HostID    string `json:"host_id,omitempty"`
	Paused    bool   `json:"paused"`
}

// HistoryEntry is one executed work item in GET /history.
type HistoryEntry struct {
	ID                  string  `json:"id"`
	WorkID              string  `json:"work_id"`
	TimestampUnix       int64   `json:"timestamp_unix"`
	Model               string  `json:"model"`
	RequestType         string  `json:"request_type" example:"chat"`
	Tokens              int     `json:"tokens"`
	ResponseTimeSeconds float64 `json:"response_time_seconds"`
	Success             bool    `json:"success"`
	Error               string  `json:"error,omitempty"`
}

// HistoryResponse wraps the entries returned by GET /history, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// StatsResponse summarises the local request history.
type StatsResponse struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalTokens        int64   `json:"total_tokens"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
	LastRequestUnix    int64   `json:"last_request_unix,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found
	Error string `json:"error" example:"model not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
