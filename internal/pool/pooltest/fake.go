// Package pooltest provides an in-process fake pool coordinator for tests.
package pooltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"andyhost/pkg/types"
)

// Coordinator is a scripted fake of the Andy API pool endpoints.
// Queued statuses are consumed one per call; when a queue is empty the
// matching default applies.
type Coordinator struct {
	*httptest.Server

	mu sync.Mutex

	JoinStatus   int
	JoinHostIDs  []string
	PingQueue    []int
	PingDefault  int
	PollQueue    []PollReply
	PollDefault  int
	SubmitStatus int

	joins       []types.JoinRequest
	pings       []types.PingRequest
	leaves      []types.LeaveRequest
	polls       []types.PollRequest
	pollPaths   []string
	submissions []types.WorkResult
}

// PollReply is one scripted answer to a poll.
type PollReply struct {
	Status int
	Item   *types.WorkItem
}

// New starts a fake coordinator that accepts joins as "h1", acks pings and has no work.
func New() *Coordinator {
	c := &Coordinator{
		JoinStatus:   http.StatusOK,
		PingDefault:  http.StatusOK,
		PollDefault:  http.StatusNoContent,
		SubmitStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/andy/join_pool", c.handleJoin)
	mux.HandleFunc("/api/andy/ping_pool", c.handlePing)
	mux.HandleFunc("/api/andy/leave_pool", c.handleLeave)
	mux.HandleFunc("/api/andy/check_for_work", c.handlePoll)
	mux.HandleFunc("/api/andy/poll_for_work", c.handlePoll)
	mux.HandleFunc("/api/andy/submit_work_result", c.handleSubmit)
	mux.HandleFunc("/api/andy/pool_status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"hosts": 1})
	})
	c.Server = httptest.NewServer(mux)
	return c
}

func (c *Coordinator) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	c.joins = append(c.joins, req)
	status := c.JoinStatus
	hostID := "h1"
	if len(c.JoinHostIDs) > 0 {
		hostID = c.JoinHostIDs[0]
		c.JoinHostIDs = c.JoinHostIDs[1:]
	}
	c.mu.Unlock()
	if status != http.StatusOK {
		writeJSON(w, status, map[string]any{"error": "rejected"})
		return
	}
	writeJSON(w, http.StatusOK, types.JoinResponse{HostID: hostID, PoolSize: 1, PingInterval: 30})
}

func (c *Coordinator) handlePing(w http.ResponseWriter, r *http.Request) {
	var req types.PingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	c.pings = append(c.pings, req)
	status := c.PingDefault
	if len(c.PingQueue) > 0 {
		status = c.PingQueue[0]
		c.PingQueue = c.PingQueue[1:]
	}
	c.mu.Unlock()
	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK})
}

func (c *Coordinator) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req types.LeaveRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	c.leaves = append(c.leaves, req)
	c.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (c *Coordinator) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req types.PollRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	c.polls = append(c.polls, req)
	c.pollPaths = append(c.pollPaths, r.URL.Path)
	reply := PollReply{Status: c.PollDefault}
	if len(c.PollQueue) > 0 {
		reply = c.PollQueue[0]
		c.PollQueue = c.PollQueue[1:]
	}
	c.mu.Unlock()
	if reply.Status == http.StatusOK && reply.Item != nil {
		writeJSON(w, http.StatusOK, reply.Item)
		return
	}
	w.WriteHeader(reply.Status)
}

func (c *Coordinator) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var res types.WorkResult
	_ = json.NewDecoder(r.Body).Decode(&res)
	c.mu.Lock()
	c.submissions = append(c.submissions, res)
	status := c.SubmitStatus
	c.mu.Unlock()
	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK})
}

// Script mutates the fake under its lock.
func (c *Coordinator) Script(fn func(c *Coordinator)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *Coordinator) Joins() []types.JoinRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.JoinRequest(nil), c.joins...)
}

func (c *Coordinator) Pings() []types.PingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.PingRequest(nil), c.pings...)
}

func (c *Coordinator) Leaves() []types.LeaveRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.LeaveRequest(nil), c.leaves...)
}

func (c *Coordinator) Polls() []types.PollRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.PollRequest(nil), c.polls...)
}

func (c *Coordinator) PollPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pollPaths...)
}

func (c *Coordinator) Submissions() []types.WorkResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.WorkResult(nil), c.submissions...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
