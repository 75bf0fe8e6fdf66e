// Package dispatch executes work items against the local backend and reports
// each result to the coordinator exactly once.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"andyhost/internal/backend"
	"andyhost/internal/history"
	"andyhost/internal/metrics"
	"andyhost/pkg/types"
)

// DefaultAdmissionWait bounds how long a work item waits for a model slot.
const DefaultAdmissionWait = 30 * time.Second

// Backend is the local inference backend.
type Backend interface {
	Chat(ctx context.Context, model string, messages json.RawMessage, params map[string]any) (backend.Response, error)
	Embed(ctx context.Context, model, text string) ([]float64, error)
}

// Catalog supplies the enabled models.
type Catalog interface {
	Models(ctx context.Context) []types.ModelDescriptor
	Lookup(ctx context.Context, name string) (types.ModelDescriptor, bool)
}

// Submitter delivers results to the coordinator.
type Submitter interface {
	Submit(ctx context.Context, res types.WorkResult) error
}

// Config tunes the dispatcher.
type Config struct {
	AdmissionWait time.Duration
	// History receives one entry per handled work item; nil disables recording.
	History history.Recorder
}

// Dispatcher runs work items.
type Dispatcher struct {
	backend  Backend
	catalog  Catalog
	submit   Submitter
	history  history.Recorder
	adm      *admission
	log      zerolog.Logger
	inflight atomic.Int64
}

// New builds a dispatcher.
func New(b Backend, cat Catalog, sub Submitter, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = DefaultAdmissionWait
	}
	rec := cfg.History
	if rec == nil {
		rec = history.Nop{}
	}
	return &Dispatcher{
		backend: b,
		catalog: cat,
		submit:  sub,
		history: rec,
		adm:     newAdmission(cfg.AdmissionWait),
		log:     log.With().Str("component", "dispatch").Logger(),
	}
}

// InFlight returns the number of work items currently being handled.
func (d *Dispatcher) InFlight() int { return int(d.inflight.Load()) }

// Handle dispatches item, submits the result once and records it. Submission
// failures are logged and not retried.
func (d *Dispatcher) Handle(ctx context.Context, item types.WorkItem) types.WorkResult {
	d.inflight.Add(1)
	metrics.WorkStarted()
	defer func() {
		d.inflight.Add(-1)
		metrics.WorkFinished()
	}()

	task := item.Kind()
	log := d.log.With().Str("work_id", item.WorkID).Str("task_type", string(task)).Str("model", item.Model).Logger()
	start := time.Now()
	res, tokens, runErr := d.run(ctx, item)
	dur := time.Since(start)
	outcome := outcomeOf(runErr)
	metrics.WorkDone(string(task), outcome, dur)

	if err := d.submit.Submit(ctx, res); err != nil {
		metrics.Submission(false)
		log.Error().Err(err).Msg("result submission failed")
	} else {
		metrics.Submission(true)
	}

	entry := history.Entry{
		WorkID:       item.WorkID,
		Model:        item.Model,
		RequestType:  string(task),
		Tokens:       tokens,
		ResponseTime: dur,
		Success:      res.OK(),
		Error:        res.Error,
	}
	if err := d.history.Record(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("history record failed")
	}

	ev := log.Info()
	if !res.OK() {
		ev = log.Warn().Str("error", res.Error)
	}
	ev.Dur("dur", dur).Str("outcome", outcome).Msg("work item done")
	return res
}

// outcomeOf labels a dispatch error for metrics and logs.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsTooBusy(err):
		return "busy"
	case IsModelNotEnabled(err), IsUnknownTask(err), backend.IsStatus(err, http.StatusNotFound):
		return "rejected"
	default:
		return "failure"
	}
}

// Dispatch executes item and converts every error or panic into a failed result.
func (d *Dispatcher) Dispatch(ctx context.Context, item types.WorkItem) types.WorkResult {
	res, _, _ := d.run(ctx, item)
	return res
}

func (d *Dispatcher) run(ctx context.Context, item types.WorkItem) (res types.WorkResult, tokens int, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("work_id", item.WorkID).Interface("panic", r).Msg("dispatch panicked")
			err = fmt.Errorf("panic: %v", r)
			res, tokens = types.Failure(item.WorkID, err.Error()), 0
		}
	}()
	payload, tokens, err := d.execute(ctx, item)
	if err != nil {
		return types.Failure(item.WorkID, err.Error()), 0, err
	}
	return types.Success(item.WorkID, payload), tokens, nil
}

func (d *Dispatcher) execute(ctx context.Context, item types.WorkItem) (json.RawMessage, int, error) {
	switch task := item.Kind(); task {
	case types.TaskModelDiscovery:
		b, err := json.Marshal(d.catalog.Models(ctx))
		return b, 0, err
	case types.TaskChat, types.TaskEmbedding:
		desc, err := d.lookup(ctx, item.Model)
		if err != nil {
			return nil, 0, err
		}
		release, err := d.adm.acquire(ctx, desc.Name, desc.MaxConcurrent)
		if err != nil {
			return nil, 0, err
		}
		defer release()
		if task == types.TaskChat {
			return d.chat(ctx, item)
		}
		return d.embed(ctx, item)
	default:
		return nil, 0, unknownTaskError{task: string(task)}
	}
}

func (d *Dispatcher) lookup(ctx context.Context, model string) (types.ModelDescriptor, error) {
	m, ok := d.catalog.Lookup(ctx, model)
	if !ok {
		return types.ModelDescriptor{}, modelNotEnabledError{model: model}
	}
	return m, nil
}

func (d *Dispatcher) chat(ctx context.Context, item types.WorkItem) (json.RawMessage, int, error) {
	messages := chatMessages(item)
	if len(messages) == 0 {
		return nil, 0, fmt.Errorf("chat: %w", errNoInput)
	}
	resp, err := d.backend.Chat(ctx, item.Model, messages, item.Params)
	if err != nil {
		return nil, 0, fmt.Errorf("chat: %w", err)
	}
	return resp.Final, resp.Tokens(), nil
}

func (d *Dispatcher) embed(ctx context.Context, item types.WorkItem) (json.RawMessage, int, error) {
	text := embedText(item)
	if text == "" {
		return nil, 0, fmt.Errorf("embedding: %w", errNoInput)
	}
	vec, err := d.backend.Embed(ctx, item.Model, text)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: %w", err)
	}
	if len(vec) == 0 {
		return nil, 0, fmt.Errorf("embedding: %w", backend.ErrEmptyEmbedding)
	}
	b, err := json.Marshal(map[string]any{"embedding": vec})
	return b, 0, err
}

// chatMessages finds the messages either at the top level or in the payload,
// which may be the array itself or an object with a messages field.
func chatMessages(item types.WorkItem) json.RawMessage {
	if isPresent(item.Messages) {
		return item.Messages
	}
	if !isPresent(item.Payload) {
		return nil
	}
	var arr []json.RawMessage
	if json.Unmarshal(item.Payload, &arr) == nil {
		return item.Payload
	}
	var obj struct {
		Messages json.RawMessage `json:"messages"`
	}
	if json.Unmarshal(item.Payload, &obj) == nil && isPresent(obj.Messages) {
		return obj.Messages
	}
	return nil
}

// embedText takes input, then prompt, then the payload as a string or an
// object with input, prompt or text.
func embedText(item types.WorkItem) string {
	if item.Input != "" {
		return item.Input
	}
	if item.Prompt != "" {
		return item.Prompt
	}
	if !isPresent(item.Payload) {
		return ""
	}
	var s string
	if json.Unmarshal(item.Payload, &s) == nil {
		return s
	}
	var obj struct {
		Input  string `json:"input"`
		Prompt string `json:"prompt"`
		Text   string `json:"text"`
	}
	if json.Unmarshal(item.Payload, &obj) != nil {
		return ""
	}
	for _, v := range []string{obj.Input, obj.Prompt, obj.Text} {
		if v != "" {
			return v
		}
	}
	return ""
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
