// Package backend talks to the local inference backend (Ollama HTTP API).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxBody caps how much of a backend response is read into memory.
const maxBody = 32 << 20

// Options tunes per-call timeouts. Zero values take package defaults.
type Options struct {
	ConnectTimeout time.Duration
	TagsTimeout    time.Duration
	ChatTimeout    time.Duration
	EmbedTimeout   time.Duration
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTagsTimeout    = 10 * time.Second
	defaultChatTimeout    = 120 * time.Second
	defaultEmbedTimeout   = 60 * time.Second
)

// Client is an HTTP client for one backend base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
}

// New constructs a backend client.
func New(baseURL string, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.TagsTimeout <= 0 {
		opts.TagsTimeout = defaultTagsTimeout
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = defaultChatTimeout
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = defaultEmbedTimeout
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout stays 0: every call carries a context deadline instead.
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: tr},
		opts:       opts,
	}
}

// TagModel is one entry of GET /api/tags.
type TagModel struct {
	Name       string     `json:"name"`
	Model      string     `json:"model,omitempty"`
	Size       int64      `json:"size"`
	ModifiedAt string     `json:"modified_at,omitempty"`
	Details    TagDetails `json:"details"`
}

// TagDetails carries the model metadata Ollama reports.
type TagDetails struct {
	Format            string `json:"format,omitempty"`
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

type tagsResponse struct {
	Models []TagModel `json:"models"`
}

// ListModels returns the models installed in the backend.
func (c *Client) ListModels(ctx context.Context) ([]TagModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TagsTimeout)
	defer cancel()
	body, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var out tagsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return out.Models, nil
}

// Chat sends a chat completion and resolves the single or streamed reply.
// params are merged into the request; model and messages always win.
func (c *Client) Chat(ctx context.Context, model string, messages json.RawMessage, params map[string]any) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ChatTimeout)
	defer cancel()
	payload := make(map[string]any, len(params)+2)
	for k, v := range params {
		payload[k] = v
	}
	payload["model"] = model
	payload["messages"] = messages
	body, err := c.do(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		return Response{}, err
	}
	return ParseResponse(body)
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text. An empty vector is an error.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.EmbedTimeout)
	defer cancel()
	body, err := c.do(ctx, http.MethodPost, "/api/embeddings", embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, err
	}
	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(out.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return out.Embedding, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("backend %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("backend %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError{path: path, code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("backend %s: read body: %w", path, err)
	}
	return body, nil
}
