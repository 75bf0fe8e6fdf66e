package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"andyhost/internal/pool/pooltest"
)

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"m1","details":{"quantization_level":"Q4_0"}},{"name":"nomic-embed-text"}]}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return p
}

// fastConfig keeps retry delays and intervals short.
func fastConfig(t *testing.T, extra string) string {
	return writeTempFile(t, "andyhost.yaml", `
verify_delay: 1ms
confirm_delay: 1ms
heartbeat_interval: 20ms
poll_interval: 5ms
idle_interval: 5ms
shutdown_timeout: 2s
log_level: error
`+extra)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ANDY_API_URL", "OLLAMA_URL", "ANDYHOST_LOG_LEVEL", "ANDYHOST_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		" warn ":  zerolog.WarnLevel,
		"err":     zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
		t.Fatalf("unexpected log output: %q", out)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearEnv(t)
	path := writeTempFile(t, "c.yaml", "pool_url: http://file-pool\nbackend_url: http://file-backend\nlog_level: debug\n")
	t.Setenv("OLLAMA_URL", "http://env-backend")
	cfg, err := loadConfig(&flags{configPath: path, poolURL: "http://flag-pool"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PoolURL != "http://flag-pool" {
		t.Fatalf("pool_url = %q, want flag value", cfg.PoolURL)
	}
	if cfg.BackendURL != "http://env-backend" {
		t.Fatalf("backend_url = %q, want env value", cfg.BackendURL)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want file value", cfg.LogLevel)
	}
	if cfg.Addr != ":5000" {
		t.Fatalf("addr default = %q", cfg.Addr)
	}
}

func TestLoadConfig_InvalidURL(t *testing.T) {
	clearEnv(t)
	if _, err := loadConfig(&flags{poolURL: "not a url"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestModelsCommand(t *testing.T) {
	clearEnv(t)
	ollama := fakeOllama(t)
	var out bytes.Buffer
	err := Execute(context.Background(), []string{"models", "--config", fastConfig(t, ""), "--backend-url", ollama.URL}, &out, io.Discard)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	got := out.String()
	for _, want := range []string{"NAME", "m1", "Q4_0", "nomic-embed-text"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestModelsCommand_BackendDown(t *testing.T) {
	clearEnv(t)
	ollama := fakeOllama(t)
	ollama.Close()
	err := Execute(context.Background(), []string{"models", "--config", fastConfig(t, ""), "--backend-url", ollama.URL}, io.Discard, io.Discard)
	if err == nil {
		t.Fatalf("expected error when no models are found")
	}
}

func TestJoinCommand(t *testing.T) {
	clearEnv(t)
	coord := pooltest.New()
	defer coord.Close()
	ollama := fakeOllama(t)
	var out bytes.Buffer
	args := []string{"join", "--config", fastConfig(t, ""), "--pool-url", coord.URL, "--backend-url", ollama.URL}
	if err := Execute(context.Background(), args, &out, io.Discard); err != nil {
		t.Fatalf("join: %v", err)
	}
	if strings.TrimSpace(out.String()) != "h1" {
		t.Fatalf("output = %q, want h1", out.String())
	}
	if len(coord.Joins()) != 1 {
		t.Fatalf("joins = %d, want 1", len(coord.Joins()))
	}
}

func TestLeaveCommand(t *testing.T) {
	clearEnv(t)
	coord := pooltest.New()
	defer coord.Close()

	err := Execute(context.Background(), []string{"leave", "--pool-url", coord.URL}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "--host-id") {
		t.Fatalf("expected missing host id error, got %v", err)
	}

	var out bytes.Buffer
	if err := Execute(context.Background(), []string{"leave", "--pool-url", coord.URL, "--host-id", "h9"}, &out, io.Discard); err != nil {
		t.Fatalf("leave: %v", err)
	}
	leaves := coord.Leaves()
	if len(leaves) != 1 || leaves[0].HostID != "h9" {
		t.Fatalf("leaves = %+v", leaves)
	}
	if !strings.Contains(out.String(), "h9") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestPoolStatusCommand(t *testing.T) {
	clearEnv(t)
	coord := pooltest.New()
	defer coord.Close()
	var out bytes.Buffer
	if err := Execute(context.Background(), []string{"pool-status", "--pool-url", coord.URL}, &out, io.Discard); err != nil {
		t.Fatalf("pool-status: %v", err)
	}
	if !strings.Contains(out.String(), `"hosts": 1`) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunCommand_JoinsAndLeavesOnCancel(t *testing.T) {
	clearEnv(t)
	coord := pooltest.New()
	defer coord.Close()
	ollama := fakeOllama(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	args := []string{"run", "--config", fastConfig(t, "addr: 127.0.0.1:0\n"), "--pool-url", coord.URL, "--backend-url", ollama.URL}
	go func() { done <- Execute(ctx, args, io.Discard, io.Discard) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(coord.Pings()) < 2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("agent never reached heartbeats")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	leaves := coord.Leaves()
	if len(leaves) != 1 || leaves[0].HostID != "h1" {
		t.Fatalf("leaves = %+v", leaves)
	}
}
