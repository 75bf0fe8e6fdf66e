package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	entries := []Entry{
		{WorkID: "w1", Timestamp: base, Model: "m1", RequestType: "chat", Tokens: 10, ResponseTime: time.Second, Success: true},
		{WorkID: "w2", Timestamp: base.Add(time.Second), Model: "m1", RequestType: "embedding", ResponseTime: 3 * time.Second, Success: false, Error: "boom"},
		{WorkID: "w3", Timestamp: base.Add(2 * time.Second), Model: "m2", RequestType: "chat", Tokens: 5, ResponseTime: 2 * time.Second, Success: true},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.WorkID, err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalRequests != 3 || st.SuccessfulRequests != 2 || st.FailedRequests != 1 || st.TotalTokens != 15 {
		t.Fatalf("stats = %+v", st)
	}
	if st.AvgResponseSeconds < 1.99 || st.AvgResponseSeconds > 2.01 {
		t.Fatalf("avg = %v", st.AvgResponseSeconds)
	}
	if st.LastRequestUnix != base.Add(2*time.Second).Unix() {
		t.Fatalf("last = %d", st.LastRequestUnix)
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].WorkID != "w3" || recent[1].WorkID != "w2" {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[1].Success || recent[1].Error != "boom" || recent[1].ResponseTime != 3*time.Second {
		t.Fatalf("round trip lost fields: %+v", recent[1])
	}
	if recent[0].ID == "" {
		t.Fatalf("id not assigned")
	}
}

func TestStore_EmptyStats(t *testing.T) {
	s := openTemp(t)
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalRequests != 0 || st.LastRequestUnix != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStore_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Record(context.Background(), Entry{WorkID: "w1", Model: "m", RequestType: "chat", Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	st, _ := s.Stats(context.Background())
	if st.TotalRequests != 1 {
		t.Fatalf("rows lost across reopen: %+v", st)
	}
}

func TestOpenOrNop(t *testing.T) {
	r, err := OpenOrNop("")
	if err != nil {
		t.Fatalf("nop: %v", err)
	}
	if _, ok := r.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", r)
	}
	if err := r.Record(context.Background(), Entry{}); err != nil {
		t.Fatalf("nop record: %v", err)
	}
}

func TestStore_Pragmas(t *testing.T) {
	s := openTemp(t)
	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	var busy int
	if err := s.db.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busy)
	}
}
