package history_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"autorec/internal/history"
	"autorec/internal/testsupport"
)

func TestAppendAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	entry := &history.Entry{
		DurationMs:               65_000,
		Transcription:            "hello world",
		Summary:                  "- greeting",
		MicTranscription:         "hello",
		CounterpartTranscription: "world",
		IsSeparateRecording:      true,
	}
	if _, err := store.Append(ctx, entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if entry.ID == "" || entry.Date.IsZero() {
		t.Fatalf("expected id and date to be assigned, got %+v", entry)
	}

	fetched, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Transcription != "hello world" || fetched.Summary != "- greeting" || !fetched.IsSeparateRecording {
		t.Fatalf("unexpected fetched entry: %+v", fetched)
	}
	if fetched.MicTranscription != "hello" || fetched.CounterpartTranscription != "world" {
		t.Fatalf("unexpected per-role transcripts: %+v", fetched)
	}

	byPrefix, err := store.Get(ctx, entry.ID[:8])
	if err != nil || byPrefix.ID != entry.ID {
		t.Fatalf("expected prefix lookup to succeed, got %v %v", byPrefix, err)
	}
}

func TestAppendEvictsOldestBeyondLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var first string
	for i := 0; i < history.MaxEntries+1; i++ {
		entry := &history.Entry{
			Date:          base.Add(time.Duration(i) * time.Minute),
			Transcription: fmt.Sprintf("entry %d", i),
		}
		evicted, err := store.Append(ctx, entry)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if i == 0 {
			first = entry.ID
		}
		wantEvicted := 0
		if i == history.MaxEntries {
			wantEvicted = 1
		}
		if evicted != wantEvicted {
			t.Fatalf("append %d evicted %d entries, want %d", i, evicted, wantEvicted)
		}
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != history.MaxEntries {
		t.Fatalf("expected %d entries, got %d", history.MaxEntries, count)
	}
	if _, err := store.Get(ctx, first); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected oldest entry evicted, got %v", err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if entries[0].Transcription != fmt.Sprintf("entry %d", history.MaxEntries) {
		t.Fatalf("expected newest first, got %q", entries[0].Transcription)
	}
	if entries[len(entries)-1].Transcription != "entry 1" {
		t.Fatalf("expected entry 1 to be the oldest retained, got %q", entries[len(entries)-1].Transcription)
	}
}

func TestEvictionFollowsInsertionOrderNotDate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	future := time.Now().Add(24 * time.Hour)
	oldest := &history.Entry{Date: future, Transcription: "inserted first"}
	if _, err := store.Append(ctx, oldest); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	for i := 0; i < history.MaxEntries; i++ {
		if _, err := store.Append(ctx, &history.Entry{Date: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if _, err := store.Get(ctx, oldest.ID); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected first insertion evicted despite later date, got %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	a := &history.Entry{Transcription: "a"}
	b := &history.Entry{Transcription: "b"}
	for _, e := range []*history.Entry{a, b} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, a.ID); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
}

func TestReopenPreservesEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.Append(context.Background(), &history.Entry{Summary: "kept"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	store.Close()

	reopened := testsupport.MustOpenHistory(t, cfg)
	entries, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Summary != "kept" {
		t.Fatalf("unexpected entries after reopen: %+v", entries)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{65 * time.Second, "01:05"},
		{125 * time.Minute, "125:00"},
		{-time.Second, "00:00"},
	}
	for _, tt := range tests {
		if got := history.FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
