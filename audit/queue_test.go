// Copyright 2025 Gatewise
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()

	sink.Log(Event{EventType: EventActionDenied, TenantID: "t-1"})
	sink.Log(Event{EventType: EventCostDeducted, TenantID: "t-1"})
	sink.Log(Event{EventType: EventActionDenied, TenantID: "t-2"})

	events := sink.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	// Defaults are filled in
	for _, e := range events {
		if e.ID == "" {
			t.Error("expected event ID to be assigned")
		}
		if e.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
		if e.ActorType != ActorSystem {
			t.Errorf("expected default actor type system, got %s", e.ActorType)
		}
	}

	denied := sink.EventsOfType(EventActionDenied)
	if len(denied) != 2 {
		t.Errorf("expected 2 denied events, got %d", len(denied))
	}

	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Error("expected no events after reset")
	}
}

func TestQueuePersistsToDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	q, err := NewQueue(QueueConfig{
		DB:           db,
		QueueSize:    10,
		Workers:      1,
		FallbackPath: filepath.Join(t.TempDir(), "fallback.jsonl"),
	})
	if err != nil {
		t.Fatal(err)
	}

	q.Log(Event{
		EventType: EventCostDeducted,
		TenantID:  "t-1",
		Metadata:  map[string]interface{}{"cost_cents": 200},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}

	stats := q.Stats()
	if stats["processed"].(uint64) != 1 {
		t.Errorf("expected 1 processed, got %v", stats["processed"])
	}
}

func TestQueueFullFallsBackToFile(t *testing.T) {
	fallbackPath := filepath.Join(t.TempDir(), "fallback.jsonl")

	// Every DB write fails, so after the bounded retries the event must
	// land in the fallback file instead of being lost.
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	// All DB writes fail so the worker also falls back
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(os.ErrClosed)
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(os.ErrClosed)
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(os.ErrClosed)

	q, err := NewQueue(QueueConfig{
		DB:           db,
		QueueSize:    1,
		Workers:      1,
		FallbackPath: fallbackPath,
	})
	if err != nil {
		t.Fatal(err)
	}

	q.Log(Event{EventType: EventActionDenied, TenantID: "t-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	f, err := os.Open(fallbackPath)
	if err != nil {
		t.Fatalf("fallback file missing: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Errorf("fallback line is not valid JSON: %v", err)
		}
		if event.EventType != EventActionDenied {
			t.Errorf("unexpected event type in fallback: %s", event.EventType)
		}
		lines++
	}
	if lines != 1 {
		t.Errorf("expected 1 fallback line, got %d", lines)
	}
}

func TestLogNeverBlocks(t *testing.T) {
	q, err := NewQueue(QueueConfig{
		QueueSize:    1,
		Workers:      1,
		FallbackPath: filepath.Join(t.TempDir(), "fallback.jsonl"),
	})
	if err != nil {
		t.Fatal(err)
	}

	// With no DB every worker write fails and falls back; flooding the
	// queue must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			q.Log(Event{EventType: EventActionDenied, TenantID: "t-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Log blocked the caller")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.Shutdown(ctx)
}

func TestLogAfterShutdownGoesToFallback(t *testing.T) {
	fallbackPath := filepath.Join(t.TempDir(), "fallback.jsonl")

	q, err := NewQueue(QueueConfig{
		QueueSize:    10,
		Workers:      1,
		FallbackPath: fallbackPath,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = q.Shutdown(ctx)

	q.Log(Event{EventType: EventFlagUpdated})

	data, err := os.ReadFile(fallbackPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected event written to fallback after shutdown")
	}
}
