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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is an asynchronous audit sink with persistence guarantees:
// events are buffered on a bounded channel and written to Postgres by a
// worker pool with bounded retry. When the queue is full or the database
// stays down, events land in a JSONL fallback file instead of being lost.
// Log never blocks the caller.
type Queue struct {
	queue        chan Event
	workers      int
	wg           sync.WaitGroup
	db           *sql.DB
	fallbackFile *os.File
	closed       atomic.Bool
	mu           sync.Mutex

	// Metrics
	queued    uint64
	processed uint64
	failed    uint64
	dropped   uint64
}

// QueueConfig holds configuration for the audit queue
type QueueConfig struct {
	// DB is the Postgres connection events are persisted to
	DB *sql.DB

	// QueueSize is the buffer size of the async queue. Default: 1000.
	QueueSize int

	// Workers is the number of writer goroutines. Default: 2.
	Workers int

	// FallbackPath is the JSONL file used when the queue is full or the
	// database is unavailable
	FallbackPath string
}

// NewQueue creates and starts an audit queue
func NewQueue(config QueueConfig) (*Queue, error) {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.FallbackPath == "" {
		config.FallbackPath = "audit_fallback.jsonl"
	}

	fallbackFile, err := os.OpenFile(
		config.FallbackPath,
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0600,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback file: %w", err)
	}

	q := &Queue{
		queue:        make(chan Event, config.QueueSize),
		workers:      config.Workers,
		db:           config.DB,
		fallbackFile: fallbackFile,
	}

	for i := 0; i < config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	log.Printf("[Audit] Queue started with %d workers, queue size %d, fallback: %s",
		config.Workers, config.QueueSize, config.FallbackPath)
	return q, nil
}

// Log enqueues an event for background persistence. It never blocks: when
// the queue is full the event goes straight to the fallback file.
func (q *Queue) Log(event Event) {
	normalize(&event)

	if q.closed.Load() {
		q.fallback(event)
		return
	}

	select {
	case q.queue <- event:
		atomic.AddUint64(&q.queued, 1)
	default:
		q.fallback(event)
	}
}

// worker drains the queue and writes events to the database with retry
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for event := range q.queue {
		var err error
		for retry := 0; retry < 3; retry++ {
			if err = q.writeToDB(event); err == nil {
				atomic.AddUint64(&q.processed, 1)
				break
			}
			time.Sleep(time.Millisecond * time.Duration(100*(retry+1)))
			event.Retries++
		}

		if err != nil {
			atomic.AddUint64(&q.failed, 1)
			log.Printf("[Audit] Worker %d: giving up after retries: %v", id, err)
			q.fallback(event)
		}
	}
}

// writeToDB persists a single event
func (q *Queue) writeToDB(event Event) error {
	if q.db == nil {
		return fmt.Errorf("database connection not initialized")
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO audit_events (
			id, actor_type, actor_id, event_type, entity_type, entity_id,
			tenant_id, metadata, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = q.db.ExecContext(ctx, query,
		event.ID, string(event.ActorType), event.ActorID, event.EventType,
		event.EntityType, event.EntityID, event.TenantID, metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// fallback appends an event to the JSONL fallback file. An event is only
// counted as dropped when even this write fails.
func (q *Queue) fallback(event Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		atomic.AddUint64(&q.dropped, 1)
		log.Printf("[Audit] Failed to marshal event for fallback: %v", err)
		return
	}

	if _, err := fmt.Fprintf(q.fallbackFile, "%s\n", data); err != nil {
		atomic.AddUint64(&q.dropped, 1)
		log.Printf("[Audit] Failed to write fallback: %v", err)
		return
	}
	_ = q.fallbackFile.Sync()
}

// Stats returns queue statistics
func (q *Queue) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queued":    atomic.LoadUint64(&q.queued),
		"processed": atomic.LoadUint64(&q.processed),
		"failed":    atomic.LoadUint64(&q.failed),
		"dropped":   atomic.LoadUint64(&q.dropped),
		"pending":   len(q.queue),
	}
}

// Shutdown stops accepting events and waits for pending writes. Remaining
// entries are drained to the fallback file if the context expires first.
func (q *Queue) Shutdown(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	log.Println("[Audit] Shutting down queue...")
	close(q.queue)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Audit] Shutdown complete. Processed: %d, Failed: %d",
			atomic.LoadUint64(&q.processed), atomic.LoadUint64(&q.failed))
		return nil
	case <-ctx.Done():
		remaining := len(q.queue)
		for event := range q.queue {
			q.fallback(event)
		}
		log.Printf("[Audit] Shutdown timeout: saved %d entries to fallback", remaining)
		return ctx.Err()
	}
}
