// Package dlq implements a file-backed dead-letter log of normalization and
// supplementation batches that failed and need manual review or retry.
// Adapted from the shape of a Postgres-backed dead letter queue (Entry
// struct, retry-count tracking, recent-failures/pending-retries queries) but
// backed by an append-only JSONL file instead, since this system's metadata
// store is explicitly file-based.
package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Entry is one dead-letter record: a single source/record-type's failure at
// a point in time. Re-enqueuing the same (SourceID, RecordType) pair appends
// a new entry with an incremented RetryCount rather than mutating the
// previous one, so the log stays append-only.
type Entry struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	RecordType   string         `json:"record_type"`
	ErrorMessage string         `json:"error_message"`
	RetryCount   int            `json:"retry_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Queue is an append-only JSONL dead-letter log.
type Queue struct {
	path   string
	mu     sync.Mutex
	logger *logrus.Entry
}

func NewQueue(path string, logger *logrus.Entry) *Queue {
	return &Queue{path: path, logger: logger}
}

func (q *Queue) key(sourceID, recordType string) string {
	return sourceID + "/" + recordType
}

// Enqueue appends a new failure entry for sourceID/recordType, carrying
// forward the retry count of the most recent entry for that pair.
func (q *Queue) Enqueue(ctx context.Context, sourceID, recordType string, failure error, metadata map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.readLocked()
	if err != nil {
		return err
	}

	retryCount := 0
	key := q.key(sourceID, recordType)
	for _, e := range entries {
		if q.key(e.SourceID, e.RecordType) == key && e.RetryCount >= retryCount {
			retryCount = e.RetryCount + 1
		}
	}

	entry := Entry{
		ID:           uuid.New().String(),
		SourceID:     sourceID,
		RecordType:   recordType,
		ErrorMessage: failure.Error(),
		RetryCount:   retryCount,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}

	if err := q.appendLocked(entry); err != nil {
		return err
	}

	if q.logger != nil {
		q.logger.WithFields(logrus.Fields{
			"source_id":   sourceID,
			"record_type": recordType,
			"retry_count": retryCount,
		}).Warnf("enqueued to dead letter log: %v", failure)
	}
	return nil
}

func (q *Queue) appendLocked(entry Entry) error {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dead letter log directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening dead letter log %s: %w", q.path, err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dead letter entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing dead letter entry: %w", err)
	}
	return nil
}

func (q *Queue) readLocked() ([]Entry, error) {
	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening dead letter log %s: %w", q.path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing dead letter log %s: %w", q.path, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning dead letter log %s: %w", q.path, err)
	}
	return entries, nil
}

// Entries returns every entry in the log, in append order.
func (q *Queue) Entries(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked()
}

// latestByKey reduces a log to one entry per (SourceID, RecordType), keeping
// only the most recently appended entry for each.
func latestByKey(entries []Entry) map[string]Entry {
	latest := map[string]Entry{}
	for _, e := range entries {
		key := e.SourceID + "/" + e.RecordType
		if existing, ok := latest[key]; !ok || e.CreatedAt.After(existing.CreatedAt) {
			latest[key] = e
		}
	}
	return latest
}

// PendingRetries returns the most recent entry for every (SourceID,
// RecordType) pair whose retry count is still below maxRetries, ordered by
// CreatedAt ascending.
func (q *Queue) PendingRetries(ctx context.Context, maxRetries int) ([]Entry, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Entry
	for _, e := range latestByKey(entries) {
		if e.RetryCount < maxRetries {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

// RecentFailures returns the limit most recently appended entries, most
// recent first, across every source and record type.
func (q *Queue) RecentFailures(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// MarkResolved is a no-op acknowledgement hook: the log is append-only and
// never mutated in place, so resolution is represented by simply not
// re-enqueuing that source/record-type pair again. It exists so callers that
// model a clear "this is done" step have somewhere to put that intent, and
// logs it for operators following the log in real time.
func (q *Queue) MarkResolved(ctx context.Context, sourceID, recordType string) {
	if q.logger != nil {
		q.logger.WithFields(logrus.Fields{
			"source_id":   sourceID,
			"record_type": recordType,
		}).Info("dead letter entry resolved")
	}
}
