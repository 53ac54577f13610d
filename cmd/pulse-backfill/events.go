package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

const importBatchSize = 500

// eventInserter is satisfied by the Postgres event store.
type eventInserter interface {
	InsertEvents(ctx context.Context, events ...analytics.RawEvent) error
}

func importEvents(ctx context.Context, dst eventInserter, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()
	return readEvents(ctx, f, dst)
}

// readEvents streams JSON lines from r into dst in batches. Blank lines are
// skipped; events without an ID or timestamp are rejected with their line
// number.
func readEvents(ctx context.Context, r io.Reader, dst eventInserter) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var (
		batch []analytics.RawEvent
		total int
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := dst.InsertEvents(ctx, batch...); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e analytics.RawEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			return total, fmt.Errorf("line %d: id and timestamp are required", line)
		}
		batch = append(batch, e)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read events: %w", err)
	}
	return total, flush()
}
