package serial

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// RecordConsumer receives records from a read loop. The record aliases the
// loop's buffer and is only valid until Consume returns.
type RecordConsumer interface {
	Consume(record []byte)
}

// ConsumerFunc adapts a plain function to RecordConsumer.
type ConsumerFunc func(record []byte)

func (f ConsumerFunc) Consume(record []byte) { f(record) }

// Collector keeps a copy of every record it receives. It is safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []string
	notify  chan struct{}
}

func NewCollector() *Collector {
	return &Collector{notify: make(chan struct{})}
}

func (c *Collector) Consume(record []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, string(record))
	close(c.notify)
	c.notify = make(chan struct{})
}

// Records returns the records received so far, oldest first.
func (c *Collector) Records() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.records...)
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Wait blocks until at least n records arrived or ctx is done.
func (c *Collector) Wait(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		got, ch := len(c.records), c.notify
		c.mu.Unlock()
		if got >= n {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d records, got %d: %w", n, got, ctx.Err())
		}
	}
}

// Printer writes each record on its own line.
type Printer struct {
	W          io.Writer
	Timestamps bool
	Now        func() time.Time
}

func (p *Printer) Consume(record []byte) {
	if p.Timestamps {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		fmt.Fprintf(p.W, "%s %s\n", now().Format(time.RFC3339), record)
		return
	}
	fmt.Fprintf(p.W, "%s\n", record)
}
