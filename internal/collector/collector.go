package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	batch "github.com/hanpama/querymux/internal/batch"
	eventbus "github.com/hanpama/querymux/internal/eventbus"
	events "github.com/hanpama/querymux/internal/events"
	reqid "github.com/hanpama/querymux/internal/reqid"
)

// ErrClosed is returned through handles enqueued after Close.
var ErrClosed = errors.New("collector: closed")

// Options configure the batching window.
type Options struct {
	// MaxBatch closes the window once this many requests are pending.
	// Default 10.
	MaxBatch int
	// MaxWait closes the window this long after its first request
	// arrived, whatever its size. Default 5ms.
	MaxWait time.Duration
	// Unattributed selects the fallback for merged-result errors that
	// match no alias. Default batch.AttachToLast.
	Unattributed batch.UnattributedPolicy
}

// Collector accumulates pending requests into a closed window and runs
// each closed window through group → merge → dispatch → demultiplex.
// It decides when to batch; the batch package decides how.
type Collector struct {
	dispatcher batch.Dispatcher
	demux      batch.Demuxer
	opt        Options
	log        zerolog.Logger

	mu      sync.Mutex
	pending []*batch.PendingRequest
	timer   *time.Timer
	closed  bool
}

func New(d batch.Dispatcher, log zerolog.Logger, opt Options) *Collector {
	if opt.MaxBatch <= 0 {
		opt.MaxBatch = 10
	}
	if opt.MaxWait <= 0 {
		opt.MaxWait = 5 * time.Millisecond
	}
	return &Collector{
		dispatcher: d,
		demux:      batch.Demuxer{Unattributed: opt.Unattributed},
		opt:        opt,
		log:        log,
	}
}

// Enqueue adds req to the open window. The caller keeps waiting on
// req.Handle; the window is flushed once it holds MaxBatch requests or
// MaxWait after its first request arrived, whichever comes first.
func (c *Collector) Enqueue(req *batch.PendingRequest) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		req.Handle.Fail(ErrClosed)
		return
	}
	c.pending = append(c.pending, req)
	if len(c.pending) == 1 {
		c.timer = time.AfterFunc(c.opt.MaxWait, c.flushTimer)
	}
	var due []*batch.PendingRequest
	if len(c.pending) >= c.opt.MaxBatch {
		due = c.take()
	}
	c.mu.Unlock()

	if due != nil {
		go c.run(due)
	}
}

// Flush closes the current window immediately and processes it on the
// calling goroutine. Useful for shutdown and tests.
func (c *Collector) Flush() {
	c.mu.Lock()
	due := c.take()
	c.mu.Unlock()
	if due != nil {
		c.run(due)
	}
}

// Close rejects future enqueues and fails whatever is still pending.
func (c *Collector) Close() {
	c.mu.Lock()
	c.closed = true
	due := c.take()
	c.mu.Unlock()
	for _, req := range due {
		req.Handle.Fail(ErrClosed)
	}
}

func (c *Collector) flushTimer() {
	c.mu.Lock()
	due := c.take()
	c.mu.Unlock()
	if due != nil {
		c.run(due)
	}
}

// take closes the current window. Caller holds mu.
func (c *Collector) take() []*batch.PendingRequest {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	due := c.pending
	c.pending = nil
	return due
}

// run processes one closed window. The set is partitioned by operation
// kind and each group makes exactly one trip upstream; completion
// handles are the only contact with callers from here on.
func (c *Collector) run(due []*batch.PendingRequest) {
	for _, group := range batch.GroupByOperation(due) {
		c.runGroup(group)
	}
}

func (c *Collector) runGroup(group *batch.OperationGroup) {
	// The batch gets its own request ID: its lifetime spans several
	// callers, so no single caller context can identify it.
	ctx, _ := reqid.NewContext(context.Background())
	start := time.Now()
	eventbus.Publish(ctx, events.BatchStart{Operation: string(group.Operation), Size: len(group.Members)})

	err := c.process(ctx, group)
	if err != nil {
		c.log.Error().Err(err).
			Str("operation", string(group.Operation)).
			Int("size", len(group.Members)).
			Msg("batch failed")
		batch.FailPending(group, err)
	}
	eventbus.Publish(ctx, events.BatchFinish{
		Operation: string(group.Operation),
		Size:      len(group.Members),
		Err:       err,
		Duration:  time.Since(start),
	})
}

func (c *Collector) process(ctx context.Context, group *batch.OperationGroup) (err error) {
	// Anything demultiplexing could not finish must not leave callers
	// blocked; the recover path feeds FailPending in runGroup.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector: demultiplex: %v", r)
		}
	}()

	merged, err := batch.Merge(group)
	if err != nil {
		return err
	}

	dispatchStart := time.Now()
	eventbus.Publish(ctx, events.DispatchStart{OperationName: merged.OperationName, Size: len(group.Members)})
	res, err := c.dispatcher.Dispatch(ctx, merged)
	eventbus.Publish(ctx, events.DispatchFinish{OperationName: merged.OperationName, Err: err, Duration: time.Since(dispatchStart)})
	if err != nil {
		return err
	}

	c.demux.Demux(group, res)
	return nil
}
