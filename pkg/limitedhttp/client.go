// Package limitedhttp provides an outbound HTTP client that queues requests
// in a bounded FIFO and starts them under a concurrency cap and a
// sliding-window rate limit.
//
// Requests pass through three stages in order: the intake queue, the
// concurrency gate and the rate gate. A single dispatch goroutine owns both
// gates and waits for each request to reach the transport before taking the
// next, so requests start in submission order.
package limitedhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned for requests submitted to, or still queued in, a
// closed client.
var ErrClosed = errors.New("limitedhttp: client closed")

// Doer executes a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer receives lifecycle events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Queued is called when a request enters the intake queue.
	Queued(name string)
	// Started is called when a request passes both gates.
	Started(name string, waited time.Duration)
	// Finished is called when the transport returns.
	Finished(name string, took time.Duration, err error)
}

// Options configures a Client. All limits are fixed for the client's lifetime.
type Options struct {
	// Name labels log entries and observer events, typically the provider.
	Name string

	// QueueDepth is the intake buffer size. A full queue blocks submitters.
	QueueDepth int

	// MaxInFlight caps concurrently executing requests.
	MaxInFlight int

	// RateLimit is the number of request starts allowed per RateWindow.
	RateLimit int

	// RateWindow defaults to one second.
	RateWindow time.Duration

	Logger   *zap.Logger
	Observer Observer
}

func (o *Options) validate() error {
	if o.RateWindow == 0 {
		o.RateWindow = time.Second
	}
	switch {
	case o.QueueDepth <= 0:
		return fmt.Errorf("limitedhttp: queue depth must be positive, got %d", o.QueueDepth)
	case o.MaxInFlight <= 0:
		return fmt.Errorf("limitedhttp: max in-flight must be positive, got %d", o.MaxInFlight)
	case o.RateLimit <= 0:
		return fmt.Errorf("limitedhttp: rate limit must be positive, got %d", o.RateLimit)
	case o.RateWindow < 0:
		return fmt.Errorf("limitedhttp: rate window must be positive, got %s", o.RateWindow)
	}
	return nil
}

type result struct {
	resp *http.Response
	err  error
}

type call struct {
	id        uuid.UUID
	req       *http.Request
	queuedAt  time.Time
	done      chan result
	abandoned atomic.Bool
}

// deliver hands r to the waiting caller. If the caller already left, the
// response body is closed instead.
func (c *call) deliver(r result) {
	c.done <- r
	if c.abandoned.Load() {
		c.discard()
	}
}

func (c *call) abandon() {
	c.abandoned.Store(true)
	c.discard()
}

func (c *call) discard() {
	select {
	case r := <-c.done:
		if r.resp != nil && r.resp.Body != nil {
			_, _ = io.Copy(io.Discard, r.resp.Body)
			_ = r.resp.Body.Close()
		}
	default:
	}
}

// Client is a rate and concurrency limited HTTP client.
type Client struct {
	doer   Doer
	opts   Options
	logger *zap.Logger

	queue  chan *call
	sem    *semaphore.Weighted
	window *Window

	// mu guards closed against concurrent admissions.
	mu     sync.RWMutex
	closed bool

	stop      context.CancelFunc
	stopCtx   context.Context
	loopDone  chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup

	now func() time.Time
}

// New builds a client over doer and starts its dispatch loop.
func New(doer Doer, opts Options) (*Client, error) {
	if doer == nil {
		return nil, errors.New("limitedhttp: nil transport")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		doer:     doer,
		opts:     opts,
		logger:   logger.With(zap.String("client", opts.Name)),
		queue:    make(chan *call, opts.QueueDepth),
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
		window:   NewWindow(opts.RateLimit, opts.RateWindow),
		stop:     cancel,
		stopCtx:  ctx,
		loopDone: make(chan struct{}),
		now:      time.Now,
	}
	go c.dispatch()
	return c, nil
}

// Name returns the configured client name.
func (c *Client) Name() string { return c.opts.Name }

// Do submits req and waits for its response, using req.Context() for
// cancellation of the wait.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.Call(req.Context(), req)
}

// RoundTrip implements http.RoundTripper.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Do(req)
}

// Call submits req and waits for its response. If ctx ends first, Call
// returns ctx.Err(); a request that already started keeps running and its
// response is discarded.
func (c *Client) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	cl := &call{
		id:       uuid.New(),
		req:      req,
		queuedAt: c.now(),
		done:     make(chan result, 1),
	}

	if err := c.admit(ctx, cl); err != nil {
		return nil, err
	}

	select {
	case r := <-cl.done:
		return r.resp, r.err
	case <-ctx.Done():
		cl.abandon()
		c.logger.Debug("caller abandoned request",
			zap.Stringer("request_id", cl.id),
			zap.String("url", req.URL.Redacted()),
		)
		return nil, ctx.Err()
	}
}

func (c *Client) admit(ctx context.Context, cl *call) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.queue <- cl:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCtx.Done():
		return ErrClosed
	}
	if c.opts.Observer != nil {
		c.opts.Observer.Queued(c.opts.Name)
	}
	return nil
}

func (c *Client) dispatch() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.stopCtx.Done():
			return
		case cl := <-c.queue:
			if cl.abandoned.Load() {
				continue
			}
			if err := c.sem.Acquire(c.stopCtx, 1); err != nil {
				cl.deliver(result{err: ErrClosed})
				return
			}
			if err := c.waitRate(); err != nil {
				c.sem.Release(1)
				cl.deliver(result{err: ErrClosed})
				return
			}
			c.inflight.Add(1)
			started := make(chan struct{})
			go c.execute(cl, started)
			// Hold the next request until this one reached the transport.
			<-started
		}
	}
}

func (c *Client) waitRate() error {
	for {
		now := c.now()
		d := c.window.Delay(now)
		if d <= 0 {
			c.window.Record(now)
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-c.stopCtx.Done():
			t.Stop()
			return c.stopCtx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) execute(cl *call, started chan<- struct{}) {
	defer c.inflight.Done()
	defer c.sem.Release(1)

	start := c.now()
	if c.opts.Observer != nil {
		c.opts.Observer.Started(c.opts.Name, start.Sub(cl.queuedAt))
	}

	// The transport call outlives the caller's cancellation.
	req := cl.req.WithContext(context.WithoutCancel(cl.req.Context()))
	close(started)
	resp, err := c.doer.Do(req)

	took := c.now().Sub(start)
	if c.opts.Observer != nil {
		c.opts.Observer.Finished(c.opts.Name, took, err)
	}
	if err != nil {
		c.logger.Debug("request failed",
			zap.Stringer("request_id", cl.id),
			zap.String("url", cl.req.URL.Redacted()),
			zap.Duration("took", took),
			zap.Error(err),
		)
	}
	cl.deliver(result{resp: resp, err: err})
}

// Close stops the dispatch loop and fails every queued request with
// ErrClosed. Requests already executing run to completion. Close waits for
// them and is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stop()
		<-c.loopDone

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

	drain:
		for {
			select {
			case cl := <-c.queue:
				cl.deliver(result{err: ErrClosed})
			default:
				break drain
			}
		}
		c.inflight.Wait()
		c.logger.Debug("client closed")
	})
	return nil
}
