// Package heartbeat implements the Heartbeat Subsystem (§4.9): a
// single clock per connection manager that periodically pings every
// open connection and evicts ones that fail to respond in time.
// Grounded on the teacher's ping/pong client lifecycle (ticker-driven
// ping, SetPongHandler, read-deadline timeout), adapted from a single
// global ticker into a per-manager clock matching the spec's "started
// when the first connection appears, stopped when active_matches is
// empty" lifecycle.
package heartbeat

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/MarlonF24/battleships/internal/logging"
	"github.com/MarlonF24/battleships/internal/socket"
	"github.com/MarlonF24/battleships/internal/wire"
)

// Target is the per-connection surface the clock needs: enough to
// ping it, wait for its pong, and evict it on timeout.
type Target interface {
	ID() string
	IsOpen() bool
	Send(data []byte) error
	ClearHeartbeat()
	WaitHeartbeat(ctx context.Context) bool
	Close(code int, reason string) error
}

// Source supplies the current snapshot of connections to ping. A
// connection manager's active_matches population implements this.
type Source interface {
	Connections() []Target
}

// Clock is the heartbeat subsystem's periodic ping loop.
type Clock struct {
	interval   time.Duration
	timeout    time.Duration
	yieldBatch int
	source     Source
	logger     *logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

// New constructs a heartbeat clock. yieldBatch bounds how many
// connections are inspected before the tick cooperatively yields
// (§4.9 "yield cooperatively every 10,000 players").
func New(interval, timeout time.Duration, yieldBatch int, source Source, logger *logging.Logger) *Clock {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	if yieldBatch <= 0 {
		yieldBatch = 10000
	}
	return &Clock{
		interval:   interval,
		timeout:    timeout,
		yieldBatch: yieldBatch,
		source:     source,
		logger:     logger,
		now:        time.Now,
	}
}

// Start launches the clock's background loop. Calling Start on an
// already-running clock is a no-op, matching the teacher's guarded
// start_heartbeat_clock.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("heartbeat clock already running")
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.wg.Add(1)
	go c.loop(stop)
	c.logger.Info("heartbeat clock started")
}

// Running reports whether the clock's loop is currently active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop halts the clock's background loop and waits for it to exit.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Info("heartbeat clock stopped")
}

func (c *Clock) loop(stop chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Clock) tick() {
	conns := c.source.Connections()
	for i, target := range conns {
		if i > 0 && i%c.yieldBatch == 0 {
			runtime.Gosched()
		}
		if !target.IsOpen() {
			continue
		}
		go c.ping(target)
	}
}

func (c *Clock) ping(target Target) {
	target.ClearHeartbeat()
	payload := wire.EncodeServerFrame(wire.NewHeartbeatRequest(c.now().UnixMilli()))
	if err := target.Send(payload); err != nil {
		//1.- A closed socket on send is swallowed; cleanup elsewhere handles it.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if target.WaitHeartbeat(ctx) {
		return
	}
	c.logger.Warn("heartbeat timeout, evicting connection", logging.String("connection_id", target.ID()))
	_ = target.Close(socket.CloseAbnormal, "No heartbeat response")
}
