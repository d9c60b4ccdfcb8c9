// Package shutdown implements the process-wide shutdown coordinator
// (spec component P): a broadcast flag every long-running wait can poll,
// plus a guard-counted join barrier letting main await a full drain.
package shutdown

import "sync"

// Coordinator broadcasts a shutdown request and tracks how many workers
// are still active so main can wait for all of them to drain.
type Coordinator struct {
	mu       sync.Mutex
	flag     bool
	done     chan struct{}
	active   int
	drained  chan struct{}
	drainSet bool
}

// New returns a Coordinator with no shutdown requested and no workers
// registered yet.
func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// IsShutdown reports whether shutdown has been requested. Implements
// seed.ShutdownSignal and sitecrawler.ShutdownSignal.
func (c *Coordinator) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flag
}

// Done returns a channel that is closed once shutdown is requested,
// for use in select statements alongside a blocking wait.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Request broadcasts the shutdown flag. Idempotent.
func (c *Coordinator) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flag {
		return
	}
	c.flag = true
	close(c.done)
}

// Enter registers one worker as active, incrementing the join count.
// Callers must call the returned Leave exactly once.
func (c *Coordinator) Enter() (leave func()) {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.active--
			n := c.active
			var wake chan struct{}
			if n == 0 && c.drainSet {
				wake = c.drained
			}
			c.mu.Unlock()
			if wake != nil {
				close(wake)
			}
		})
	}
}

// Wait blocks until every worker that called Enter has called its
// Leave, i.e. the active count reaches zero. Safe to call only once per
// Coordinator's drain phase (main's shutdown sequence).
func (c *Coordinator) Wait() {
	c.mu.Lock()
	if c.active == 0 {
		c.mu.Unlock()
		return
	}
	c.drained = make(chan struct{})
	c.drainSet = true
	wait := c.drained
	c.mu.Unlock()
	<-wait
}
