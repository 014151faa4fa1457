package spout

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMailboxCapacity = 256
)

// Coordinator supervises many Virtual Consumers concurrently, fans their
// emitted messages into a single output queue, routes acknowledgments and
// failures back to the originating instance, and drives the periodic
// offset-flush protocol. Per spec.md section 9, a Coordinator holds its
// consumers; a consumer holds no back-reference to it. All communication
// into a consumer's worker goes through its ack/fail mailboxes.
type Coordinator struct {
	firehose *VirtualConsumer
	metrics  Metrics
	logger   *zap.Logger

	monitorInterval time.Duration
	flushInterval   time.Duration
	maxStopWait     time.Duration
	mailboxCapacity int

	mu       sync.Mutex
	pending  []*VirtualConsumer
	running  map[string]*VirtualConsumer
	ackBox   map[string]chan MessageID
	failBox  map[string]chan MessageID

	runningFlag int32 // atomic bool: Coordinator.open() has been called and not yet close()d
	wg          sync.WaitGroup
	monitorDone chan struct{}
}

// NewCoordinator constructs a Coordinator seeded with the firehose Virtual
// Consumer. The firehose is enqueued as the first pending consumer; callers
// add sideline consumers later via AddSidelineSpout.
func NewCoordinator(firehose *VirtualConsumer, cfg Config, metrics Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NullMetrics{}
	}
	monitorInterval := cfg.CoordinatorMonitorInterval
	if monitorInterval <= 0 {
		monitorInterval = 2 * time.Second
	}
	flushInterval := cfg.CoordinatorFlushInterval
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	maxStopWait := cfg.CoordinatorMaxStopWait
	if maxStopWait <= 0 {
		maxStopWait = 10 * time.Second
	}
	c := &Coordinator{
		firehose:        firehose,
		metrics:         metrics,
		logger:          logger,
		monitorInterval: monitorInterval,
		flushInterval:   flushInterval,
		maxStopWait:     maxStopWait,
		mailboxCapacity: defaultMailboxCapacity,
		running:         make(map[string]*VirtualConsumer),
		ackBox:          make(map[string]chan MessageID),
		failBox:         make(map[string]chan MessageID),
	}
	if firehose != nil {
		c.pending = append(c.pending, firehose)
	}
	return c
}

// AddSidelineSpout appends consumer to the pending queue; the next monitor
// sweep picks it up and opens it. This is how the Sideline Handler starts a
// new bounded consumer in response to a STOP trigger.
func (c *Coordinator) AddSidelineSpout(consumer *VirtualConsumer) {
	c.mu.Lock()
	c.pending = append(c.pending, consumer)
	depth := len(c.pending)
	c.mu.Unlock()
	c.metrics.Gauge(MetricCoordinatorPending).Update(float64(depth))
}

// Open starts the monitor worker and blocks until every initially-pending
// consumer has completed Open(). outputQueue is the multi-producer
// single-consumer bounded queue messages are fanned onto; producers
// (per-consumer workers) block when it is full.
func (c *Coordinator) Open(outputQueue chan<- Message) {
	atomic.StoreInt32(&c.runningFlag, 1)

	c.mu.Lock()
	initial := make([]*VirtualConsumer, len(c.pending))
	copy(initial, c.pending)
	c.pending = c.pending[:0]
	c.mu.Unlock()

	var latch sync.WaitGroup
	latch.Add(len(initial))
	for _, vc := range initial {
		c.openSpout(vc, outputQueue, &latch)
	}

	c.monitorDone = make(chan struct{})
	go c.monitorLoop(outputQueue)

	latch.Wait()
}

// monitorLoop periodically drains newly-pending consumers (sideline
// start-ups arriving after Open) while the Coordinator is running.
func (c *Coordinator) monitorLoop(outputQueue chan<- Message) {
	defer close(c.monitorDone)
	ticker := time.NewTicker(c.monitorInterval)
	defer ticker.Stop()
	for atomic.LoadInt32(&c.runningFlag) == 1 {
		c.mu.Lock()
		drained := make([]*VirtualConsumer, len(c.pending))
		copy(drained, c.pending)
		c.pending = c.pending[:0]
		c.mu.Unlock()

		for _, vc := range drained {
			c.openSpout(vc, outputQueue, nil)
		}

		<-ticker.C
	}
}

// openSpout runs one Virtual Consumer's worker loop: open it, register its
// mailboxes, then repeatedly emit/ack/fail/flush until stop is requested.
// If latch is non-nil it is counted down once Open() completes and the
// mailboxes are registered, or as soon as Open() fails — a consumer that
// fails to open never blocks the caller of Coordinator.Open forever.
func (c *Coordinator) openSpout(vc *VirtualConsumer, outputQueue chan<- Message, latch *sync.WaitGroup) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := vc.Open(); err != nil {
			if latch != nil {
				latch.Done()
			}
			c.logger.Error("virtual consumer failed to open, worker exiting",
				zap.String("consumerId", vc.ID()), zap.Error(err))
			return
		}

		ackCh := make(chan MessageID, c.mailboxCapacity)
		failCh := make(chan MessageID, c.mailboxCapacity)
		c.mu.Lock()
		c.running[vc.ID()] = vc
		c.ackBox[vc.ID()] = ackCh
		c.failBox[vc.ID()] = failCh
		running := len(c.running)
		c.mu.Unlock()
		c.metrics.Gauge(MetricCoordinatorRunning).Update(float64(running))
		if latch != nil {
			latch.Done()
		}

		c.runConsumerLoop(vc, outputQueue, ackCh, failCh)

		if err := vc.Close(); err != nil {
			c.logger.Warn("virtual consumer close reported error",
				zap.String("consumerId", vc.ID()), zap.Error(err))
		}

		c.mu.Lock()
		delete(c.running, vc.ID())
		delete(c.ackBox, vc.ID())
		delete(c.failBox, vc.ID())
		running = len(c.running)
		c.mu.Unlock()
		c.metrics.Gauge(MetricCoordinatorRunning).Update(float64(running))
	}()
}

// runConsumerLoop is the per-iteration body from spec.md section 4.G:
// emission, then ack drain, then fail drain, then a conditional flush,
// strictly serialized within this worker on every pass.
func (c *Coordinator) runConsumerLoop(vc *VirtualConsumer, outputQueue chan<- Message, ackCh, failCh chan MessageID) {
	lastFlush := time.Now()
	for !vc.IsStopRequested() {
		msg, err := vc.NextMessage()
		if err != nil {
			c.logger.Warn("nextMessage error, will retry next iteration",
				zap.String("consumerId", vc.ID()), zap.Error(err))
		} else if msg != nil {
			outputQueue <- *msg
		}

	drainAcks:
		for {
			select {
			case id := <-ackCh:
				if err := vc.Ack(id); err != nil {
					c.logger.Warn("ack failed", zap.String("consumerId", vc.ID()), zap.Error(err))
				}
			default:
				break drainAcks
			}
		}

	drainFails:
		for {
			select {
			case id := <-failCh:
				if err := vc.Fail(id); err != nil {
					c.logger.Warn("fail failed", zap.String("consumerId", vc.ID()), zap.Error(err))
				}
			default:
				break drainFails
			}
		}

		if time.Since(lastFlush) >= c.flushInterval {
			start := time.Now()
			if err := vc.FlushState(); err != nil {
				c.metrics.Counter(MetricFlushFailures).Inc(1)
				c.logger.Warn("flushState failed, retrying next tick",
					zap.String("consumerId", vc.ID()), zap.Error(err))
			}
			c.metrics.Timer(MetricFlushLatencyMs).RecordMs(float64(time.Since(start).Milliseconds()))
			lastFlush = time.Now()
		}
	}
}

// Ack looks up the mailbox for id.ConsumerID and enqueues id. If the
// originating consumer has already been torn down, it is logged and
// dropped.
func (c *Coordinator) Ack(id MessageID) {
	c.mu.Lock()
	ch, ok := c.ackBox[id.ConsumerID]
	c.mu.Unlock()
	if !ok {
		c.logger.Info("ack for unknown consumer dropped", zap.String("consumerId", id.ConsumerID))
		return
	}
	ch <- id
}

// Fail looks up the mailbox for id.ConsumerID and enqueues id. If the
// originating consumer has already been torn down, it is logged and
// dropped.
func (c *Coordinator) Fail(id MessageID) {
	c.mu.Lock()
	ch, ok := c.failBox[id.ConsumerID]
	c.mu.Unlock()
	if !ok {
		c.logger.Info("fail for unknown consumer dropped", zap.String("consumerId", id.ConsumerID))
		return
	}
	ch <- id
}

// Close requests every running consumer to stop, waits up to
// maxStopWait for them to drain, then stops the monitor worker. If the
// deadline elapses, Close stops waiting; abandoned workers still terminate
// on their own and the Coordinator simply stops observing them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, vc := range c.running {
		vc.RequestStop()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.maxStopWait):
		c.logger.Warn("close deadline elapsed, abandoning wait for workers to drain")
	}

	atomic.StoreInt32(&c.runningFlag, 0)
	if c.monitorDone != nil {
		<-c.monitorDone
	}
}

// RunningCount reports the number of currently-supervised Virtual
// Consumers; exposed for tests and diagnostics.
func (c *Coordinator) RunningCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}
