package corering

// config holds resolved scheduler configuration. Unexported; built only
// via resolveConfig from a slice of Option values, mirroring the teacher's
// loopOptions/resolveLoopOptions pattern (eventloop/options.go).
type config struct {
	queueDepth   uint32
	blockSize    int
	nBlocks      int
	sqPoll       bool
	sqPollIdleMs uint32
	fallback     func(reason string)
	logger       Logger
	metrics      bool
}

// Option configures a Scheduler created by Run/NewScheduler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithQueueDepth sets the io_uring submission queue depth (default 64).
func WithQueueDepth(n uint32) Option {
	return optionFunc(func(c *config) { c.queueDepth = n })
}

// WithBuffers configures the registered fixed-buffer region: nBlocks
// blocks of blockSize bytes each (defaults: blockSize=4096,
// nBlocks=queueDepth).
func WithBuffers(blockSize, nBlocks int) Option {
	return optionFunc(func(c *config) {
		c.blockSize = blockSize
		c.nBlocks = nBlocks
	})
}

// WithSQPoll enables kernel-side submission-queue polling with the given
// idle timeout before the poller thread parks.
func WithSQPoll(idleMs uint32) Option {
	return optionFunc(func(c *config) {
		c.sqPoll = true
		c.sqPollIdleMs = idleMs
	})
}

// WithFallback registers a handler invoked with a diagnostic message if
// io_uring setup fails for any reason, ENOSYS (kernel too old / feature
// disabled) included. NewScheduler and Run still return the setup error.
func WithFallback(fn func(reason string)) Option {
	return optionFunc(func(c *config) { c.fallback = fn })
}

// WithLogger attaches a structured logger; see logging.go for the
// logiface-backed adapter, NewLogifaceLogger.
func WithLogger(l Logger) Option {
	return optionFunc(func(c *config) { c.logger = l })
}

// WithMetrics enables the scheduler's atomic counters (see metrics.go).
// When it is not set, the counters are never incremented and Snapshot
// reports zeros, matching the teacher's "minimal overhead, opt-in" stance.
func WithMetrics(enabled bool) Option {
	return optionFunc(func(c *config) { c.metrics = enabled })
}

func resolveConfig(opts []Option) *config {
	c := &config{
		queueDepth: 64,
		blockSize:  4096,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.apply(c)
	}
	if c.nBlocks == 0 {
		c.nBlocks = int(c.queueDepth)
	}
	if c.logger == nil {
		c.logger = NewNoOpLogger()
	}
	return c
}
