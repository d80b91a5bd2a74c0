package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes the fan-out.
type DispatcherConfig struct {
	// QueueSize bounds the in-flight event queue. Publishing to a
	// full queue drops the event.
	QueueSize int

	// RateLimit caps non-critical events per second; a bad poll loop
	// must not turn into an alert storm. Critical events bypass it.
	RateLimit rate.Limit

	// RateBurst is the limiter's burst size.
	RateBurst int

	// PublishTimeout bounds each sink call.
	PublishTimeout time.Duration
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      256,
		RateLimit:      rate.Limit(5),
		RateBurst:      10,
		PublishTimeout: 10 * time.Second,
	}
}

// Dispatcher fans events out to every registered sink from a single
// background goroutine. Publish never blocks: when the queue is full
// the event is dropped and counted.
type Dispatcher struct {
	cfg     DispatcherConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu    sync.RWMutex
	sinks []Sink

	queue   chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates and starts a dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultDispatcherConfig().PublishTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		sinks:   sinks,
		queue:   make(chan Event, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// AddSink registers an additional sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Publish enqueues an event, best-effort. Non-critical events subject
// to rate limiting are dropped silently under a storm.
func (d *Dispatcher) Publish(event Event) {
	if d.stopped.Load() {
		return
	}
	if event.Severity != SeverityCritical && !d.limiter.Allow() {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("alert queue full, event dropped",
			zap.String("alert_id", event.ID),
			zap.String("severity", string(event.Severity)))
	}
}

// Stop drains the queue and shuts the dispatcher down.
func (d *Dispatcher) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

// Stats reports dispatcher counters.
func (d *Dispatcher) Stats() (published, dropped, failed int64) {
	return d.published.Load(), d.dropped.Load(), d.failed.Load()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.fanOut(event)
		case <-d.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case event := <-d.queue:
					d.fanOut(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) fanOut(event Event) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := s.Publish(ctx, event)
		cancel()

		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("alert publish failed",
				zap.String("sink", s.Name()),
				zap.String("alert_id", event.ID),
				zap.Error(err))
			continue
		}
		d.published.Add(1)
	}
}
