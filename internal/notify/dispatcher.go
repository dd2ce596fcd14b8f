package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notification is one email waiting to be rendered and sent.
type Notification struct {
	To      string
	Payload Payload
}

// Recorder receives delivery outcomes. *metrics.Metrics implements it.
type Recorder interface {
	NotificationSent(event string, ok bool)
	NotificationDropped(event string)
	QueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) NotificationSent(string, bool) {}
func (nopRecorder) NotificationDropped(string)    {}
func (nopRecorder) QueueDepth(int)                {}

// Config sizes the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

const (
	defaultWorkers     = 2
	defaultQueueSize   = 100
	defaultSendTimeout = 30 * time.Second
)

// Dispatcher renders and sends notifications on a fixed set of background
// workers fed by a bounded queue.
//
// Notify never blocks: when the queue is full or the dispatcher has been
// stopped the notification is dropped and logged. There is no retry.
type Dispatcher struct {
	sender    Sender
	templates *Templates
	config    Config
	recorder  Recorder
	logger    *slog.Logger

	mu      sync.RWMutex // guards started, stopped and the close of queue
	started bool
	stopped bool
	queue   chan Notification

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a Dispatcher. recorder may be nil.
func NewDispatcher(sender Sender, templates *Templates, cfg Config, recorder Recorder, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		sender:    sender,
		templates: templates,
		config:    cfg,
		recorder:  recorder,
		logger:    logger,
		queue:     make(chan Notification, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("starting notification dispatcher",
			slog.Int("workers", d.config.Workers),
			slog.Int("queueSize", d.config.QueueSize),
		)
		d.mu.Lock()
		d.started = true
		d.mu.Unlock()
		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
	})
}

// Stop refuses new notifications and waits for the queued ones to finish,
// or for ctx to expire. If the workers were never started the queued
// notifications are dropped, each one logged with its recipient.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping notification dispatcher", slog.Int("pending", len(d.queue)))
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		started := d.started
		d.mu.Unlock()

		if !started {
			d.dropQueued()
		}
	})

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		d.logger.Warn("notification dispatcher did not drain before shutdown deadline",
			slog.Int("pending", len(d.queue)),
		)
		return ctx.Err()
	}
}

// Notify enqueues n and reports whether it was accepted.
func (d *Dispatcher) Notify(_ context.Context, n Notification) bool {
	event := string(n.Payload.Event())

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.logger.Warn("notification dropped, dispatcher stopped",
			slog.String("event", event),
			slog.String("recipient", n.To),
		)
		d.recorder.NotificationDropped(event)
		return false
	}

	select {
	case d.queue <- n:
		d.recorder.QueueDepth(len(d.queue))
		return true
	default:
		d.logger.Warn("notification dropped, queue full",
			slog.String("event", event),
			slog.String("recipient", n.To),
			slog.Int("queueSize", cap(d.queue)),
		)
		d.recorder.NotificationDropped(event)
		return false
	}
}

// dropQueued empties a closed queue that no worker will read.
func (d *Dispatcher) dropQueued() {
	for n := range d.queue {
		event := string(n.Payload.Event())
		subject := event
		if msg, err := d.templates.Render(n.Payload); err == nil {
			subject = msg.Subject
		}
		d.logger.Warn("notification dropped, dispatcher never started",
			slog.String("event", event),
			slog.String("recipient", n.To),
			slog.String("subject", subject),
		)
		d.recorder.NotificationDropped(event)
	}
	d.recorder.QueueDepth(0)
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for n := range d.queue {
		d.recorder.QueueDepth(len(d.queue))
		d.deliver(id, n)
	}
}

func (d *Dispatcher) deliver(worker int, n Notification) {
	event := string(n.Payload.Event())

	msg, err := d.templates.Render(n.Payload)
	if err != nil {
		d.logger.Error("rendering notification",
			slog.String("event", event),
			slog.String("recipient", n.To),
			slog.String("error", err.Error()),
		)
		d.recorder.NotificationSent(event, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
	defer cancel()

	ok := d.sender.Send(ctx, n.To, msg.Subject, msg.Body)
	d.recorder.NotificationSent(event, ok)
	if !ok {
		d.logger.Warn("notification not delivered",
			slog.Int("worker", worker),
			slog.String("event", event),
			slog.String("recipient", n.To),
			slog.String("subject", msg.Subject),
		)
	}
}
