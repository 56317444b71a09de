package audit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueSize   = 1024
	DefaultMaxAttempts = 3
	DefaultBackoff     = 200 * time.Millisecond
	writeTimeout       = 5 * time.Second
)

type RecorderConfig struct {
	QueueSize   int
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

// Recorder writes entries to a Writer on a background goroutine. Record
// never blocks and never fails; a full queue or exhausted retries drop the
// entry, log it and increment pws_audit_entries_dropped_total.
type Recorder struct {
	writer Writer
	cfg    RecorderConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}

	written prometheus.Counter
	dropped *prometheus.CounterVec
}

// NewRecorder starts the worker. reg may be nil to skip metric registration.
func NewRecorder(w Writer, cfg RecorderConfig, logger zerolog.Logger, reg prometheus.Registerer) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	factory := promauto.With(reg)
	r := &Recorder{
		writer: w,
		cfg:    cfg,
		logger: logger.With().Str("component", "audit-recorder").Logger(),
		queue:  make(chan Entry, cfg.QueueSize),
		done:   make(chan struct{}),
		written: factory.NewCounter(prometheus.CounterOpts{
			Name: "pws_audit_entries_written_total",
			Help: "Audit entries persisted.",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pws_audit_entries_dropped_total",
			Help: "Audit entries dropped before being persisted.",
		}, []string{"reason"}),
	}

	go r.run()
	return r
}

// Record enqueues e without blocking.
func (r *Recorder) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(e, "closed", nil)
		return
	}

	select {
	case r.queue <- e:
	default:
		r.drop(e, "queue_full", nil)
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to
// expire, whichever comes first.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = r.writer.Insert(ctx, e)
		cancel()
		if err == nil {
			r.written.Inc()
			return
		}
		if attempt < r.cfg.MaxAttempts {
			time.Sleep(time.Duration(attempt) * r.cfg.Backoff)
		}
	}
	r.drop(e, "write_failed", err)
}

func (r *Recorder) drop(e Entry, reason string, err error) {
	r.dropped.WithLabelValues(reason).Inc()
	evt := r.logger.Error().Str("reason", reason)
	if err != nil {
		evt = evt.Err(err)
	}
	if e.ActorID != nil {
		evt = evt.Str("actor_user_id", e.ActorID.String())
	}
	if e.EntityID != nil {
		evt = evt.Str("entity_id", *e.EntityID)
	}
	evt.
		Str("entity", e.Entity).
		Str("action", string(e.Action)).
		Str("request_id", e.RequestID).
		Msg("audit entry dropped")
}
