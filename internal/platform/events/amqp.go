package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultQueue is the durable queue domain events are published to.
const DefaultQueue = "pws.events"

const (
	minRedialBackoff = time.Second
	maxRedialBackoff = 30 * time.Second
)

// ErrBrokerUnavailable is returned while the publisher waits out its redial
// backoff.
var ErrBrokerUnavailable = errors.New("amqp broker unavailable")

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// session is one live connection. closed fires when the broker drops it.
type session struct {
	ch     channel
	conn   io.Closer
	closed <-chan *amqp.Error
}

func (s *session) close() {
	_ = s.ch.Close()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

type dialFunc func() (*session, error)

// AMQPPublisher publishes events as persistent JSON messages to a durable
// queue on the default exchange. A dropped connection is redialled lazily on
// the next Publish, with doubling backoff between failed dials.
type AMQPPublisher struct {
	mu       sync.Mutex
	dial     dialFunc
	sess     *session
	queue    string
	logger   zerolog.Logger
	backoff  time.Duration
	nextDial time.Time
	now      func() time.Time
	stopped  bool
}

// NewAMQPPublisher dials url, opens a channel and declares queue. The first
// dial must succeed.
func NewAMQPPublisher(url, queue string, logger zerolog.Logger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	p := newPublisher(func() (*session, error) { return dialAMQP(url, queue) }, queue, logger)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialAMQP(url, queue string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	return &session{
		ch:     ch,
		conn:   conn,
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func newPublisher(dial dialFunc, queue string, logger zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		dial:    dial,
		queue:   queue,
		logger:  logger.With().Str("component", "amqp-publisher").Logger(),
		backoff: minRedialBackoff,
		now:     time.Now,
	}
}

// newAMQPPublisher wraps an open channel that is never redialled.
func newAMQPPublisher(ch channel, queue string, logger zerolog.Logger) *AMQPPublisher {
	p := newPublisher(nil, queue, logger)
	p.sess = &session{ch: ch}
	return p
}

// connectLocked dials a new session unless the backoff window is still open.
func (p *AMQPPublisher) connectLocked() error {
	if p.dial == nil {
		return ErrBrokerUnavailable
	}
	if now := p.now(); now.Before(p.nextDial) {
		return ErrBrokerUnavailable
	}
	s, err := p.dial()
	if err != nil {
		p.nextDial = p.now().Add(p.backoff)
		p.logger.Warn().Err(err).Dur("retry_in", p.backoff).Msg("dial failed")
		p.backoff *= 2
		if p.backoff > maxRedialBackoff {
			p.backoff = maxRedialBackoff
		}
		return err
	}
	p.backoff = minRedialBackoff
	p.nextDial = time.Time{}
	p.sess = s
	if s.closed != nil {
		go p.watch(s)
	}
	return nil
}

// watch drops s once the broker closes it, so the next Publish redials.
func (p *AMQPPublisher) watch(s *session) {
	amqpErr, ok := <-s.closed
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != s {
		return
	}
	p.sess = nil
	if ok && amqpErr != nil {
		p.logger.Warn().Str("reason", amqpErr.Reason).Int("code", amqpErr.Code).Msg("connection closed by broker")
	}
}

// Publish sends event. amqp channels are not safe for concurrent publishing,
// so calls are serialised. A failed publish drops the session and is retried
// once on a fresh one.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
		Type:         event.Type,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("amqp publish: %w", amqp.ErrClosed)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if p.sess == nil {
			if err := p.connectLocked(); err != nil {
				if lastErr == nil {
					lastErr = err
				}
				break
			}
		}
		err := p.sess.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		p.sess.close()
		p.sess = nil
		if ctx.Err() != nil {
			break
		}
	}

	p.logger.Warn().Err(lastErr).Str("type", event.Type).Msg("publish failed")
	return fmt.Errorf("amqp publish: %w", lastErr)
}

// Close closes the channel and the connection. Later publishes fail.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.sess == nil {
		return nil
	}
	err := p.sess.ch.Close()
	if p.sess.conn != nil {
		if cerr := p.sess.conn.Close(); err == nil {
			err = cerr
		}
	}
	p.sess = nil
	return err
}
