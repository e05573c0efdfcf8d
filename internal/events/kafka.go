package events

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers []string
	// Buffer is the size of the in-memory queue between Publish and the
	// writer goroutine.
	Buffer int
}

// KafkaProducer publishes events to Kafka. Publish enqueues; a single
// background goroutine started by Start drains the queue into the writer.
// The topic of each message is the event type.
type KafkaProducer struct {
	w     messageWriter
	lg    *zap.Logger
	inbox chan kafka.Message
	stop  chan struct{}
	done  chan struct{}

	// Publish holds a read lock while enqueueing. Close sets closed under
	// the write lock, so nothing enters inbox once it returns.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ Publisher = (*KafkaProducer)(nil)

// NewKafkaProducer creates a producer for the given brokers.
func NewKafkaProducer(cfg KafkaConfig, lg *zap.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaProducer(w, cfg.Buffer, lg)
}

func newKafkaProducer(w messageWriter, buf int, lg *zap.Logger) *KafkaProducer {
	if buf <= 0 {
		buf = 1024
	}
	return &KafkaProducer{
		w:     w,
		lg:    lg,
		inbox: make(chan kafka.Message, buf),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Once ctx is cancelled or Close is
// called it writes whatever is still queued and closes the writer.
func (p *KafkaProducer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case <-p.stop:
				p.Close()
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *KafkaProducer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.lg.Warn("Close kafka writer", zap.Error(err))
			}
			return
		}
	}
}

func (p *KafkaProducer) write(m kafka.Message) {
	// The request context is gone by now.
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.lg.Error("Publish event",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Publish enqueues ev. It blocks only while the queue is full.
func (p *KafkaProducer) Publish(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	m := kafka.Message{
		Topic: string(ev.Type),
		Key:   []byte(ev.Key),
		Value: ev.Bytes(),
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}

	select {
	case p.inbox <- m:
		return nil
	case <-p.stop:
		return ErrProducerClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "enqueue event")
	}
}

// Close stops accepting events. Queued events are still written. Once Close
// returns, every Publish either enqueued before it or got ErrProducerClosed.
func (p *KafkaProducer) Close() {
	p.closeOnce.Do(func() {
		// Closing stop first releases publishers blocked on a full inbox.
		close(p.stop)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	})
}

// WaitClosed blocks until the writer goroutine has exited.
func (p *KafkaProducer) WaitClosed() {
	<-p.done
}
