package kafka

import (
	"context"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"strconv"
	"sync"
	"time"
)

// Producer funnels messages through a buffered inbox into one async writer.
// The writer has no fixed topic; every message names its own.
type Producer struct {
	w         *kafka.Writer
	inbox     chan kafka.Message
	closeCh   chan struct{}
	stopping  chan struct{} // closed first by Close, wakes publishers blocked on a full inbox
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewProducer(brokers []string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Async:                  true, // throughput first; failures surface in Completion
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Error().Err(err).Int("messages", len(messages)).Msg("kafka write failed")
				}
			},
		},
		inbox:    make(chan kafka.Message, buf),
		closeCh:  make(chan struct{}),
		stopping: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for m := range p.inbox {
		p.write(m)
	}
	_ = p.w.Close()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Error().Err(err).Str("topic", m.Topic).Msg("kafka enqueue failed")
	}
}

// Publish queues one message, waiting while the inbox is full. After Close, or
// once Close starts while it waits, it drops the message.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Warn().Str("topic", topic).Msg("producer closed, message dropped")
		return
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
	case <-p.stopping:
		log.Warn().Str("topic", topic).Msg("producer closing, message dropped")
	}
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		close(p.stopping)
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()
	})
}

// Wait until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }

// Events adapts a Producer to the cart engine's publisher port.
type Events struct {
	Producer *Producer
}

func (e Events) Publish(_ context.Context, topic string, key []byte, env orders.Envelope) {
	e.Producer.Publish(topic, key, MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
