package kafka

import (
	"context"
	"hash/fnv"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
	"time"
)

// Handler must return nil only when processing succeeded and the offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	maxAttempts = 5
	baseBackoff = 200 * time.Millisecond
)

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     zerolog.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log.With().Str("group", group).Logger()}
}

// Start fetches until ctx ends. Each partition is pinned to one worker, so
// messages of a partition are handled and committed in offset order. Workers
// retry a failing message with backoff; after maxAttempts it is logged and
// committed so the partition keeps moving.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	g, gctx := errgroup.WithContext(ctx)

	for i := range queues {
		jobs := make(chan kafka.Message, 128)
		queues[i] = jobs
		g.Go(func() error {
			for m := range jobs {
				c.process(gctx, h, m)
				if err := c.r.CommitMessages(gctx, m); err != nil && gctx.Err() == nil {
					c.log.Error().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("commit failed")
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			m, err := c.r.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case queues[route(m, len(queues))] <- m:
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// route picks the worker that owns m's topic partition.
func route(m kafka.Message, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(m.Topic))
	return int((h.Sum32() + uint32(m.Partition)) % uint32(workers))
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	backoff := baseBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return
		}
		l := c.log.With().Err(err).Str("topic", m.Topic).Int("partition", m.Partition).Int64("offset", m.Offset).Int("attempt", attempt).Logger()
		if attempt >= maxAttempts {
			l.Error().Msg("message dropped after retries")
			return
		}
		l.Warn().Msg("handler failed, retrying")
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}
}
