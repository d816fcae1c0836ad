package main

import (
	"context"
	"github.com/ariefcatur/go-realtime-cart.git/internal/config"
	kafkax "github.com/ariefcatur/go-realtime-cart.git/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart.git/internal/logging"
	"github.com/ariefcatur/go-realtime-cart.git/internal/orders"
	"github.com/ariefcatur/go-realtime-cart.git/internal/projection"
	"github.com/ariefcatur/go-realtime-cart.git/internal/redisx"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	logger := logging.Init(cfg.ServiceName+"-projector", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &projection.Service{
		Redis:       rdb,
		Status:      redisx.NewStatusCache(rdb),
		ServiceName: cfg.ProjectorGroup,
		Log:         logger,
	}

	// Consumer
	topics := []string{orders.TopicOrders, orders.TopicReservations}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, topics, cfg.ProjectorWorkers, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info().Str("group", cfg.ProjectorGroup).Strs("topics", topics).Int("workers", cfg.ProjectorWorkers).Msg("projector started")
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			logger.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info().Msg("shutting down consumer...")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
