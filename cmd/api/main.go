package main

import (
	"context"
	"github.com/ariefcatur/go-realtime-cart.git/internal/cart"
	"github.com/ariefcatur/go-realtime-cart.git/internal/config"
	"github.com/ariefcatur/go-realtime-cart.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-cart.git/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart.git/internal/logging"
	"github.com/ariefcatur/go-realtime-cart.git/internal/postgres"
	"github.com/ariefcatur/go-realtime-cart.git/internal/redisx"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store/memstore"
	"github.com/ariefcatur/go-realtime-cart.git/internal/store/pgstore"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	zlog "github.com/rs/zerolog/log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	logger := logging.Init(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var st store.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memstore.New()
		for _, p := range cfg.SeedProducts {
			mem.AddProduct(p)
		}
		st = mem
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("db migrate")
		}
		for _, p := range cfg.SeedProducts {
			if err := postgres.SeedProduct(ctx, db, p.ID, p.SKU, p.Name, p.Stock, p.PriceCents); err != nil {
				logger.Fatal().Err(err).Str("product_id", p.ID).Msg("seed product")
			}
		}
		st = pgstore.New(db)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var statusCache *redisx.StatusCache
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, order status served from the store")
	} else {
		statusCache = redisx.NewStatusCache(rdb)
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Engine
	engine := cart.New(st, cart.Config{
		Window:    cfg.ReservationWindow,
		Publisher: kafkax.Events{Producer: prod},
		Metrics:   cart.NewMetrics(reg),
		Logger:    &logger,
		Service:   cfg.ServiceName,
	})
	if _, err := engine.Recover(ctx); err != nil {
		logger.Fatal().Err(err).Msg("recover reservation timers")
	}

	router := httpx.NewRouter(reg)
	(&httpx.CartHandler{Engine: engine}).Register(router)
	(&httpx.OrdersHandler{Committer: cart.NewCommitter(engine), Status: statusCache}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Dur("window", cfg.ReservationWindow).Str("store", cfg.StoreDriver).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	engine.Close()    // holds stay in the store; Recover re-arms them
	prod.Close()      // close inbox -> flush & close writer
	prod.WaitClosed() // drain
	cancel()
}
