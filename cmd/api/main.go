package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/alerts"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/config"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/db"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/events"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/handlers"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/ledger"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/logger"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/market"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/pricecache"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/scheduler"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/store"
)

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "", "path to an optional config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	database, err := db.Open(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to connect to database")
	}
	defer database.Close()
	sqlStore := store.NewSQLStore(database)

	var rdb *redis.Client
	if cfg.Redis.Enabled(cfg.DB) {
		rdb, err = openRedis(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
		}
		defer rdb.Close()
	}

	var coinStore store.CoinStore = sqlStore
	if cfg.DB.CoinStore == "redis" {
		coinStore = store.NewRedisCoinStore(rdb, cfg.Redis.Prefix)
	}

	cache := pricecache.New(newSource(cfg.Market), coinStore,
		pricecache.WithLogger(logger.Component("pricecache")),
		pricecache.WithRefreshTimeout(2*cfg.Market.Timeout),
	)
	if coins, err := cache.GetAll(ctx); err != nil {
		// not fatal: the poller keeps trying and reads serve once it succeeds
		log.Warn().Err(err).Msg("initial price load failed")
	} else {
		log.Info().Int("coins", len(coins)).Bool("live", cache.Snapshot().Live).Msg("prices loaded")
	}

	book := ledger.New(sqlStore, cache, ledger.Config{
		FeeRate:        cfg.Ledger.FeeRate.Decimal,
		InitialBalance: cfg.Ledger.InitialBalance,
		Staleness:      cfg.Ledger.Staleness,
	}, ledger.WithLogger(logger.Component("ledger")))
	if err := book.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}

	alertSvc := alerts.NewService(sqlStore, cache, alerts.WithLogger(logger.Component("alerts")))

	// Push channels: websocket always, redis when enabled
	hub := handlers.NewHub(logger.Component("ws"), func() []events.Envelope {
		e, err := events.NewEnvelope("prices", time.Now(), cache.Snapshot())
		if err != nil {
			return nil
		}
		return []events.Envelope{e}
	})
	defer hub.Close()

	sinks := []events.Sink{hub}
	var publisherDone chan struct{}
	if cfg.Redis.Publish {
		pub := events.NewRedisPublisher(rdb, cfg.Redis.Prefix, logger.Component("publisher"))
		pubCtx, cancelPub := context.WithCancel(context.WithoutCancel(ctx))
		publisherDone = make(chan struct{})
		go func() {
			pub.Run(pubCtx)
			close(publisherDone)
		}()
		defer func() {
			cancelPub()
			<-publisherDone
		}()
		sinks = append(sinks, pub)
	}
	for _, sink := range sinks {
		defer events.Forward(cache.Updates(), sink, "prices", time.Now)()
		defer events.Forward(book.Events(), sink, "ledger", time.Now)()
		defer events.Forward(alertSvc.Triggers(), sink, "alert_triggered", time.Now)()
	}

	// Background polling
	sched := scheduler.New(ctx)
	sched.Start(&scheduler.Task{
		Name:     "market-poll",
		Interval: cfg.Market.PollInterval,
		Timeout:  2 * cfg.Market.Timeout,
		Job: func(ctx context.Context) error {
			if err := cache.Refresh(ctx); err != nil {
				return err
			}
			_, err := alertSvc.Check(ctx)
			return err
		},
		Log: logger.Component("scheduler"),
	})
	defer sched.Stop()

	// Initialize trade processor
	tradeProcessor := handlers.NewTradeProcessor(cfg.Server.NumWorkers, book, logger.Component("trades"))
	tradeProcessor.Start()
	defer tradeProcessor.Stop()

	// Set Gin mode based on environment
	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	h := handlers.NewHandler(book, cache, alertSvc, tradeProcessor, logger.Component("http"))
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(h, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", "http://localhost:"+cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("redis initialized")
	return rdb, nil
}

func newSource(cfg config.MarketConfig) market.Source {
	if cfg.Source == "simulated" {
		log.Info().Msg("using simulated market data")
		return market.NewSimulator(time.Now().UnixNano())
	}
	return market.NewCoinGecko(market.CoinGeckoConfig{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Currency: cfg.Currency,
		PerPage:  cfg.PerPage,
		Timeout:  cfg.Timeout,
		RPS:      cfg.RPS,
	})
}
