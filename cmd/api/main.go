package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casevault/internal/archive"
	"casevault/internal/auth"
	"casevault/internal/chainlock"
	"casevault/internal/config"
	"casevault/internal/custody"
	"casevault/internal/httpapi"
	"casevault/internal/ledger"
	"casevault/internal/metrics"
	"casevault/internal/notify"
	"casevault/pkg/logger"
	"casevault/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	lg, err := ledger.Open(rootCtx, ledger.Config{
		Driver:      cfg.Ledger.Driver,
		PostgresDSN: cfg.PostgresDSN(),
		SQLitePath:  cfg.Ledger.SQLitePath,
	})
	if err != nil {
		log.Error("ledger init failed", "driver", cfg.Ledger.Driver, "err", err)
		os.Exit(1)
	}
	defer lg.Close()

	if err := lg.Migrate(rootCtx); err != nil {
		log.Error("ledger migrate failed", "err", err)
		os.Exit(1)
	}

	opts := custody.Options{
		Signer:                   custody.NewSigner(cfg.Ledger.SigningKey),
		AppendAttempts:           cfg.Ledger.AppendAttempts,
		RequireCertificateEvents: cfg.Ledger.RequireCertificateEvents,
	}

	switch cfg.Ledger.Lock {
	case config.LockLocal:
		opts.Locker = chainlock.NewLocal()
	case config.LockRedis:
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts.Locker = chainlock.NewRedis(rdb, cfg.Ledger.LockTTL)
	}

	m := metrics.NewCustody()
	opts.Metrics = m

	var publisher *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts.Publisher = publisher
	}

	var archiver httpapi.CertificateArchiver
	if cfg.Archive.Bucket != "" {
		a, err := archive.New(rootCtx, archive.Config{
			Bucket:   cfg.Archive.Bucket,
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
			Prefix:   cfg.Archive.Prefix,
		})
		if err != nil {
			log.Error("archive init failed", "err", err)
			os.Exit(1)
		}
		archiver = a
	}

	svc := custody.NewService(lg, opts)
	log.Info("ledger ready",
		"driver", lg.Driver,
		"lock", cfg.Ledger.Lock,
		"signature_algorithm", svc.SignatureAlgorithm(),
		"kafka", publisher != nil,
		"archive", archiver != nil,
	)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Handlers: httpapi.Handlers{
			Auth:    authManager,
			Custody: svc,
			Archive: archiver,
		},
		AuthMW:      auth.RequireAccessToken(authManager),
		Health:      lg.Ping,
		Metrics:     m.Handler(),
		IssueTokens: !cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Events already recorded are durable; flush pending fan-out after the last request.
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error("kafka close failed", "err", err)
		}
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
