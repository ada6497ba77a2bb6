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

	"github.com/joseosorio28/webflux-api/internal/catalog"
	cataloghttp "github.com/joseosorio28/webflux-api/internal/catalog/http"
	"github.com/joseosorio28/webflux-api/internal/catalog/messaging"
	"github.com/joseosorio28/webflux-api/internal/catalog/repository"
	"github.com/joseosorio28/webflux-api/internal/catalog/service"
	"github.com/joseosorio28/webflux-api/internal/config"

	_ "github.com/joseosorio28/webflux-api/docs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	metricCreatedTotal  = "catalog_products_created_total"
	metricDeletedTotal  = "catalog_products_deleted_total"
	metricStreamedTotal = "catalog_products_streamed_total"

	connectTimeout = 10 * time.Second
)

// @title        Catalog API
// @version      1.0
// @description  Product catalog service with buffered and streaming listings.
// @host         localhost:8080
// @BasePath     /
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadCatalog()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), connectTimeout)
	defer connectCancel()

	db, err := repository.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Error("connect mongodb", "error", err)
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		_ = db.Client().Disconnect(disconnectCtx)
	}()

	rabbitConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitConn.Close()

	publisher, err := messaging.NewRabbitPublisher(rabbitConn, catalog.EventsQueue)
	if err != nil {
		logger.Error("init publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	if err := os.MkdirAll(cfg.ImagesPath, 0o755); err != nil {
		logger.Error("create images dir", "path", cfg.ImagesPath, "error", err)
		os.Exit(1)
	}

	createdCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricCreatedTotal,
		Help: "Total number of products created",
	})
	deletedCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricDeletedTotal,
		Help: "Total number of products deleted",
	})
	streamedCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricStreamedTotal,
		Help: "Total number of products emitted by the streaming listings",
	})
	prometheus.MustRegister(createdCounter, deletedCounter, streamedCounter)

	repo := repository.NewMongo(db)
	svc := service.New(repo, publisher, logger, createdCounter, deletedCounter)

	if cfg.SeedDemo {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), connectTimeout)
		if err := svc.SeedDemo(seedCtx); err != nil {
			seedCancel()
			logger.Error("seed demo data", "error", err)
			os.Exit(1)
		}
		seedCancel()
	}

	handler := cataloghttp.NewHandler(svc, logger, cfg.ImagesPath, cataloghttp.StreamSettings{
		Delay:         cfg.StreamDelay,
		ChunkSize:     cfg.StreamChunkSize,
		DefaultRepeat: cfg.StreamRepeat,
	}, streamedCounter)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cataloghttp.RequestIDMiddleware())
	router.Use(cataloghttp.AccessLogMiddleware(logger))
	cataloghttp.RegisterRoutes(router, handler, repo)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("catalog service started", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog service stopped")
}
