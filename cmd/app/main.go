package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutekitek/rankode-grader/internal/app"
	"github.com/cutekitek/rankode-grader/internal/config"
	"github.com/cutekitek/rankode-grader/internal/files"
	"github.com/cutekitek/rankode-grader/internal/rabbitmq"
	"github.com/cutekitek/rankode-grader/internal/server"
	"github.com/cutekitek/rankode-grader/internal/service"
)

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	cfg, err := config.NewConfig()
	panicErr(err)
	app.SetLogLevel(cfg.LogLevel)

	languages, err := app.Languages(cfg)
	panicErr(err)
	box, docker, err := app.NewBoundary(cfg, languages)
	panicErr(err)
	eng := app.NewEngine(cfg, languages, box)

	publisher, closePublisher := app.NewPublisher(cfg)
	opts := service.Options{
		Defaults: cfg.DefaultLimits(),
		Events:   publisher,
	}
	if cfg.MinIOEnabled {
		storage, err := files.NewFileStorage(files.Config{
			Url:      cfg.MinIOHost,
			Login:    cfg.MinIOLogin,
			Password: cfg.MinIOPassword,
			Bucket:   cfg.MinIOBucket,
			Secure:   cfg.MinIOSecure,
		})
		panicErr(err)
		opts.Tests = storage
	}
	svc := service.New(eng, languages, opts)

	var pinger server.Pinger
	if docker != nil {
		pinger = docker
	}
	limiter := server.NewRateLimiter(cfg.RateGlobalRPS, cfg.RateIPRPS, cfg.RateIPBurst)
	limiter.StartCleanup(5 * time.Minute)
	srv := server.New(server.Config{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPWriteTimeout(),
	}, svc, pinger, limiter, slog.Default())
	serveErr := srv.Start()

	var listener *rabbitmq.RabbitMQHandler
	if cfg.RabbitMQEnabled {
		listener = rabbitmq.NewRabbitMQHandler(rabbitmq.RabbitMqHandlerConfig{
			Login:        cfg.RabbitMQUser,
			Password:     cfg.RabbitMQPassword,
			Host:         cfg.RabbitMQHost,
			Port:         cfg.RabbitMQPort,
			WorkersCount: cfg.WorkersCount,
		}, svc, slog.Default())
		panicErr(listener.Start())
	}
	slog.Info("app started", "isolation", cfg.Isolation, "pool", cfg.PoolSize)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serveErr:
		slog.Error("server stopped", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Error("rabbitmq shutdown failed", "error", err)
		}
	}
	if err := closePublisher(); err != nil {
		slog.Error("redis shutdown failed", "error", err)
	}
	if err := box.Close(); err != nil {
		slog.Error("sandbox shutdown failed", "error", err)
	}
}
