// Package app assembles the grader from configuration.
package app

import (
	"context"
	"io/fs"
	"log/slog"
	"time"

	"github.com/cutekitek/rankode-grader/internal/config"
	"github.com/cutekitek/rankode-grader/internal/engine"
	"github.com/cutekitek/rankode-grader/internal/events"
	"github.com/cutekitek/rankode-grader/internal/metrics"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/internal/runner/sandbox"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const pullTimeout = 10 * time.Minute

type Boundary interface {
	sandbox.Boundary
	Close() error
}

func SetLogLevel(level string) {
	switch level {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}
}

func Languages(cfg *config.Config) (*lang.Registry, error) {
	languages := lang.NewRegistry()
	err := languages.LoadDir(cfg.LanguagesPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("languages dir not found, using built-ins", "path", cfg.LanguagesPath)
		return languages, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load languages")
	}
	return languages, nil
}

// NewBoundary builds the configured isolation backend. The Docker backend
// is also returned as the health pinger; the container backend has none.
func NewBoundary(cfg *config.Config, languages *lang.Registry) (Boundary, *sandbox.Docker, error) {
	if cfg.Isolation == config.IsolationContainer {
		c, err := sandbox.NewContainer(sandbox.ContainerConfig{
			CgroupPrefix: cfg.CgroupPrefix,
			UID:          cfg.SandboxUID,
			GID:          cfg.SandboxGID,
			PidsLimit:    cfg.PidsLimit,
			TmpfsSize:    cfg.TmpfsSize,
		}, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	}

	d, err := sandbox.NewDocker(sandbox.DockerConfig{
		DefaultImage: cfg.DockerImage,
		Runtime:      cfg.DockerRuntime,
		CPUs:         cfg.DockerCPUs,
		UID:          cfg.SandboxUID,
		GID:          cfg.SandboxGID,
		PidsLimit:    cfg.PidsLimit,
		TmpfsSize:    cfg.TmpfsSize,
	}, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	if cfg.PullImages {
		ctx, cancel := context.WithTimeout(context.Background(), pullTimeout)
		defer cancel()
		for _, spec := range languages.List() {
			if spec.Image == "" {
				continue
			}
			if err := d.EnsureImage(ctx, spec.Image); err != nil {
				slog.Warn("failed to pull language image", "language", spec.Name, "image", spec.Image, "error", err)
			}
		}
	}
	return d, d, nil
}

func NewEngine(cfg *config.Config, languages *lang.Registry, boundary sandbox.Boundary) *engine.Engine {
	pool := sandbox.NewPool(cfg.PoolSize, cfg.PoolReject)
	eng := engine.New(engine.Config{
		WorkRoot:     cfg.WorkRoot,
		HarnessPath:  cfg.HarnessPath,
		CaptureLimit: cfg.CaptureLimitBytes,
		HostSlack:    time.Duration(cfg.HostSlackMs) * time.Millisecond,
		MaxEnvelope:  cfg.MaxEnvelope(),
	}, languages, boundary, pool, slog.Default())
	eng.OnTransition = func(id string, s engine.State) {
		metrics.PoolInUse.Set(float64(pool.InUse()))
		slog.Debug("submission state", "submission", id, "state", s)
	}
	return eng
}

// NewPublisher returns a Redis publisher when REDIS_ADDR is set and a no-op
// one otherwise, plus its close function.
func NewPublisher(cfg *config.Config) (events.Publisher, func() error) {
	if cfg.RedisAddr == "" {
		return events.Nop{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return events.NewRedisPublisher(client), client.Close
}
