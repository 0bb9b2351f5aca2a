package config

import (
	"os"
	"runtime"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const (
	IsolationDocker    = "docker"
	IsolationContainer = "container"

	// Left between the end of the longest grading run and the HTTP write
	// deadline for teardown and the response itself.
	responseMargin = 30 * time.Second
)

type Config struct {
	LogLevel          string `env:"LOG_LEVEL" env-default:"warn"`
	HTTPAddr          string `env:"HTTP_ADDR" env-default:":8080"`
	HTTPWriteTimeoutS int64  `env:"HTTP_WRITE_TIMEOUT_S" env-default:"600"`

	Isolation     string  `env:"ISOLATION" env-default:"docker"`
	DockerImage   string  `env:"DOCKER_IMAGE" env-default:"python:3.12-slim"`
	DockerRuntime string  `env:"DOCKER_RUNTIME"`
	DockerCPUs    float64 `env:"DOCKER_CPUS" env-default:"1"`
	PullImages    bool    `env:"DOCKER_PULL_IMAGES" env-default:"false"`
	SandboxUID    int     `env:"SANDBOX_UID" env-default:"65534"`
	SandboxGID    int     `env:"SANDBOX_GID" env-default:"65534"`
	PidsLimit     int64   `env:"SANDBOX_PIDS_LIMIT" env-default:"64"`
	TmpfsSize     string  `env:"SANDBOX_TMPFS_SIZE" env-default:"256m"`
	CgroupPrefix  string  `env:"CGROUP_PREFIX" env-default:"rankode-grader"`

	// Static binary copied into every workspace.
	HarnessPath string `env:"HARNESS_PATH" env-default:"./bin/grader-harness"`
	// With docker isolation this must be a path the docker daemon can see.
	WorkRoot      string `env:"WORK_ROOT"`
	LanguagesPath string `env:"LANGUAGES_PATH" env-default:"languages"`

	PoolSize   int  `env:"POOL_SIZE" env-default:"10"`
	PoolReject bool `env:"POOL_REJECT" env-default:"false"`

	DefaultTimeLimitMs    int64 `env:"DEFAULT_TIME_LIMIT_MS" env-default:"5000"`
	DefaultMemoryMb       int64 `env:"DEFAULT_MEMORY_MB" env-default:"256"`
	DefaultMaxOutputBytes int   `env:"DEFAULT_MAX_OUTPUT_BYTES" env-default:"20000"`
	EnforceTotalBudget    bool  `env:"ENFORCE_TOTAL_BUDGET" env-default:"false"`
	HostSlackMs           int64 `env:"HOST_SLACK_MS" env-default:"5000"`
	CaptureLimitBytes     int   `env:"CAPTURE_LIMIT_BYTES" env-default:"1048576"`

	RateGlobalRPS float64 `env:"RATE_GLOBAL_RPS" env-default:"50"`
	RateIPRPS     float64 `env:"RATE_IP_RPS" env-default:"5"`
	RateIPBurst   int     `env:"RATE_IP_BURST" env-default:"10"`

	MinIOEnabled  bool   `env:"MINIO_ENABLED" env-default:"false"`
	MinIOHost     string `env:"MINIO_HOST" env-default:"127.0.0.1:9000"`
	MinIOLogin    string `env:"MINIO_LOGIN"`
	MinIOPassword string `env:"MINIO_PASSWORD"`
	MinIOBucket   string `env:"MINIO_BUCKET" env-default:"tests"`
	MinIOSecure   bool   `env:"MINIO_SECURE" env-default:"false"`

	RabbitMQEnabled  bool   `env:"RABBIT_ENABLED" env-default:"false"`
	RabbitMQHost     string `env:"RABBIT_HOST" env-default:"127.0.0.1"`
	RabbitMQPort     int    `env:"RABBIT_PORT" env-default:"5672"`
	RabbitMQUser     string `env:"RABBIT_USER" env-default:"guest"`
	RabbitMQPassword string `env:"RABBIT_PASSWORD" env-default:"guest"`
	WorkersCount     int    `env:"WORKERS_COUNT" env-default:"0"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
}

// NewConfig reads .env when it exists and the process environment
// otherwise.
func NewConfig() (*Config, error) {
	return Load(".env")
}

func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if cfg.WorkersCount <= 0 {
		cfg.WorkersCount = runtime.NumCPU()
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Isolation != IsolationDocker && c.Isolation != IsolationContainer:
		return &models.ConfigurationError{Field: "ISOLATION", Reason: "must be docker or container"}
	case c.SandboxUID == 0:
		return &models.ConfigurationError{Field: "SANDBOX_UID", Reason: "must not be 0"}
	case c.SandboxUID < 0 || c.SandboxGID < 0:
		return &models.ConfigurationError{Field: "SANDBOX_UID", Reason: "must not be negative"}
	case c.HTTPWriteTimeout() <= responseMargin:
		return &models.ConfigurationError{Field: "HTTP_WRITE_TIMEOUT_S", Reason: "must be longer than " + responseMargin.String()}
	case c.PoolSize <= 0:
		return &models.ConfigurationError{Field: "POOL_SIZE", Reason: "must be positive"}
	case c.PidsLimit <= 0:
		return &models.ConfigurationError{Field: "SANDBOX_PIDS_LIMIT", Reason: "must be positive"}
	case c.HostSlackMs < 0:
		return &models.ConfigurationError{Field: "HOST_SLACK_MS", Reason: "must not be negative"}
	case c.MinIOEnabled && (c.MinIOLogin == "" || c.MinIOPassword == ""):
		return &models.ConfigurationError{Field: "MINIO_LOGIN", Reason: "credentials required when minio is enabled"}
	}
	if err := c.DefaultLimits().Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) HTTPWriteTimeout() time.Duration {
	return time.Duration(c.HTTPWriteTimeoutS) * time.Second
}

// MaxEnvelope is the longest a submission may take so that its response
// still fits in the HTTP write deadline.
func (c *Config) MaxEnvelope() time.Duration {
	return c.HTTPWriteTimeout() - responseMargin
}

// DefaultLimits are applied to requests that leave a limit out.
func (c *Config) DefaultLimits() models.Limits {
	return models.Limits{
		WallTimeMsTotal:    c.DefaultTimeLimitMs,
		PerTestTimeoutMs:   models.DerivePerTestTimeoutMs(c.DefaultTimeLimitMs),
		MemoryMb:           c.DefaultMemoryMb,
		MaxOutputBytes:     c.DefaultMaxOutputBytes,
		EnforceTotalBudget: c.EnforceTotalBudget,
	}
}
