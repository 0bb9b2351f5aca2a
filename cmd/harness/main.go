package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/harness"
	"github.com/cutekitek/rankode-grader/internal/runner/process"
	"github.com/cutekitek/rankode-grader/internal/sampler"
)

// The harness exits 0 whenever it managed to print a result; the engine
// reads the outcome from stdout. A non-zero exit means the result is lost.
func main() {
	slog.SetLogLoggerLevel(slog.LevelWarn)

	cfg, err := harness.ConfigFromEnv()
	if err != nil {
		res := models.Aggregate("", nil)
		res.Error = "invalid harness environment: " + err.Error()
		write(res)
		return
	}
	if s, err := sampler.New(); err == nil {
		cfg.Sampler = s
	} else {
		slog.Warn("resource sampling disabled", "error", err)
	}
	if err := process.SetSubreaper(true); err != nil {
		slog.Warn("orphaned processes will not be swept", "error", err)
	}
	if err := process.SetNotDumpable(); err != nil {
		slog.Warn("harness memory is readable by test processes", "error", err)
	}

	write(harness.Run(context.Background(), cfg))
}

func write(res *models.SubmissionResult) {
	if err := harness.Write(os.Stdout, res); err != nil {
		slog.Error("failed to write result", "error", err)
		os.Exit(1)
	}
}
