package runner

import (
	"context"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
)

type Runner interface {
	// Run grades a submission synchronously. It waits for a free sandbox slot
	// unless the pool is configured to reject.
	Run(ctx context.Context, sub *models.Submission) (*models.SubmissionResult, error)
}
