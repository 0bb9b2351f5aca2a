// Package events publishes submission status changes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

type Event struct {
	SubmissionID string                   `json:"submissionId"`
	Status       Status                   `json:"status"`
	Timestamp    time.Time                `json:"timestamp"`
	Result       *models.SubmissionResult `json:"result,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Channel is the pub/sub channel a submission's events go to.
func Channel(submissionID string) string {
	return "submission:" + submissionID
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	if err := p.client.Publish(ctx, Channel(e.SubmissionID), body).Err(); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}
