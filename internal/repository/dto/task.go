package dto

import "github.com/cutekitek/rankode-grader/internal/repository/models"

type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusRejected  TaskStatus = "rejected"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskResponse is published to task-resp for every consumed request.
type TaskResponse struct {
	ID     string                   `json:"id"`
	Status TaskStatus               `json:"status"`
	Result *models.SubmissionResult `json:"result,omitempty"`
	Error  *ErrorResponse           `json:"error,omitempty"`
}
