package http

import (
	"time"

	"minutebars/internal/domain"
)

// ListRunsQuery is the validated form of GET /runs query parameters.
type ListRunsQuery struct {
	Page     int `validate:"gte=1"`
	PageSize int `validate:"gte=1,lte=100"`
}

// RunResponse is the Data Transfer Object for one run.
type RunResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Expected     int        `json:"expected"`
	Processed    int        `json:"processed"`
	DeadLettered int        `json:"dead_lettered"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ListRunsResponse wraps one page of runs.
type ListRunsResponse struct {
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Runs     []RunResponse `json:"runs"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	NodeID  string `json:"node_id"`
	Leader  bool   `json:"leader"`
	Workers int    `json:"workers"`
}

// ToRunResponse converts a domain.RunRecord to its DTO.
func ToRunResponse(r *domain.RunRecord) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Status:       string(r.Status),
		Expected:     r.Expected,
		Processed:    r.Processed,
		DeadLettered: r.DeadLettered,
		StartedAt:    r.StartedAt,
		Error:        r.Error,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		resp.FinishedAt = &finished
		resp.Duration = r.FinishedAt.Sub(r.StartedAt).String()
	}
	return resp
}
