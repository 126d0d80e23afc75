package models

import "time"

// ErrorResponse is the body of errors produced by middleware, before any
// handler had a chance to answer with an APIResponse
type ErrorResponse struct {
	Error     string                 `json:"error" example:"RATE_LIMIT_EXCEEDED"`
	Message   string                 `json:"message" example:"Rate limit exceeded. Please try again later."`
	Code      string                 `json:"code" example:"TOO_MANY_REQUESTS"`
	RequestID string                 `json:"request_id" example:"req_123456789"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp" example:"2023-12-07T10:30:00Z"`
}
