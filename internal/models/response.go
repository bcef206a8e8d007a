package models

import (
	"time"
)

// APIResponse is a standardized wrapper for all API responses
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// APIError represents error details in API responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents a single health check result
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// QueueStatusResponse is the control-plane queue snapshot.
type QueueStatusResponse struct {
	Counts       QueueCounts       `json:"counts"`
	Jobs         map[string][]*Job `json:"jobs"`
	WorkerStatus WorkerStatus      `json:"worker_status"`
	StuckWarn    int               `json:"stuck_warn_count"`
	StuckError   int               `json:"stuck_error_count"`
}

// NewSuccessResponse creates a successful API response
func NewSuccessResponse(data interface{}, requestID string) APIResponse {
	return APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(code, message, details, requestID string) APIResponse {
	return APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
