package http

import (
	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/pipeline"
)

// ExtractRequest is the request body for POST /api/v1/extract. Fields and
// Confidences seed the form state when SessionID is empty or unknown.
type ExtractRequest struct {
	Text        string             `json:"text"`
	SessionID   string             `json:"session_id,omitempty"`
	Fields      extraction.Fields  `json:"fields,omitempty"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
}

// ExtractResponse is the response body for POST /api/v1/extract.
type ExtractResponse struct {
	SessionID string `json:"session_id"`
	*pipeline.Result
}

// SessionResponse is the response body for GET /api/v1/sessions/:id.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	pipeline.FieldState
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string                     `json:"status"`
	Backends []extraction.BackendStatus `json:"backends"`
	Patterns int                        `json:"patterns"`
	Sessions int                        `json:"sessions"`
}
