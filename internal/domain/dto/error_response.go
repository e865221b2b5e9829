package dto

import "time"

// ErrorResponse is the JSON error envelope returned by every API endpoint.
//
// Fields:
//   - Message: human-readable summary of what failed.
//   - ErrorDetails: optional underlying error text (omitted when empty).
//   - Timestamp: when the error response was produced.
type ErrorResponse struct {
	Message      string    `json:"message" example:"invalid query parameters"`
	ErrorDetails string    `json:"error,omitempty" example:"invalid from timestamp"`
	Timestamp    time.Time `json:"timestamp"`
}

// Error implements the error interface so an ErrorResponse can travel as a
// regular error inside middleware.
func (e ErrorResponse) Error() string {
	if e.ErrorDetails == "" {
		return e.Message
	}
	return e.Message + ": " + e.ErrorDetails
}

// NewErrorResponse builds an ErrorResponse from a message and an optional
// underlying error.
func NewErrorResponse(message string, err error) ErrorResponse {
	resp := ErrorResponse{
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		resp.ErrorDetails = err.Error()
	}
	return resp
}
