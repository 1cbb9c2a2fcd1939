package errors

import "net/http"

// ErrorResponse is the wire shape returned by the REST layer for failures.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse maps an error to its wire representation and HTTP status.
// Invalid aggregation values are a client-visible rejection (422); revision
// conflict exhaustion and upstream lookup failures are retryable 5xx.
func NewErrorResponse(err error) (*ErrorResponse, int) {
	status := http.StatusInternalServerError
	switch {
	case IsValidation(err):
		status = http.StatusBadRequest
	case IsNotFound(err):
		status = http.StatusNotFound
	case IsAlreadyExists(err):
		status = http.StatusConflict
	case IsInvalidAggregation(err):
		status = http.StatusUnprocessableEntity
	case IsConflict(err):
		status = http.StatusServiceUnavailable
	case IsUpstreamLookup(err):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	if hint := Hint(err); hint != "" {
		msg = hint
	}

	return &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Message: msg,
			Details: Details(err),
		},
	}, status
}
