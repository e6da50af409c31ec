package types

// ErrorResponse is an OpenAI-compatible error body.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error (invalid_request_error, not_found,
	// bad_gateway, ...).
	Type string `json:"type"`

	// Param is the name of the parameter that caused the error (if applicable).
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code. Backend failures use the
	// failure kind.
	Code string `json:"code,omitempty"`

	// Status overrides the status derived from Type.
	Status int `json:"-"`
}

// Error types used by the OpenAI API.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeAuthentication indicates an authentication failure (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypePermissionDenied indicates an authorization failure (403).
	ErrorTypePermissionDenied = "permission_denied"

	// ErrorTypeNotFound indicates a resource was not found (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeRateLimitExceeded indicates too many requests (429).
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"

	// ErrorTypeServerError indicates an internal server error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeBadGateway indicates a provider error (502).
	ErrorTypeBadGateway = "bad_gateway"

	// ErrorTypeServiceUnavailable indicates temporary unavailability (503).
	ErrorTypeServiceUnavailable = "service_unavailable"

	// ErrorTypeGatewayTimeout indicates a provider timeout (504).
	ErrorTypeGatewayTimeout = "gateway_timeout"
)

// Error codes.
const (
	CodeMissingField     = "missing_field"
	CodeInvalidValue     = "invalid_value"
	CodeInvalidJSON      = "invalid_json"
	CodeRequestTooLarge  = "request_too_large"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternalError    = "internal_error"
	CodeRequestTimeout   = "request_timeout"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, errorType, param, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	}
}

// NewInvalidRequestError creates an error response for invalid requests (400).
func NewInvalidRequestError(message, param, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, param, code)
}

// NewServerError creates an error response for internal server errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, "", CodeInternalError)
}

// NewGatewayTimeoutError creates an error response for request timeouts (504).
func NewGatewayTimeoutError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeGatewayTimeout, "", CodeRequestTimeout)
}

// NewFailureError maps a terminal backend failure to an error response.
// kind is the stable failure kind (model_not_supported, auth_exhausted, ...)
// and becomes the code; status picks the error type.
func NewFailureError(kind string, status int, message string) *ErrorResponse {
	resp := NewErrorResponse(message, typeForStatus(status), "", kind)
	resp.Error.Status = status
	return resp
}

func typeForStatus(status int) string {
	switch {
	case status == 401:
		return ErrorTypeAuthentication
	case status == 403:
		return ErrorTypePermissionDenied
	case status == 404:
		return ErrorTypeNotFound
	case status == 429:
		return ErrorTypeRateLimitExceeded
	case status == 503:
		return ErrorTypeServiceUnavailable
	case status == 504:
		return ErrorTypeGatewayTimeout
	case status >= 400 && status < 500:
		return ErrorTypeInvalidRequest
	case status == 500:
		return ErrorTypeServerError
	}
	return ErrorTypeBadGateway
}

// HTTPStatusCode returns Status when set, otherwise the code for Type.
func (e *ErrorDetail) HTTPStatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return 400
	case ErrorTypeAuthentication:
		return 401
	case ErrorTypePermissionDenied:
		return 403
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeRateLimitExceeded:
		return 429
	case ErrorTypeServerError:
		return 500
	case ErrorTypeBadGateway:
		return 502
	case ErrorTypeServiceUnavailable:
		return 503
	case ErrorTypeGatewayTimeout:
		return 504
	default:
		return 500
	}
}
