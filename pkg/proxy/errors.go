package proxy

import (
	"context"
	"errors"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/proxy/types"
)

// HandleError converts an error to an OpenAI-compatible error response.
// Terminal stream failures keep their kind and status; bare adapter errors
// are classified with providers.Kind.
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	var failure *dispatcher.FailureError
	if errors.As(err, &failure) {
		return FailureResponse(canonical.Failure(failure.Kind, failure.Status, failure.Message))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewGatewayTimeoutError("Request timeout: the request took too long to complete")
	}

	if kind := providers.Kind(err); kind != "" {
		return types.NewFailureError(string(kind), providers.StatusCode(err), err.Error())
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}

// FailureResponse converts a terminal error delta.
func FailureResponse(d canonical.Delta) *types.ErrorResponse {
	status := d.Status
	if status == 0 {
		status = 502
	}
	return types.NewFailureError(string(d.ErrKind), status, d.Message)
}
