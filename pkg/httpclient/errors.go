package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
)

var errUpstream = errors.New("upstream server error")

// IsUpstreamError reports whether err came from a 5xx response.
func IsUpstreamError(err error) bool {
	return errors.Is(err, errUpstream)
}

type errorEnvelope struct {
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// turns it into an AppError, keeping the code, message and fields of a
// standard error envelope when the body carries one.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned %d, body unreadable: %w", service, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil || env.Error == nil {
		return &apperrors.AppError{
			Code:    codeForStatus(resp.StatusCode),
			Message: fmt.Sprintf("%s returned %d", service, resp.StatusCode),
			Status:  resp.StatusCode,
			Err:     sentinelForStatus(resp.StatusCode),
		}
	}

	return &apperrors.AppError{
		Code:    env.Error.Code,
		Message: env.Error.Message,
		Fields:  env.Error.Fields,
		Status:  resp.StatusCode,
		Err:     sentinelForStatus(resp.StatusCode),
	}
}

func sentinelForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusConflict:
		return apperrors.ErrConflict
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return apperrors.ErrServiceUnavail
	default:
		return apperrors.ErrInternal
	}
}

func codeForStatus(status int) string {
	if status == http.StatusTooManyRequests {
		return "RATE_LIMITED"
	}
	return "UPSTREAM_" + http.StatusText(status)
}
