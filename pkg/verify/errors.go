package verify

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrTransport  = errors.New("verification service unreachable")
	ErrTimeout    = errors.New("verification request timed out")
	ErrCanceled   = errors.New("verification request canceled")
	ErrHTTPStatus = errors.New("verification service returned an error status")
	ErrProtocol   = errors.New("verification service returned an invalid response")
)

// StatusError carries the HTTP status of a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("verification service returned status %d", e.Code)
	}
	return fmt.Sprintf("verification service returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// classifyTransportError maps an error returned by http.Client.Do onto the
// package sentinels.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return errors.Wrap(ErrTimeout, err.Error())
		}
		return errors.Wrap(ErrCanceled, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(ErrCanceled, err.Error())
	}
	return errors.Wrap(ErrTransport, err.Error())
}

// Outcome is a short label for the result of a verification call, used for
// metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrHTTPStatus):
		return "http_status"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrTransport):
		return "transport"
	}
	return "other"
}

// Describe turns a verification error into the conclusion shown to the user.
func Describe(err error, timeout time.Duration) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		if timeout > 0 {
			return fmt.Sprintf("Verification timed out after %s. Please try again.", timeout)
		}
		return "Verification timed out. Please try again."
	case errors.Is(err, ErrCanceled):
		return "Verification was cancelled."
	case errors.Is(err, ErrHTTPStatus):
		var se *StatusError
		if errors.As(err, &se) {
			return fmt.Sprintf("Failed to verify claim (service returned status %d).", se.Code)
		}
		return "Failed to verify claim."
	case errors.Is(err, ErrProtocol):
		return "Failed to verify claim: the service returned an unreadable response."
	case errors.Is(err, ErrTransport):
		return "Failed to verify claim: the service could not be reached."
	}
	return "Failed to verify claim."
}
