package occ

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Failure sentinels exposed to callers. Every error returned by Client wraps
// exactly one of these so callers branch with errors.Is instead of parsing
// status codes or message text.
var (
	// ErrAuthExpired marks a 401 from the commerce API. The client consumes
	// it internally: one token refresh and one replay, then ErrUnauthorized.
	ErrAuthExpired = errors.New("access token expired")

	// ErrUnauthorized means credentials were rejected even after a refresh.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound maps 404 and unknown-identifier responses.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict maps 409 and stock conflicts.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState marks an operation whose local preconditions fail,
	// such as placing an order without a delivery address and mode.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrRemoteUnavailable is returned once the retry budget is exhausted.
	ErrRemoteUnavailable = errors.New("commerce api unavailable")

	// ErrAmbiguousOutcome marks a non-idempotent request that died in
	// flight: the mutation may or may not have been applied. Callers must
	// reconcile by re-reading the cart, never by blind replay.
	ErrAmbiguousOutcome = errors.New("mutation outcome unknown")

	// ErrUpstream covers remaining 4xx responses with the server message.
	ErrUpstream = errors.New("commerce api rejected request")
)

// errTransient marks failures worth another attempt. Internal only; the
// retry loop converts it into ErrRemoteUnavailable once attempts run out.
var errTransient = errors.New("transient failure")

/* ------------------------------ OCC error body ------------------------------ */

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type apiErrorResponse struct {
	Errors []apiError `json:"errors"`
}

// decodeAPIErrors parses an OCC error payload. A body that is not the
// documented shape yields an empty slice, never an error.
func decodeAPIErrors(body []byte) []apiError {
	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	return parsed.Errors
}

func joinAPIErrors(apiErrs []apiError, fallback string) string {
	if len(apiErrs) == 0 {
		return fallback
	}
	parts := make([]string, 0, len(apiErrs))
	for _, e := range apiErrs {
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			msg = e.Type
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// hasAPIErrorType reports whether any error entry carries the given type.
// OCC signals unknown product codes as 400 UnknownIdentifierError rather
// than 404, so status alone is not enough.
func hasAPIErrorType(apiErrs []apiError, errType string) bool {
	for _, e := range apiErrs {
		if strings.EqualFold(e.Type, errType) {
			return true
		}
	}
	return false
}

/* ------------------------------ transport classification ------------------------------ */

// isDialFailure reports whether the request never left this process. Dial
// failures are safe to retry even for non-idempotent operations.
func isDialFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// IsTimeout reports whether err chains to a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func ambiguousErr(method, path string, cause error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrAmbiguousOutcome, method, path, cause)
}

func transientErr(cause error) error {
	return fmt.Errorf("%w: %w", errTransient, cause)
}
