package github

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v53/github"
)

// AuthenticationError means the invoking credentials are missing or
// rejected. It is fatal: the run aborts before any repository is processed.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NotFoundError means the named entity does not exist or is not visible to
// the invoking credentials. Fatal in single-repository mode.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RateLimitError means the API throttled the request. Recoverable via
// bounded retry with backoff; Reset is the server-advertised time at which
// the quota replenishes (zero when unknown).
type RateLimitError struct {
	Reset time.Time
	Err   error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// classify maps go-github errors onto the scanner's error taxonomy.
// Errors outside the taxonomy (transport failures and the like) pass
// through unchanged.
func classify(resource string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitError{Reset: rateErr.Rate.Reset.Time, Err: err}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		reset := time.Time{}
		if abuseErr.RetryAfter != nil {
			reset = time.Now().Add(*abuseErr.RetryAfter)
		}
		return &RateLimitError{Reset: reset, Err: err}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthenticationError{Err: err}
		case http.StatusNotFound:
			return &NotFoundError{Resource: resource, Err: err}
		}
	}

	return err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
