package graph

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// AuthError means the client-credentials grant failed: bad or missing
// credentials, a non-2xx token response, or a response without a token.
type AuthError struct {
	Status int
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("graph auth: http %d: %s", e.Status, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("graph auth: %v", e.Err)
	default:
		return "graph auth: " + e.Reason
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

func newAuthError(err error) *AuthError {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return &AuthError{
			Status: rerr.Response.StatusCode,
			Reason: string(rerr.Body),
			Err:    err,
		}
	}
	return &AuthError{Err: err}
}

// RemoteError is a non-2xx answer (or transport failure) from the Graph
// API itself, as opposed to the token endpoint.
type RemoteError struct {
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph api: %v", e.Err)
	}
	return fmt.Sprintf("graph api: http %d: %s", e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Unauthorized reports whether the remote rejected our cached token; the
// caller should Authenticate again before retrying.
func (e *RemoteError) Unauthorized() bool { return e.Status == 401 }

// DownloadError is a failed or interrupted file stream. Written is how
// many bytes reached the sink before the failure; that partial output
// must be discarded.
type DownloadError struct {
	Written int64
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("graph download: %v (after %d bytes)", e.Err, e.Written)
}

func (e *DownloadError) Unwrap() error { return e.Err }
