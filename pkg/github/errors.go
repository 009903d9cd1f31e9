package github

import "fmt"

// FetchError describes a failed GitHub API call. Transient marks errors worth
// retrying (network faults, rate limiting, server errors); permanent errors
// (bad credentials, missing repository) surface immediately.
type FetchError struct {
	StatusCode int
	URL        string
	Transient  bool
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("github fetch %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("github fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// IsRetryable satisfies the retry package's RetryableError interface.
func (e *FetchError) IsRetryable() bool { return e.Transient }
