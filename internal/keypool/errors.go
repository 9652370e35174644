// internal/keypool/errors.go
package keypool

import (
	"errors"
	"fmt"
	"strings"
)

// StatusError carries the HTTP status of a failed provider call so the
// executor can classify it. Provider clients wrap non-2xx responses in this.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
}

// ErrInsufficientQuota is returned by the smart allocator when no secondary
// credential clears the task's quota threshold.
var ErrInsufficientQuota = errors.New("insufficient quota on all credentials")

// Class buckets a provider failure for retry/rotation decisions.
type Class int

const (
	// ClassFatal errors are credential-independent (malformed request,
	// schema violation): fail the whole operation immediately.
	ClassFatal Class = iota
	// ClassRateLimited (429, quota exhaustion): this credential is out of
	// budget; move to the next one after a short fixed delay.
	ClassRateLimited
	// ClassOverloaded (503/5xx, provider "overloaded"): transient on the
	// provider side; retry the same credential with backoff.
	ClassOverloaded
	// ClassBadKey (401/403, invalid-key messages): the credential itself is
	// broken; skip straight to the next one.
	ClassBadKey
)

// Classify buckets err by status code first, message substrings second.
func Classify(err error) Class {
	var se *StatusError
	msg := strings.ToLower(err.Error())
	if errors.As(err, &se) {
		switch {
		case se.Status == 429:
			return ClassRateLimited
		case se.Status == 401 || se.Status == 403:
			return ClassBadKey
		case se.Status == 402:
			return ClassRateLimited
		case se.Status >= 500:
			return ClassOverloaded
		}
	}
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return ClassRateLimited
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "unavailable"):
		return ClassOverloaded
	case strings.Contains(msg, "invalid key") || strings.Contains(msg, "api key not valid"):
		return ClassBadKey
	}
	return ClassFatal
}
