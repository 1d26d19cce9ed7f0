package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Path       string
	// Detail is the most specific message found in the body: the JSON
	// "details", "error" or "message" field, else the raw text.
	Detail string
	// RetryAfter is set from a "retry_after" body field or the
	// Retry-After header. Advisory only.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s: status %d: %s", e.Path, e.StatusCode, e.Detail)
}

func newAPIError(status int, path string, header http.Header, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Path: path}

	detail, retryAfter, ok := parseErrorJSON(body)
	if ok {
		apiErr.Detail = detail
		apiErr.RetryAfter = retryAfter
	}
	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(status)
	}
	if apiErr.RetryAfter == 0 && header != nil {
		apiErr.RetryAfter = parseRetryAfterHeader(header.Get("Retry-After"), time.Now())
	}
	return apiErr
}

func parseErrorJSON(body []byte) (string, time.Duration, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", 0, false
	}

	var detail string
	for _, key := range []string{"details", "error", "message"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if text := rawText(raw); text != "" {
			detail = text
			break
		}
	}

	var retryAfter time.Duration
	if raw, ok := fields["retry_after"]; ok {
		retryAfter = parseRetryAfterValue(raw)
	}
	return detail, retryAfter, true
}

// rawText renders a JSON value as a message: strings as-is, objects by
// their "message" field, anything else as compact JSON.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

func parseRetryAfterValue(raw json.RawMessage) time.Duration {
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && n > 0 {
			return time.Duration(n * float64(time.Second))
		}
	}
	return 0
}

func parseRetryAfterHeader(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
