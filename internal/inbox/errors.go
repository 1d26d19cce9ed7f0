package inbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inboxsync/internal/backend"
)

// Kind is the user-facing category of a failure.
type Kind string

const (
	KindIdentityMissing Kind = "identity_missing"
	KindDisconnected    Kind = "disconnected"
	KindAuthExpired     Kind = "auth_expired"
	KindConsentRequired Kind = "consent_required"
	KindRateLimited     Kind = "rate_limited"
	KindGeneric         Kind = "generic"
)

var (
	// ErrIdentityMissing is returned before any network call when no account
	// email is known.
	ErrIdentityMissing = errors.New("no account email configured")

	// ErrNotSupported is returned when the backend lacks an operation, such
	// as classification on a plain IMAP mailbox.
	ErrNotSupported = errors.New("operation not supported by backend")
)

// Error is a failure translated into a status message for display.
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClearsCache reports whether cached data should be dropped because the
// session behind it is no longer valid.
func (e *Error) ClearsCache() bool {
	return e.Kind == KindDisconnected || e.Kind == KindAuthExpired
}

// Classify maps an error from a backend call onto the taxonomy. It never
// returns nil for a non-nil err.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, ErrIdentityMissing) {
		return &Error{
			Kind:    KindIdentityMissing,
			Message: "No account email is configured. Run 'inboxsync auth login' first.",
			Err:     err,
		}
	}

	out := &Error{Kind: KindGeneric, Detail: err.Error(), Err: err}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.StatusCode
		out.Detail = apiErr.Detail
		out.RetryAfter = apiErr.RetryAfter
	}

	switch {
	case out.StatusCode == http.StatusNotFound ||
		strings.Contains(out.Detail, "No Google account connected"):
		out.Kind = KindDisconnected
		out.Message = "No account is connected. Connect your account to load mail."
	case out.StatusCode == http.StatusUnauthorized ||
		strings.Contains(out.Detail, "Invalid Credentials") ||
		strings.Contains(out.Detail, "UNAUTHENTICATED"):
		out.Kind = KindAuthExpired
		out.Message = "Your session has expired. Reconnect your account."
	case strings.Contains(out.Detail, "insufficientAuthenticationScopes") ||
		strings.Contains(out.Detail, "insufficientPermissions"):
		out.Kind = KindConsentRequired
		out.Message = "Additional permissions are required. Grant access again to continue."
	case out.StatusCode == http.StatusTooManyRequests:
		out.Kind = KindRateLimited
		out.Message = rateLimitMessage(out.RetryAfter)
	default:
		out.Message = out.Detail
		if out.Message == "" {
			out.Message = "Request failed"
		}
	}
	return out
}

func rateLimitMessage(retryAfter time.Duration) string {
	if retryAfter <= 0 {
		return "Rate limited, try again later"
	}
	secs := int((retryAfter + time.Second - 1) / time.Second)
	return fmt.Sprintf("Rate limited, retry after %ds", secs)
}
