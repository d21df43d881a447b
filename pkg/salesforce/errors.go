package salesforce

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

const maxErrorBody = 4096

// Static errors
var (
	ErrBadQuery       = errors.New("bad query")
	ErrNotQueryable   = errors.New("object not queryable")
	ErrSessionExpired = errors.New("session expired or invalid, re-authenticate")
	ErrObjectNotFound = errors.New("object does not exist")
	ErrResultGone     = errors.New("result set no longer exists")
	ErrRateLimited    = errors.New("request limit exceeded")
)

// StatusError is a non-2xx response. It stays inside a *failure.Error so
// callers can still inspect the status when they need to.
type StatusError struct {
	Status     int
	Code       string
	Message    string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}

	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// RetryAfter returns the delay the server asked for, if any
func (e *StatusError) RetryAfter() time.Duration {
	return e.retryAfter
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}

	return 0
}

type bulkError struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `json:"exceptionCode" xml:"exceptionCode"`
	Message string   `json:"exceptionMessage" xml:"exceptionMessage"`
}

type restError struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

// parseRemoteError extracts the remote code and message from an error body
// in any of the shapes the service uses.
func parseRemoteError(body []byte) (string, string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ""
	}

	switch trimmed[0] {
	case '[':
		var errs []restError
		if json.Unmarshal(body, &errs) == nil && len(errs) > 0 {
			return errs[0].Code, errs[0].Message
		}
	case '{':
		var be bulkError
		if json.Unmarshal(body, &be) == nil && be.Code != "" {
			return be.Code, be.Message
		}

		var re restError
		if json.Unmarshal(body, &re) == nil && re.Code != "" {
			return re.Code, re.Message
		}
	case '<':
		var be bulkError
		if xml.Unmarshal(body, &be) == nil && be.Code != "" {
			return be.Code, be.Message
		}
	}

	if len(trimmed) > maxErrorBody {
		trimmed = trimmed[:maxErrorBody]
	}

	return "", trimmed
}

// classifyResponse turns a non-2xx response into a classified error
func classifyResponse(op string, resp *http.Response, body []byte) error {
	code, msg := parseRemoteError(body)

	se := &StatusError{Status: resp.StatusCode, Code: code, Message: msg}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			se.retryAfter = time.Duration(secs) * time.Second
		}
	}

	return classify(op, resp.StatusCode, code, msg, se)
}

// classify maps a remote code and HTTP status onto the failure taxonomy.
// status is 0 for errors reported inside a successful response, such as a
// failed batch's state message.
func classify(op string, status int, code, msg string, cause error) error {
	fe := &failure.Error{Op: op, Code: code, Err: cause}
	if cause == nil {
		fe.Message = msg
	}

	switch code {
	case "InvalidSessionId", "INVALID_SESSION_ID", "INVALID_AUTH_HEADER":
		fe.Kind = failure.KindExpiredSession
		fe.Err = join(ErrSessionExpired, cause)

		return fe
	case "MALFORMED_QUERY", "INVALID_FIELD", "INVALID_QUERY_FILTER_OPERATOR", "INVALID_QUERY_SCOPE",
		"QUERY_TOO_COMPLICATED", "InvalidBatch", "ClientInputError":
		fe.Kind = failure.KindPermanent
		fe.Err = join(ErrBadQuery, cause)

		return fe
	case "INVALID_TYPE", "InvalidEntity", "EntityIsNotQueryable", "InvalidJob", "FeatureNotEnabled",
		"INVALID_OPERATION":
		fe.Kind = failure.KindPermanent
		fe.Err = join(ErrNotQueryable, cause)

		return fe
	case "INVALID_OPERATION_WITH_EXPIRED_PASSWORD":
		fe.Kind = failure.KindAuth

		return fe
	case "NOT_FOUND":
		fe.Kind = failure.KindNotFound

		return fe
	case "REQUEST_LIMIT_EXCEEDED", "ExceededQuota", "TooManyLockFailure", "SERVER_UNAVAILABLE", "UNABLE_TO_LOCK_ROW":
		fe.Kind = failure.KindTransient
		fe.Err = join(ErrRateLimited, cause)

		return fe
	}

	switch {
	case status == http.StatusUnauthorized:
		fe.Kind = failure.KindExpiredSession
		fe.Err = join(ErrSessionExpired, cause)
	case status == http.StatusNotFound:
		fe.Kind = failure.KindNotFound
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		fe.Kind = failure.KindTransient
	case status >= http.StatusBadRequest:
		fe.Kind = failure.KindPermanent
	default:
		fe.Kind = failure.KindPermanent
		fe.Err = join(failureFromMessage(msg), cause)
	}

	return fe
}

// failureFromMessage picks the closest sentinel for a free-text diagnostic
// such as a failed batch's state message.
func failureFromMessage(msg string) error {
	switch {
	case strings.Contains(msg, "MALFORMED_QUERY"), strings.Contains(msg, "INVALID_FIELD"):
		return ErrBadQuery
	case strings.Contains(msg, "INVALID_TYPE"), strings.Contains(msg, "not supported by the Bulk API"):
		return ErrNotQueryable
	default:
		return nil
	}
}

// classifyBatchMessage classifies the state message of a failed batch
func classifyBatchMessage(op, msg string) error {
	code := ""
	if i := strings.Index(msg, " : "); i > 0 {
		code = strings.TrimSpace(msg[:i])
	}

	for _, c := range []string{"InvalidSessionId", "MALFORMED_QUERY", "INVALID_FIELD", "INVALID_TYPE"} {
		if strings.Contains(msg, c) {
			code = c
			break
		}
	}

	return classify(op, 0, code, msg, nil)
}

func join(sentinel, cause error) error {
	switch {
	case sentinel == nil:
		return cause
	case cause == nil:
		return sentinel
	default:
		return fmt.Errorf("%w: %w", sentinel, cause)
	}
}
