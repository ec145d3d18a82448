package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind is a closed set of provider failure classes, so the worker's
// failure handling can switch exhaustively.
type ErrorKind int

const (
	// KindAuth: the provider rejected our credentials. Non-retryable.
	KindAuth ErrorKind = iota
	// KindRateLimit: the provider throttled the call. Retryable.
	KindRateLimit
	// KindClient: any other 4xx.
	KindClient
	// KindServer: 5xx.
	KindServer
	// KindTimeout: the call did not complete in time.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "authentication_failure"
	case KindRateLimit:
		return "rate_limited"
	case KindClient:
		return "client_error"
	case KindServer:
		return "server_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

// classify maps a go-openai error onto the closed taxonomy.
func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}

	return &Error{Kind: KindServer, Message: err.Error()}
}

func classifyStatus(status int, message string) *Error {
	e := &Error{StatusCode: status, Message: message}
	switch {
	case status == 401:
		e.Kind = KindAuth
	case status == 429:
		e.Kind = KindRateLimit
	case status >= 400 && status < 500:
		e.Kind = KindClient
	case status >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindServer
	}
	return e
}
