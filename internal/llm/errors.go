package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

var (
	ErrRateLimited       = errors.New("llm: rate limited")
	ErrInvalidCredential = errors.New("llm: invalid credential")
	ErrTimeout           = errors.New("llm: call timed out")
	ErrEmptyResponse     = errors.New("llm: empty response")
)

// FailureKind is the coarse classification driving the retry ladder:
// rate limits rotate the key pool, invalid credentials evict from it,
// everything else rotates with backoff.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureRateLimited
	FailureInvalidCredential
	FailureTimeout
	FailureEmptyResponse
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidCredential:
		return "invalid_credential"
	case FailureTimeout:
		return "timeout"
	case FailureEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

// Classify maps an error from either provider SDK onto the retry
// taxonomy. Unrecognized errors are FailureUnknown, which the caller
// treats as transient.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrInvalidCredential):
		return FailureInvalidCredential
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrEmptyResponse):
		return FailureEmptyResponse
	}

	var gerr genai.APIError
	if errors.As(err, &gerr) {
		return classifyStatus(gerr.Code, gerr.Message)
	}
	var oerr *openai.APIError
	if errors.As(err, &oerr) {
		return classifyStatus(oerr.HTTPStatusCode, oerr.Message)
	}

	// Fallback for wrapped transport errors that lost their type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"):
		return FailureRateLimited
	case strings.Contains(msg, "api key"), strings.Contains(msg, "api_key_invalid"), strings.Contains(msg, "unauthorized"):
		return FailureInvalidCredential
	}
	return FailureUnknown
}

func classifyStatus(code int, message string) FailureKind {
	switch code {
	case 429:
		return FailureRateLimited
	case 401, 403:
		return FailureInvalidCredential
	case 400:
		// Gemini reports expired or malformed keys as 400 with an
		// API_KEY_INVALID reason rather than a 401.
		m := strings.ToLower(message)
		if strings.Contains(m, "api key") || strings.Contains(m, "api_key_invalid") {
			return FailureInvalidCredential
		}
	}
	return FailureUnknown
}
