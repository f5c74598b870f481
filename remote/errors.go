package remote

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTransport        = "REMOTE_TRANSPORT"
	TextCodeNotFound         = "REMOTE_NOT_FOUND"
	TextCodeConflict         = "REMOTE_CONFLICT"
	TextCodeRejected         = "REMOTE_REJECTED"
	TextCodeMissingRelated   = "MISSING_RELATED_RECORD"
	TextCodeNotAuthenticated = "NOT_AUTHENTICATED"
	TextCodeInvalidLogin     = "INVALID_CREDENTIALS"
)

// Transport wraps a failure to reach the backend. The result is retryable.
func Transport(err error, op string) error {
	if err == nil {
		return nil
	}
	return goerrors.WrapRetryable(err, goerrors.CategoryExternal, op+": backend unreachable").
		WithTextCode(TextCodeTransport)
}

// Reported wraps an error the backend answered with, such as a constraint
// violation or a malformed value.
func Reported(err error, category goerrors.Category, op string) error {
	if err == nil {
		return nil
	}
	code := TextCodeRejected
	if category == goerrors.CategoryConflict {
		code = TextCodeConflict
	}
	return goerrors.Wrap(err, category, op+": rejected by backend").
		WithTextCode(code)
}

// NotFound reports a missing row in table.
func NotFound(table string) error {
	return goerrors.New(table+": no matching row", goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithMetadata(map[string]any{"table": table})
}

// MissingRelated is a local logic error: an operation needs a related record
// that is not loaded, so no request was issued.
func MissingRelated(entity string) error {
	return goerrors.New(entity+" must be loaded first", goerrors.CategoryNotFound).
		WithTextCode(TextCodeMissingRelated).
		WithMetadata(map[string]any{"entity": entity})
}

// NotAuthenticated reports a call that needs a signed in user.
func NotAuthenticated() error {
	return goerrors.New("no authenticated user", goerrors.CategoryAuth).
		WithTextCode(TextCodeNotAuthenticated)
}

// InvalidCredentials reports a failed password sign in.
func InvalidCredentials() error {
	return goerrors.New("invalid login credentials", goerrors.CategoryAuth).
		WithTextCode(TextCodeInvalidLogin)
}

// TextCode returns the text code of a go-errors value anywhere in the chain.
func TextCode(err error) string {
	var retryable *goerrors.RetryableError
	if errors.As(err, &retryable) && retryable.BaseError != nil {
		return retryable.TextCode
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

func IsTransport(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return TextCode(err) == TextCodeTransport
}

func IsNotFound(err error) bool {
	return TextCode(err) == TextCodeNotFound
}

func IsConflict(err error) bool {
	return goerrors.IsCategory(err, goerrors.CategoryConflict)
}

func IsMissingRelated(err error) bool {
	return TextCode(err) == TextCodeMissingRelated
}

func IsNotAuthenticated(err error) bool {
	return TextCode(err) == TextCodeNotAuthenticated
}

// AsRich returns the go-errors value behind err, if any.
func AsRich(err error) (*goerrors.Error, bool) {
	var retryable *goerrors.RetryableError
	if errors.As(err, &retryable) && retryable.BaseError != nil {
		return retryable.BaseError, true
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich, true
	}
	return nil, false
}
