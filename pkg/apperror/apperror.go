package apperror

import (
	"errors"
	"fmt"
)

// Code 稳定的错误码，供调用方和 HTTP 层做分支处理
type Code string

const (
	// 业务规则错误：同步返回给调用方，不自动重试
	CodeInvalidState          Code = "invalid_state"
	CodeNotOwner              Code = "not_owner"
	CodeNotAssignedFreelancer Code = "not_assigned_freelancer"
	CodeSelfBid               Code = "self_bid"
	CodeDuplicateBid          Code = "duplicate_bid"
	CodeBidNotFound           Code = "bid_not_found"
	CodeMilestoneNotFound     Code = "milestone_not_found"
	CodeProjectNotFound       Code = "project_not_found"
	CodeDuplicateReview       Code = "duplicate_review"
	CodeReviewNotFound        Code = "review_not_found"
	CodeInvalidArgument       Code = "invalid_argument"
	CodeForbidden             Code = "forbidden"

	// 并发冲突：调用方可以重读后重试
	CodeConflict    Code = "conflict"
	CodeLockTimeout Code = "lock_timeout"

	// 基础设施错误
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// AppError carries a stable code, a user-facing message and optional metadata.
type AppError struct {
	Code    Code
	Message string
	Err     error
	Meta    map[string]any
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another *AppError by code so errors.Is(err, apperror.New(code, "")) works.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMeta attaches metadata to the error.
func (e *AppError) WithMeta(k string, v any) *AppError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[k] = v
	return e
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with code and message.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return New(code, message)
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first AppError in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsCode checks if an error has the provided code (through unwrapping).
func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsBusiness reports whether err is an expected business-rule rejection.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidState, CodeNotOwner, CodeNotAssignedFreelancer, CodeSelfBid,
		CodeDuplicateBid, CodeBidNotFound, CodeMilestoneNotFound, CodeProjectNotFound,
		CodeDuplicateReview, CodeReviewNotFound, CodeInvalidArgument, CodeForbidden:
		return true
	}
	return false
}

// IsRetryable reports whether the caller may re-read state and try again.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeLockTimeout:
		return true
	}
	return false
}
