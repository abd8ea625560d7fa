package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"freelancehub/pkg/apperror"
	"freelancehub/pkg/circuitbreaker"
)

// IsRetryableError 判断错误是否值得重试，并返回错误类型标签（用于日志和指标）
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 业务错误优先按错误码判断
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperror.CodeConflict:
			return true, "version_conflict"
		case apperror.CodeLockTimeout:
			return true, "lock_timeout"
		case apperror.CodeUnavailable:
			return true, "unavailable"
		}
		if apperror.IsBusiness(err) {
			return false, string(appErr.Code)
		}
	}

	// JSON 错误 - 数据格式问题，不可重试
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return false, "duplicate_key"
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true, "db_serialization"
		}
		return false, "db_error"
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}

	// context.DeadlineExceeded 也实现了 net.Error，必须先判断
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 未知错误保守处理 - 不重试
	return false, "unknown_error"
}
