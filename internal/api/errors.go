package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freelancehub/pkg/apperror"
	"freelancehub/pkg/logger"
)

// statusOf 把错误码映射成 HTTP 状态码
func statusOf(code apperror.Code) int {
	switch code {
	case apperror.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperror.CodeNotOwner, apperror.CodeNotAssignedFreelancer, apperror.CodeSelfBid, apperror.CodeForbidden:
		return http.StatusForbidden
	case apperror.CodeProjectNotFound, apperror.CodeBidNotFound, apperror.CodeMilestoneNotFound, apperror.CodeReviewNotFound:
		return http.StatusNotFound
	case apperror.CodeInvalidState, apperror.CodeDuplicateBid, apperror.CodeDuplicateReview, apperror.CodeConflict:
		return http.StatusConflict
	case apperror.CodeLockTimeout:
		return http.StatusLocked
	case apperror.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, log *zap.Logger, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// 客户端已经断开，写什么都没人收
		c.AbortWithStatus(499)
		return
	}

	code := apperror.CodeOf(err)
	status := statusOf(code)
	body := gin.H{"code": code, "error": err.Error()}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		body["error"] = appErr.Message
		if len(appErr.Meta) > 0 {
			body["meta"] = appErr.Meta
		}
	}
	if status >= http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		if code == apperror.CodeInternal {
			body["error"] = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": apperror.CodeInvalidArgument, "error": msg})
}
