package api

import (
	"net/http"

	"PPChatSync/logger"
	"PPChatSync/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPStatus 错误码 → HTTP 状态
func HTTPStatus(err error) int {
	switch errs.CodeOf(err) {
	case errs.ArgsError:
		return http.StatusBadRequest
	case errs.NoPermissionError:
		return http.StatusForbidden
	case errs.RecordNotFoundError:
		return http.StatusNotFound
	case errs.NoSessionError:
		return http.StatusUnauthorized
	case errs.StoreUnavailableError:
		return http.StatusServiceUnavailable
	case errs.PartialWriteError:
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

func bodyOf(err error) errorBody {
	b := errorBody{Code: errs.ServerInternalError, Msg: "ServerInternalError", Retryable: errs.IsRetryable(err)}
	if ce, ok := errs.AsCodeError(err); ok {
		b.Code, b.Msg, b.Detail = ce.Code, ce.Msg, ce.Detail
	}
	return b
}

func writeErr(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[api] request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, bodyOf(err))
}

func badRequest(c *gin.Context, err error) {
	writeErr(c, errs.ErrValidation.WrapMsg("bad request body", "err", err.Error()))
}
