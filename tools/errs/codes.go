package errs

import "errors"

const (
	ServerInternalError = 500

	ArgsError           = 1001 // 参数校验失败（空文本、缺少附件 url、群人数不足）
	NoPermissionError   = 1002 // 无权操作（非发送者撤回、移除群主、非群主解散）
	RecordNotFoundError = 1004 // 会话/消息已不存在
	PartialWriteError   = 1005 // 多步写入中途失败，已提交部分不回滚

	NoSessionError        = 1501 // 没有登录用户
	StoreUnavailableError = 1502 // 存储暂不可用，可重试
)

var (
	ErrInternalServer   = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrValidation       = NewCodeError(ArgsError, "ValidationError")
	ErrPermissionDenied = NewCodeError(NoPermissionError, "PermissionDenied")
	ErrNotFound         = NewCodeError(RecordNotFoundError, "NotFound")
	ErrPartialWrite     = NewCodeError(PartialWriteError, "PartialWriteFailure")
	ErrNoSession        = NewCodeError(NoSessionError, "NoSession")
	ErrStoreUnavailable = NewCodeError(StoreUnavailableError, "StoreUnavailable")
)

// IsRetryable 暂时性错误，展示层可以提示“重试”
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsPermanent 永久性错误，重试不会改变结果
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case ArgsError, NoPermissionError, RecordNotFoundError, NoSessionError:
		return true
	}
	return false
}
