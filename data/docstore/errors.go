package docstore

import (
	"context"

	"PPChatSync/tools/errs"

	"github.com/pkg/errors"
)

// Classify 把存储层错误折成对外的 CodeError：
// 记录不存在 → NotFound；ctx 取消/超时原样返回；其余视为存储暂不可用（可重试）。
func Classify(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.AsCodeError(err); ok {
		return err
	}
	if IsNotFound(err) {
		return errs.ErrNotFound.WrapErr(err, msg, kv...)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.WithMessage(err, msg)
	}
	return errs.ErrStoreUnavailable.WrapErr(err, msg, kv...)
}
