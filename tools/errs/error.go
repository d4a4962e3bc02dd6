package errs

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ErrWrapper 给普通错误附加一段上下文说明
type ErrWrapper interface {
	Is(err error) bool
	Wrap() error
	Unwrap() error
	WrapMsg(msg string, kv ...any) error
	error
}

func NewErrorWrapper(err error, s string) ErrWrapper {
	return &errorWrapper{error: err, s: s}
}

type errorWrapper struct {
	error
	s string
}

func (e *errorWrapper) Is(err error) bool {
	if err == nil {
		return false
	}
	var t *errorWrapper
	if ok := pkgerrors.As(err, &t); ok {
		return t.s == e.s
	}
	return false
}

func (e *errorWrapper) Error() string {
	if e.s == "" {
		return e.error.Error()
	}
	return e.s + ": " + e.error.Error()
}

func (e *errorWrapper) Wrap() error {
	return pkgerrors.WithStack(e)
}

func (e *errorWrapper) WrapMsg(msg string, kv ...any) error {
	return pkgerrors.WithStack(NewErrorWrapper(e, toString(msg, kv)))
}

func (e *errorWrapper) Unwrap() error {
	return e.error
}

// New 生成一个带调用栈的普通错误，kv 追加为 "key=value" 详情
func New(s string, kv ...any) error {
	return pkgerrors.New(toString(s, kv))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(NewErrorWrapper(err, toString(msg, kv)))
}

func toString(s string, kv []any) string {
	if len(kv) == 0 {
		return s
	}
	var sb strings.Builder
	sb.WriteString(s)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
