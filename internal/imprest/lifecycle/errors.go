package lifecycle

import (
	"errors"
	"fmt"
)

// Kind 错误类别，调用方据此映射HTTP状态
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindPreconditionFailed Kind = "precondition_failed"
	KindValidationFailed   Kind = "validation_failed"
	KindConflict           Kind = "conflict"
)

// Error carries a denial reason as data. Engine operations return it before
// any mutation happens, so a denied transition leaves the aggregate unchanged.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func PreconditionFailedf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

func ValidationFailedf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf 提取错误类别，非生命周期错误返回空
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
