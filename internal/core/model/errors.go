package model

import (
	"errors"
	"fmt"
)

// ErrorCode 错误代码
type ErrorCode int

const (
	// ErrNotFound 实例不存在
	ErrNotFound ErrorCode = iota + 1
	// ErrStaleUpdate 状态更新时间早于最后检查时间
	ErrStaleUpdate
	// ErrProbeTimeout 探测超时
	ErrProbeTimeout
	// ErrProbeConnectionFailure 探测连接失败
	ErrProbeConnectionFailure
	// ErrProbeMalformedResponse 探测响应格式错误
	ErrProbeMalformedResponse
	// ErrRegistrationValidation 注册参数校验失败
	ErrRegistrationValidation
	// ErrInternal 内部错误
	ErrInternal
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:               "NotFound",
	ErrStaleUpdate:            "StaleUpdate",
	ErrProbeTimeout:           "ProbeTimeout",
	ErrProbeConnectionFailure: "ProbeConnectionFailure",
	ErrProbeMalformedResponse: "ProbeMalformedResponse",
	ErrRegistrationValidation: "RegistrationValidationError",
	ErrInternal:               "Internal",
}

// String 返回错误代码名称
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error 带错误代码的业务错误
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误代码比较，便于 errors.Is(err, &Error{Code: ErrNotFound})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError 创建业务错误
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewNotFoundError 创建实例不存在错误
func NewNotFoundError(id string) *Error {
	return &Error{Code: ErrNotFound, Message: "实例不存在: " + id}
}

// NewStaleUpdateError 创建过期更新错误
func NewStaleUpdateError(id string) *Error {
	return &Error{Code: ErrStaleUpdate, Message: "状态更新已过期: " + id}
}

// NewValidationError 创建注册校验错误
func NewValidationError(message string, err error) *Error {
	return &Error{Code: ErrRegistrationValidation, Message: message, Err: err}
}

// CodeOf 提取错误代码，非业务错误返回0
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsNotFound 判断是否为实例不存在错误
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsStaleUpdate 判断是否为过期更新错误
func IsStaleUpdate(err error) bool {
	return CodeOf(err) == ErrStaleUpdate
}

// IsValidation 判断是否为注册校验错误
func IsValidation(err error) bool {
	return CodeOf(err) == ErrRegistrationValidation
}
