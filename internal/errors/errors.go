// Package errors 定义部署工具统一的错误码错误。错误码的默认属性
// （严重程度、是否重试、是否告警）来自注册表，单个错误可以覆盖。
package errors

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Error 携带错误码、可读信息、原因与附加字段。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string

	// 以下字段为空时回落到注册表。
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 调整单个错误的属性。
type Option func(*Error)

// WithMetadata 附加一个键值，例如合约名、网络名。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 1)
		}
		e.metadata[key] = value
	}
}

func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

func WithAlert(alert bool) Option {
	return func(e *Error) { e.alert = &alert }
}

func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建错误。message 为空时使用错误码注册的默认信息。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	if e.message == "" {
		e.message = AttributesOf(code).Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 以格式化信息创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 用错误码包装 cause，cause 仍可通过 errors.Is/As 取到。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 只比较错误码，因此 errors.Is(err, ErrX) 对同码的任意实例成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码，nil 时为 UNKNOWN。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加字段的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable == nil {
		return AttributesOf(e.code).Retryable
	}
	return *e.retryable
}

func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert == nil {
		return AttributesOf(e.code).Alert
	}
	return *e.alert
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity == nil {
		return AttributesOf(e.code).Severity
	}
	return *e.severity
}

// LogValue 让 slog 以分组形式输出错误码、信息、原因与附加字段。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	keys := slices.Sorted(maps.Keys(e.metadata))
	for _, key := range keys {
		attrs = append(attrs, slog.String(key, e.metadata[key]))
	}
	return slog.GroupValue(attrs...)
}
