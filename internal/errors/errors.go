// Package errors 定义文本分析管道统一使用的错误码与错误类型。
package errors

import (
	stdErrors "errors"
	"maps"
	"strings"
)

// Error 携带错误码、可选的底层原因与附加信息。
// 属性在读取时才查注册表，包级变量里提前构造的错误也能拿到 init 中注册的描述。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string

	retry *bool
	sev   *Severity
}

// Option 调整单个错误实例，不影响错误码的注册属性。
type Option func(*Error)

// WithMetadata 附加额外信息，例如 provider、status 或任务 ID。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retry = &retryable }
}

func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.sev = &sev }
}

// New 创建错误，message 为空时使用错误码注册的描述。
func New(code Code, message string, opts ...Option) *Error {
	return (&Error{code: code, message: message}).apply(opts)
}

// Wrap 在 cause 外包裹错误码。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	return (&Error{code: code, message: message, cause: cause}).apply(opts)
}

func (e *Error) apply(opts []Option) *Error {
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// attributes 合并注册表属性与实例上的覆盖项。
func (e *Error) attributes() Attributes {
	attr := AttributesOf(e.code)
	if e.message != "" {
		attr.Message = e.message
	}
	if e.retry != nil {
		attr.Retryable = *e.retry
	}
	if e.sev != nil {
		attr.Severity = *e.sev
	}
	return attr
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[" + string(e.code) + "] " + e.attributes().Message)
	if e.cause != nil {
		b.WriteString(": " + e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && e != nil && other != nil && e.code == other.code
}

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
	return e.attributes().Message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	return e != nil && e.attributes().Retryable
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attributes().Severity
}

// From 从 error 链中取出最外层的统一错误。
func From(err error) (*Error, bool) {
	var coded *Error
	ok := err != nil && stdErrors.As(err, &coded)
	return coded, ok
}

// CodeOf 返回错误对应的错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	coded, _ := From(err)
	return coded.Code()
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	coded, _ := From(err)
	return coded.Retryable()
}

// SeverityOf 返回错误严重程度，非统一错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	coded, ok := From(err)
	if !ok {
		return AttributesOf(CodeUnknown).Severity
	}
	return coded.Severity()
}
