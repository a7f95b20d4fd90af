package errors

import (
	stdErrors "errors"
	"maps"
)

// Error 是带错误码的统一错误类型。未覆盖的属性在使用时从错误码的登记信息中读取，
// 因此包级哨兵错误可以在 Register 之前构造。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string

	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 调整单个错误实例的属性。
type Option func(*Error)

// WithMetadata 附加一对键值，例如 wallet_id。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 1)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码的可重试属性。
func WithRetryable(v bool) Option { return func(e *Error) { e.retryable = &v } }

// WithAlert 覆盖错误码的告警属性。
func WithAlert(v bool) Option { return func(e *Error) { e.alert = &v } }

// WithSeverity 覆盖错误码的严重程度。
func WithSeverity(v Severity) Option { return func(e *Error) { e.severity = &v } }

// New 创建错误，message 为空时使用错误码的默认描述。
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

// Wrap 以指定错误码包裹 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 的格式为 "[CODE] message: cause"。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := "[" + string(e.code) + "] " + e.message
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码匹配，使 errors.Is 能识别同码的哨兵错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码，nil 视为 UNKNOWN。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// resolved 合并错误码默认值与实例覆盖值。
func (e *Error) resolved() Attributes {
	attr := AttributesOf(e.code)
	if e.retryable != nil {
		attr.Retryable = *e.retryable
	}
	if e.alert != nil {
		attr.Alert = *e.alert
	}
	if e.severity != nil {
		attr.Severity = *e.severity
	}
	return attr
}

// Retryable 判断错误是否可以重试。
func (e *Error) Retryable() bool { return e != nil && e.resolved().Retryable }

// ShouldAlert 判断错误是否需要告警。
func (e *Error) ShouldAlert() bool { return e != nil && e.resolved().Alert }

// Severity 返回严重程度，nil 视为 info。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.resolved().Severity
}

// From 返回错误链中最外层的统一错误。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回最外层统一错误的错误码，没有时为 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

// HasCode 判断错误链中任意一层是否带有指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// RetryableError 判断任意 error 是否可重试，非统一错误一律不可重试。
func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

// ShouldAlert 判断任意 error 是否需要告警。
func ShouldAlert(err error) bool {
	e, _ := From(err)
	return e.ShouldAlert()
}

// SeverityOf 返回任意 error 的严重程度，非统一错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
