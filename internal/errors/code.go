package errors

import (
	"slices"
	"sync"
)

// Code 是 SDK 与守护进程共享的错误码。
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Severity 决定告警分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码的默认描述与处理策略。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	codesMu sync.RWMutex
	codes   = map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, true},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
		CodeNotFound:              {"resource not found", SeverityInfo, false, false},
		CodeConflict:              {"resource conflict", SeverityWarning, false, false},
		CodeInitializationFailure: {"client not initialized", SeverityWarning, true, true},
		CodeUnauthenticated:       {"unauthenticated", SeverityWarning, false, false},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, true},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, true},
		CodeUpstreamFailure:       {"upstream service failure", SeverityWarning, true, true},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, true},
	}
)

// Register 登记业务错误码，通常在包的 init 中调用。重复登记以最后一次为准。
func Register(code Code, attr Attributes) {
	codesMu.Lock()
	codes[code] = attr
	codesMu.Unlock()
}

// Registered 按字典序返回全部已登记的错误码。
func Registered() []Code {
	codesMu.RLock()
	defer codesMu.RUnlock()
	keys := make([]Code, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// AttributesOf 返回错误码的属性，未登记的按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	codesMu.RLock()
	defer codesMu.RUnlock()
	if attr, ok := codes[code]; ok {
		return attr
	}
	return codes[CodeUnknown]
}
