package errors

import "sync"

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	// 部署流程相关错误码。
	CodeMissingInputField       Code = "MISSING_INPUT_FIELD"
	CodeSignerResolutionFailure Code = "SIGNER_RESOLUTION_FAILURE"
	CodeDeploymentFailure       Code = "DEPLOYMENT_FAILURE"
	CodeVerificationFailure     Code = "VERIFICATION_FAILURE"
	CodeArtifactNotFound        Code = "ARTIFACT_NOT_FOUND"
	CodeNetworkFailure          Code = "NETWORK_FAILURE"
	CodeReadOnly                Code = "READ_ONLY"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},

		CodeMissingInputField:       {Message: "missing input field", Severity: SeverityWarning},
		CodeSignerResolutionFailure: {Message: "no signer could be resolved", Severity: SeverityWarning},
		CodeDeploymentFailure:       {Message: "contract deployment failed", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeVerificationFailure:     {Message: "contract verification failed", Severity: SeverityWarning, Alert: true},
		CodeArtifactNotFound:        {Message: "artifact not found", Severity: SeverityWarning},
		CodeNetworkFailure:          {Message: "network unavailable", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeReadOnly:                {Message: "task is read-only", Severity: SeverityInfo},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}
