package errors

import stdErrors "errors"

// From 返回错误链上最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链上任意一层是否为 code。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && e.ShouldAlert()
}

func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// Annotate 为错误附加字段。统一错误原地追加，其他错误包装为 UNKNOWN。
func Annotate(err error, key, value string) error {
	if err == nil {
		return nil
	}
	if e, ok := From(err); ok {
		WithMetadata(key, value)(e)
		return err
	}
	return Wrap(CodeUnknown, err, "", WithMetadata(key, value))
}

// 命令行退出码。
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitInput        = 3
	ExitDeployment   = 4
	ExitVerification = 5
	ExitUnavailable  = 6
)

// ExitCode 把错误映射为命令行退出码，便于脚本区分输入问题与链上失败。
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return ExitUsage
	case CodeMissingInputField, CodeSignerResolutionFailure, CodeArtifactNotFound, CodeNotFound, CodeReadOnly:
		return ExitInput
	case CodeDeploymentFailure:
		return ExitDeployment
	case CodeVerificationFailure:
		return ExitVerification
	case CodeNetworkFailure, CodeStorageFailure, CodeQueueFailure, CodeTimeout, CodeInitializationFailure:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
