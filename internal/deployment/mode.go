package deployment

import (
	"strings"

	xerrors "contract-deployer/internal/errors"
)

// Mode 控制任务对链的读写方式。
type Mode string

const (
	// ModeLive 部署、记录并校验。
	ModeLive Mode = "live"
	// ModeTest 部署并记录，不做校验。
	ModeTest Mode = "test"
	// ModeCheck 不部署，只校验已记录的地址。
	ModeCheck Mode = "check"
	// ModeReadOnly 禁止部署，只返回已记录的合约。
	ModeReadOnly Mode = "readonly"
)

// ParseMode 解析运行模式，空字符串视为 live。
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeLive:
		return ModeLive, nil
	case ModeTest:
		return ModeTest, nil
	case ModeCheck:
		return ModeCheck, nil
	case ModeReadOnly:
		return ModeReadOnly, nil
	default:
		return "", xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的运行模式 %q", value)
	}
}

// CanDeploy 报告该模式是否允许发送部署交易。
func (m Mode) CanDeploy() bool {
	return m == ModeLive || m == ModeTest
}

// Verifies 报告该模式是否在部署后执行校验。
func (m Mode) Verifies() bool {
	return m == ModeLive || m == ModeCheck || m == ModeReadOnly
}
