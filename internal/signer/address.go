package signer

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "contract-deployer/internal/errors"
)

// Addresser is anything with an on-chain address: signers, contract
// instances, deployment records.
type Addresser interface {
	Address() common.Address
}

// ToAddress normalizes identities, contracts and hex strings to an address.
func ToAddress(v any) (common.Address, error) {
	switch value := v.(type) {
	case nil:
		return common.Address{}, xerrors.New(xerrors.CodeMissingInputField, "地址为空")
	case common.Address:
		return value, nil
	case *common.Address:
		if value == nil {
			return common.Address{}, xerrors.New(xerrors.CodeMissingInputField, "地址为空")
		}
		return *value, nil
	case *Signer:
		if value == nil {
			return common.Address{}, xerrors.New(xerrors.CodeMissingInputField, "签名账户为空")
		}
		return value.Address(), nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return common.Address{}, xerrors.New(xerrors.CodeMissingInputField, "地址为空")
		}
		if !common.IsHexAddress(trimmed) {
			return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "无效的地址 %q", trimmed)
		}
		return common.HexToAddress(trimmed), nil
	case Addresser:
		return value.Address(), nil
	default:
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "无法将 %T 转换为地址", v)
	}
}
