package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
)

// normalizeArgs 将调用方传入的构造参数转换为 ABI 编码所需的 Go 类型。
func normalizeArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "构造函数需要 %d 个参数，实际提供 %d 个", len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, input := range inputs {
		value, err := normalizeArg(input.Type, args[i])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("构造参数 %s 无效", argName(input, i)), xerrors.WithMetadata("argument", argName(input, i)))
		}
		out[i] = value
	}
	return out, nil
}

func normalizeArg(typ abi.Type, value any) (any, error) {
	switch typ.T {
	case abi.AddressTy:
		return signer.ToAddress(value)
	case abi.SliceTy:
		if typ.Elem != nil && typ.Elem.T == abi.AddressTy {
			return toAddressSlice(value)
		}
	case abi.UintTy, abi.IntTy:
		if typ.Size > 64 {
			return toBigInt(value)
		}
	}
	return value, nil
}

func toAddressSlice(value any) ([]common.Address, error) {
	switch values := value.(type) {
	case []common.Address:
		return values, nil
	case []string:
		out := make([]common.Address, len(values))
		for i, v := range values {
			addr, err := signer.ToAddress(v)
			if err != nil {
				return nil, err
			}
			out[i] = addr
		}
		return out, nil
	case []any:
		out := make([]common.Address, len(values))
		for i, v := range values {
			addr, err := signer.ToAddress(v)
			if err != nil {
				return nil, err
			}
			out[i] = addr
		}
		return out, nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "无法将 %T 转换为地址数组", value)
	}
}

func toBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case nil:
		return nil, xerrors.New(xerrors.CodeMissingInputField, "数值参数为空")
	case *big.Int:
		return v, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, xerrors.New(xerrors.CodeMissingInputField, "数值参数为空")
		}
		n, ok := new(big.Int).SetString(trimmed, 0)
		if !ok {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "无效的数值 %q", trimmed)
		}
		return n, nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "无法将 %T 转换为整数", value)
	}
}

func argName(input abi.Argument, index int) string {
	if input.Name != "" {
		return input.Name
	}
	return fmt.Sprintf("arg%d", index)
}
