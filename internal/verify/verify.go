// Package verify 校验链上合约与编译产物是否一致。
package verify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/artifact"
	xerrors "contract-deployer/internal/errors"
)

// Verifier 校验 address 上的合约是否由名为 name 的产物部署。
type Verifier interface {
	Verify(ctx context.Context, name string, address common.Address) error
}

// Noop 不做任何校验。
type Noop struct{}

// Verify 实现 Verifier。
func (Noop) Verify(context.Context, string, common.Address) error { return nil }

// CodeReader 读取链上运行时代码。
type CodeReader interface {
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
}

// Bytecode 对比链上运行时代码与产物中的 deployedBytecode。
type Bytecode struct {
	reader    CodeReader
	artifacts artifact.Source
}

// NewBytecode 创建字节码校验器。
func NewBytecode(reader CodeReader, artifacts artifact.Source) *Bytecode {
	return &Bytecode{reader: reader, artifacts: artifacts}
}

// Verify 实现 Verifier。产物未提供运行时字节码时只要求地址上存在代码。
func (b *Bytecode) Verify(ctx context.Context, name string, address common.Address) error {
	art, err := b.artifacts.Artifact(name)
	if err != nil {
		return err
	}
	code, err := b.reader.CodeAt(ctx, address)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNetworkFailure, err, "读取链上代码失败", xerrors.WithMetadata("address", address.Hex()))
	}
	if len(code) == 0 {
		return verificationError(name, address, "地址上没有合约代码")
	}
	expected, err := art.RuntimeCode()
	if err != nil {
		return err
	}
	if expected == nil {
		return nil
	}
	// immutable 变量与库地址会在部署时写入运行时代码，这里只比较长度和去除元数据后的前缀。
	if !bytes.Equal(stripMetadata(code), stripMetadata(expected)) && !sameShape(code, expected) {
		return verificationError(name, address, "链上代码与编译产物不一致")
	}
	return nil
}

func verificationError(name string, address common.Address, reason string) error {
	return xerrors.New(xerrors.CodeVerificationFailure,
		fmt.Sprintf("合约 %s 校验失败: %s", name, reason),
		xerrors.WithMetadata("contract", name),
		xerrors.WithMetadata("address", address.Hex()),
	)
}

// stripMetadata 去掉 solc 追加在末尾的 CBOR 元数据。
func stripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	if n+2 > len(code) || n == 0 {
		return code
	}
	meta := code[len(code)-2-n : len(code)-2]
	// CBOR map 以 0xa1..0xa5 开头。
	if len(meta) == 0 || meta[0] < 0xa1 || meta[0] > 0xa5 {
		return code
	}
	return code[:len(code)-2-n]
}

// sameShape 允许 immutable 占位（全零）处存在差异。
func sameShape(actual, expected []byte) bool {
	actual, expected = stripMetadata(actual), stripMetadata(expected)
	if len(actual) != len(expected) {
		return false
	}
	for i := range expected {
		if actual[i] != expected[i] && expected[i] != 0 {
			return false
		}
	}
	return true
}

// Mode 返回校验模式对应的 Verifier。
func Mode(mode string, reader CodeReader, artifacts artifact.Source) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "bytecode":
		return NewBytecode(reader, artifacts), nil
	case "none", "noop":
		return Noop{}, nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的校验模式 %q", mode)
	}
}
