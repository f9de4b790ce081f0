package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "contract-deployer/internal/errors"
)

// Artifact 描述一个已编译合约。
type Artifact struct {
	Name             string
	ABI              abi.ABI
	Bytecode         string
	DeployedBytecode string
	// LinkReferences 列出需要链接的库的全限定名（source:Library）。
	LinkReferences []string
}

type rawArtifact struct {
	ContractName     string                                `json:"contractName"`
	ABI              json.RawMessage                       `json:"abi"`
	Bytecode         json.RawMessage                       `json:"bytecode"`
	DeployedBytecode json.RawMessage                       `json:"deployedBytecode"`
	LinkReferences   map[string]map[string]json.RawMessage `json:"linkReferences"`
}

type forgeBytecode struct {
	Object         string                                `json:"object"`
	LinkReferences map[string]map[string]json.RawMessage `json:"linkReferences"`
}

// Parse 解析 hardhat 或 forge 格式的编译产物。
func Parse(name string, content []byte) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("解析合约 %s 的编译产物失败", name))
	}
	if len(raw.ABI) == 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "合约 %s 的编译产物缺少 abi", name)
	}
	parsedABI, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("解析合约 %s 的 ABI 失败", name))
	}

	bytecode, links, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("解析合约 %s 的字节码失败", name))
	}
	deployed, _, err := decodeBytecode(raw.DeployedBytecode)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("解析合约 %s 的运行时字节码失败", name))
	}
	if bytecode == "" {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "合约 %s 没有可部署的字节码", name)
	}
	if len(links) == 0 {
		links = raw.LinkReferences
	}

	artifactName := name
	if raw.ContractName != "" {
		artifactName = raw.ContractName
	}
	return &Artifact{
		Name:             artifactName,
		ABI:              parsedABI,
		Bytecode:         bytecode,
		DeployedBytecode: deployed,
		LinkReferences:   flattenLinks(links),
	}, nil
}

func decodeBytecode(raw json.RawMessage) (string, map[string]map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil, nil
	}
	if trimmed[0] == '"' {
		var code string
		if err := json.Unmarshal(trimmed, &code); err != nil {
			return "", nil, err
		}
		return normalizeHex(code), nil, nil
	}
	var forge forgeBytecode
	if err := json.Unmarshal(trimmed, &forge); err != nil {
		return "", nil, err
	}
	return normalizeHex(forge.Object), forge.LinkReferences, nil
}

func flattenLinks(links map[string]map[string]json.RawMessage) []string {
	var out []string
	for source, libs := range links {
		for lib := range libs {
			out = append(out, source+":"+lib)
		}
	}
	return out
}

func normalizeHex(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || code == "0x" {
		return ""
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	return code
}

// NeedsLinking 判断字节码中是否仍有库占位符。
func (a *Artifact) NeedsLinking() bool {
	return a != nil && placeholderPattern.MatchString(a.Bytecode)
}

// CreationCode 返回链接后的部署字节码。
func (a *Artifact) CreationCode(libraries map[string]common.Address) ([]byte, error) {
	linked, err := LinkArtifact(a, libraries)
	if err != nil {
		return nil, err
	}
	code, err := hexutil.Decode(linked)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("合约 %s 的字节码不是合法的十六进制", a.Name))
	}
	return code, nil
}

// RuntimeCode 返回运行时字节码，未提供时为 nil。
func (a *Artifact) RuntimeCode() ([]byte, error) {
	if a.DeployedBytecode == "" {
		return nil, nil
	}
	code, err := hexutil.Decode(a.DeployedBytecode)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("合约 %s 的运行时字节码不是合法的十六进制", a.Name))
	}
	return code, nil
}
