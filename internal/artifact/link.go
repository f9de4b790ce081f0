package artifact

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "contract-deployer/internal/errors"
)

var placeholderPattern = regexp.MustCompile(`__\$[0-9a-fA-F]{34}\$__`)

// Placeholder 返回库全限定名（contracts/Lib.sol:Lib）对应的 40 字符占位符。
func Placeholder(fqName string) string {
	hash := crypto.Keccak256Hash([]byte(fqName)).Hex()
	return "__$" + hash[2:36] + "$__"
}

// Link 将字节码中的库占位符替换为地址，libraries 以全限定名为键。
// 替换后仍有占位符时返回 INVALID_ARGUMENT。
func Link(bytecode string, libraries map[string]common.Address) (string, error) {
	for fq, address := range libraries {
		bytecode = strings.ReplaceAll(bytecode, Placeholder(fq), strings.ToLower(address.Hex()[2:]))
	}
	if remaining := placeholderPattern.FindString(bytecode); remaining != "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "字节码中仍存在未链接的库", xerrors.WithMetadata("placeholder", remaining))
	}
	return bytecode, nil
}

// LinkArtifact 与 Link 相同，但允许仅以库名作为键，按 LinkReferences 展开为全限定名。
func LinkArtifact(a *Artifact, libraries map[string]common.Address) (string, error) {
	resolved := make(map[string]common.Address, len(libraries))
	for name, address := range libraries {
		if strings.Contains(name, ":") {
			resolved[name] = address
			continue
		}
		for _, fq := range a.LinkReferences {
			if strings.HasSuffix(fq, ":"+name) {
				resolved[fq] = address
			}
		}
	}
	return Link(a.Bytecode, resolved)
}
