package signer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"

	xerrors "contract-deployer/internal/errors"
)

// Provider returns the ordered list of available signers. Index 0 is the
// default signer.
type Provider interface {
	Signers(ctx context.Context) ([]*Signer, error)
}

// StaticProvider serves a fixed signer list.
type StaticProvider struct {
	signers []*Signer
}

// NewStaticProvider builds a provider from already loaded signers.
func NewStaticProvider(signers ...*Signer) *StaticProvider {
	list := make([]*Signer, 0, len(signers))
	for _, s := range signers {
		if s != nil {
			list = append(list, s)
		}
	}
	return &StaticProvider{signers: list}
}

// Signers implements Provider.
func (p *StaticProvider) Signers(context.Context) ([]*Signer, error) {
	if p == nil {
		return nil, nil
	}
	out := make([]*Signer, len(p.signers))
	copy(out, p.signers)
	return out, nil
}

// FromPrivateKeys parses a list of hex private keys, skipping blanks.
func FromPrivateKeys(keys []string) ([]*Signer, error) {
	signers := make([]*Signer, 0, len(keys))
	for i, raw := range keys {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		s, err := ParsePrivateKey(raw, fmt.Sprintf("key#%d", i))
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}
	return signers, nil
}

// FromKeystoreDir decrypts every V3 keystore file in dir with passphrase.
// Files are loaded in name order.
func FromKeystoreDir(dir, passphrase string) ([]*Signer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取 keystore 目录失败")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	signers := make([]*Signer, 0, len(names))
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取 keystore 文件失败")
		}
		key, err := keystore.DecryptKey(content, passphrase)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSignerResolutionFailure, err, fmt.Sprintf("解密 keystore 文件 %s 失败", name))
		}
		signers = append(signers, New(key.PrivateKey, name))
	}
	return signers, nil
}

// Default returns the first signer of p.
func Default(ctx context.Context, p Provider) (*Signer, error) {
	if p == nil {
		return nil, xerrors.New(xerrors.CodeSignerResolutionFailure, "未配置签名账户来源")
	}
	signers, err := p.Signers(ctx)
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 || signers[0] == nil {
		return nil, xerrors.New(xerrors.CodeSignerResolutionFailure, "没有可用的默认签名账户")
	}
	return signers[0], nil
}

// Lookup finds the signer controlling address.
func Lookup(ctx context.Context, p Provider, address common.Address) (*Signer, error) {
	if p == nil {
		return nil, xerrors.New(xerrors.CodeSignerResolutionFailure, "未配置签名账户来源")
	}
	signers, err := p.Signers(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range signers {
		if s != nil && s.Address() == address {
			return s, nil
		}
	}
	return nil, xerrors.Newf(xerrors.CodeSignerResolutionFailure, "未找到账户 %s 的签名私钥", address.Hex())
}
