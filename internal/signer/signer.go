package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "contract-deployer/internal/errors"
)

// Signer is an account identity. It carries a private key when it can
// authorize transactions; address-only signers can still be named as
// admins or owners of deployed contracts.
type Signer struct {
	address common.Address
	key     *ecdsa.PrivateKey
	label   string
}

// New builds a keyed signer.
func New(key *ecdsa.PrivateKey, label string) *Signer {
	return &Signer{address: crypto.PubkeyToAddress(key.PublicKey), key: key, label: label}
}

// FromAddress builds an address-only signer.
func FromAddress(address common.Address, label string) *Signer {
	return &Signer{address: address, label: label}
}

// ParsePrivateKey parses a hex encoded secp256k1 key, with or without 0x.
func ParsePrivateKey(raw, label string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "私钥不能为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析私钥失败")
	}
	return New(key, label), nil
}

// Address returns the account address.
func (s *Signer) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.address
}

// Label returns the human readable origin of the signer.
func (s *Signer) Label() string {
	if s == nil {
		return ""
	}
	return s.label
}

// HasKey reports whether the signer can sign transactions.
func (s *Signer) HasKey() bool {
	return s != nil && s.key != nil
}

// TransactOpts returns fresh transaction options bound to chainID.
func (s *Signer) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	if !s.HasKey() {
		return nil, xerrors.Newf(xerrors.CodeSignerResolutionFailure, "账户 %s 没有可用的签名私钥", s.Address().Hex())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSignerResolutionFailure, err, "创建交易签名器失败")
	}
	return opts, nil
}

// String implements fmt.Stringer.
func (s *Signer) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.label == "" {
		return s.address.Hex()
	}
	return fmt.Sprintf("%s(%s)", s.label, s.address.Hex())
}
