package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChainSnapshot summarises node state for health checks.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// WriteRequest describes a state-changing contract call.
type WriteRequest struct {
	Contract common.Address
	ABI      string
	Method   string
	Args     []any
	ChainID  *big.Int
	Signer   *Signer
	// GasLimit skips estimation when non-zero.
	GasLimit uint64
}

// Validate reports missing fields.
func (r WriteRequest) Validate() error {
	switch {
	case r.Contract == (common.Address{}):
		return errors.New("contract address is required")
	case strings.TrimSpace(r.ABI) == "":
		return errors.New("contract ABI is required")
	case strings.TrimSpace(r.Method) == "":
		return errors.New("contract method is required")
	case r.ChainID == nil || r.ChainID.Sign() <= 0:
		return errors.New("chain id is required")
	case r.Signer == nil:
		return errors.New("signer is required")
	}
	return nil
}

// ChainWriter submits contract transactions and returns the transaction hash
// without waiting for inclusion.
type ChainWriter interface {
	WriteContract(ctx context.Context, req WriteRequest) (common.Hash, error)
}

// Signer holds the process-wide private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an existing key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewSignerFromHex parses a hex encoded secp256k1 key, with or without 0x.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSigner(key)
}

// Address returns the account controlled by the signer.
func (s *Signer) Address() common.Address {
	return s.address
}

// TransactOpts builds EIP-155 transact options bound to ctx.
func (s *Signer) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("signer is not initialised")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
