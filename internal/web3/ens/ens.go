// Package ens resolves Ethereum Name Service names to addresses by calling
// the ENS registry and the name's resolver contract.
package ens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"
)

// RegistryAddress is the ENS registry deployed on Ethereum mainnet.
var RegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const registryABI = `[{"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}]`

const resolverABI = `[{"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}]`

var (
	// ErrNoResolver is returned when the registry has no resolver for the name.
	ErrNoResolver = errors.New("ens: name has no resolver")
	// ErrNoAddress is returned when the resolver has no address record.
	ErrNoAddress = errors.New("ens: name has no address record")
	// ErrEmptyLabel is returned for names such as ".eth" or "a..eth".
	ErrEmptyLabel = errors.New("ens: name has an empty label")

	parsedRegistry = mustParse(registryABI)
	parsedResolver = mustParse(resolverABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// IsName reports whether value looks like an ENS name handled by Resolve.
func IsName(value string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(value)), ".eth")
}

// Validate rejects names with empty labels, which have no valid namehash.
func Validate(name string) error {
	for _, label := range strings.Split(Normalize(name), ".") {
		if label == "" {
			return fmt.Errorf("%w: %q", ErrEmptyLabel, name)
		}
	}
	return nil
}

// Normalize applies lower-casing and NFC normalisation. Full ENSIP-15
// validation is not attempted; names are expected to be plain ASCII or
// already normalised.
func Normalize(name string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(name)))
}

// NameHash implements the EIP-137 namehash algorithm.
func NameHash(name string) common.Hash {
	var node common.Hash
	name = Normalize(name)
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node
}

// Resolver looks up addresses through a mainnet contract caller.
type Resolver struct {
	caller   gethcore.ContractCaller
	registry common.Address
}

// NewResolver creates a resolver using the canonical registry.
func NewResolver(caller gethcore.ContractCaller) (*Resolver, error) {
	if caller == nil {
		return nil, errors.New("ens: contract caller is required")
	}
	return &Resolver{caller: caller, registry: RegistryAddress}, nil
}

// ResolveName returns the address record for name.
func (r *Resolver) ResolveName(ctx context.Context, name string) (common.Address, error) {
	if !IsName(name) {
		return common.Address{}, fmt.Errorf("ens: %q is not an ENS name", name)
	}
	if err := Validate(name); err != nil {
		return common.Address{}, err
	}
	node := NameHash(name)

	resolver, err := r.callAddress(ctx, r.registry, parsedRegistry, "resolver", node)
	if err != nil {
		return common.Address{}, err
	}
	if resolver == (common.Address{}) {
		return common.Address{}, ErrNoResolver
	}

	addr, err := r.callAddress(ctx, resolver, parsedResolver, "addr", node)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrNoAddress
	}
	return addr, nil
}

func (r *Resolver) callAddress(ctx context.Context, to common.Address, contract abi.ABI, method string, node common.Hash) (common.Address, error) {
	data, err := contract.Pack(method, node)
	if err != nil {
		return common.Address{}, fmt.Errorf("ens: pack %s: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("ens: call %s: %w", method, err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("ens: %s returned no data", method)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return common.Address{}, fmt.Errorf("ens: unpack %s: %w", method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ens: unexpected %s output %T", method, values[0])
	}
	return addr, nil
}
