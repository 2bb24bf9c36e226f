package provider

import (
	"context"
	"testing"

	"github.com/RosarioB/eliza-nft/internal/web3"
)

func TestNewRegistryBuildsNamedChains(t *testing.T) {
	defs := web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{
		"base-sepolia": {RPCURL: "http://127.0.0.1:8545", ChainID: 84532, ExplorerURL: "https://sepolia.basescan.org"},
		"mainnet":      {Type: "EVM", RPCURL: "http://127.0.0.1:8546", ChainID: 1},
	}}

	registry, err := NewRegistry(context.Background(), defs)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	names := registry.Chains()
	if len(names) != 2 || names[0] != "base-sepolia" || names[1] != "mainnet" {
		t.Fatalf("unexpected chains: %v", names)
	}
	chain, err := registry.Chain("base-sepolia")
	if err != nil {
		t.Fatalf("chain lookup: %v", err)
	}
	if chain.Definition.ExplorerURL != "https://sepolia.basescan.org" || chain.Client.Name() != "base-sepolia" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
	if _, err := registry.Chain("polygon"); err == nil {
		t.Fatalf("expected error for unknown chain")
	}
}

func TestNewRegistryErrors(t *testing.T) {
	if _, err := NewRegistry(context.Background(), web3.ChainDefinitions{}); err == nil {
		t.Fatalf("expected error for empty definitions")
	}
	defs := web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{
		"solana": {Type: "svm", RPCURL: "http://127.0.0.1:8899"},
	}}
	if _, err := NewRegistry(context.Background(), defs); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	defs = web3.ChainDefinitions{Chains: map[string]web3.ChainDefinition{"broken": {}}}
	if _, err := NewRegistry(context.Background(), defs); err == nil {
		t.Fatalf("expected error for missing rpc url")
	}
}
