package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/RosarioB/eliza-nft/internal/web3"
	"github.com/RosarioB/eliza-nft/internal/web3/ethereum"
)

// Chain couples a chain definition with its connected client.
type Chain struct {
	Name       string
	Definition web3.ChainDefinition
	Client     *ethereum.Client
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	chains map[string]Chain
}

// NewRegistry instantiates a client for every EVM chain definition.
func NewRegistry(ctx context.Context, defs web3.ChainDefinitions) (*Registry, error) {
	chains := make(map[string]Chain, len(defs.Chains))
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll(chains)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:    name,
			RPCURL:  def.RPCURL,
			ChainID: def.ChainID,
			Notes:   def.Description,
		})
		if err != nil {
			closeAll(chains)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		chains[name] = Chain{Name: name, Definition: def, Client: client}
	}
	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	return &Registry{chains: chains}, nil
}

// Chain returns the chain identified by name.
func (r *Registry) Chain(name string) (Chain, error) {
	if r == nil {
		return Chain{}, errors.New("未初始化的链客户端注册表")
	}
	chain, ok := r.chains[name]
	if !ok {
		return Chain{}, fmt.Errorf("链 %s 未在配置中找到", name)
	}
	return chain, nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.chains)
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(chains map[string]Chain) {
	for name, chain := range chains {
		if chain.Client != nil {
			chain.Client.Close()
		}
		delete(chains, name)
	}
}
