package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/RosarioB/eliza-nft/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// Backend is the subset of go-ethereum client methods the Client relies on.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	bind.ContractBackend
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
}

// Client implements web3.ChainWriter for EVM compatible chains.
type Client struct {
	name    string
	notes   string
	eth     *ethclient.Client
	backend Backend

	mu      sync.Mutex
	chainID *big.Int
	abis    map[string]abi.ABI
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client := NewBackendClient(cfg.Name, eth)
	client.eth = eth
	client.notes = cfg.Notes
	if cfg.ChainID > 0 {
		client.chainID = big.NewInt(cfg.ChainID)
	}
	return client, nil
}

// NewBackendClient wraps an existing backend, such as the simulated backend
// used in tests.
func NewBackendClient(name string, backend Backend) *Client {
	return &Client{
		name:    name,
		backend: backend,
		abis:    make(map[string]abi.ABI),
	}
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// Caller exposes read-only contract calls, used for ENS lookups.
func (c *Client) Caller() gethcore.ContractCaller {
	return c.backend
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

// ChainID returns the network id, querying the node once.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	if c.chainID != nil {
		id := new(big.Int).Set(c.chainID)
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// WriteContract signs and broadcasts a contract transaction. It returns as
// soon as the node accepts the transaction.
func (c *Client) WriteContract(ctx context.Context, req web3.WriteRequest) (common.Hash, error) {
	if c == nil || c.backend == nil {
		return common.Hash{}, errors.New("未初始化的以太坊客户端")
	}
	if err := req.Validate(); err != nil {
		return common.Hash{}, err
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if chainID.Cmp(req.ChainID) != 0 {
		return common.Hash{}, fmt.Errorf("链 %s 的 ID 为 %s，与请求的 %s 不一致", c.name, chainID, req.ChainID)
	}

	parsed, err := c.parseABI(req.ABI)
	if err != nil {
		return common.Hash{}, err
	}
	if _, ok := parsed.Methods[req.Method]; !ok {
		return common.Hash{}, fmt.Errorf("ABI 中不存在方法 %s", req.Method)
	}

	opts, err := req.Signer.TransactOpts(ctx, req.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	opts.GasLimit = req.GasLimit

	contract := bind.NewBoundContract(req.Contract, parsed, c.backend, c.backend, c.backend)
	tx, err := contract.Transact(opts, req.Method, req.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("发送 %s 交易失败: %w", req.Method, err)
	}
	return tx.Hash(), nil
}

func (c *Client) parseABI(definition string) (abi.ABI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.abis[definition]; ok {
		return parsed, nil
	}
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	c.abis[definition] = parsed
	return parsed, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.ChainWriter = (*Client)(nil)
