// Package mint 将收集完成的记录铸造为链上 NFT：
// 上传元数据、解析接收方、调用合约 safeMint。
package mint

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/ipfs"
	"github.com/RosarioB/eliza-nft/internal/nft"
	"github.com/RosarioB/eliza-nft/internal/web3"
	"github.com/RosarioB/eliza-nft/internal/web3/ens"
)

const (
	// DefaultContractAddress 是 Base Sepolia 上部署的 NFT 合约。
	DefaultContractAddress = "0xDe552b9Ef4028d1B5f06203Fa25c3D1Fc5945785"
	// DefaultChainID 是 Base Sepolia 的链 ID。
	DefaultChainID int64 = 84532
	// DefaultExplorerURL 是 Base Sepolia 的区块浏览器。
	DefaultExplorerURL = "https://sepolia.basescan.org"

	// SafeMintABI 对应 function safeMint(address to, string uri)。
	SafeMintABI = `[{"type":"function","name":"safeMint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[]}]`
	safeMintMethod = "safeMint"
)

// Uploader 将元数据上传到内容寻址存储并返回 CID。
type Uploader interface {
	UploadJSON(ctx context.Context, metadata nft.Metadata) (string, error)
}

// NameResolver 将 .eth 名称解析为地址。
type NameResolver interface {
	ResolveName(ctx context.Context, name string) (common.Address, error)
}

// Receipt 描述一次已提交的铸造交易。
type Receipt struct {
	TxHash    common.Hash
	TokenURI  string
	Recipient common.Address
	ChainID   int64
}

// Pipeline 串联上传、解析与合约调用。
type Pipeline struct {
	uploader Uploader
	resolver NameResolver
	writer   web3.ChainWriter
	signer   *web3.Signer
	contract common.Address
	chainID  *big.Int
	gasLimit uint64
}

// Option 定义 Pipeline 的可选配置。
type Option func(*Pipeline)

// WithContract 替换目标合约地址。
func WithContract(address common.Address) Option {
	return func(p *Pipeline) {
		if address != (common.Address{}) {
			p.contract = address
		}
	}
}

// WithChainID 替换目标链 ID。
func WithChainID(id int64) Option {
	return func(p *Pipeline) {
		if id > 0 {
			p.chainID = big.NewInt(id)
		}
	}
}

// WithGasLimit 固定交易 gas 上限，跳过估算。
func WithGasLimit(limit uint64) Option {
	return func(p *Pipeline) {
		p.gasLimit = limit
	}
}

// New 创建铸造流水线，resolver 为空时只接受十六进制地址。
func New(uploader Uploader, resolver NameResolver, writer web3.ChainWriter, signer *web3.Signer, opts ...Option) (*Pipeline, error) {
	if uploader == nil {
		return nil, errors.New("未配置元数据上传器")
	}
	if writer == nil {
		return nil, errors.New("未配置链写入客户端")
	}
	if signer == nil {
		return nil, errors.New("未配置签名私钥")
	}
	p := &Pipeline{
		uploader: uploader,
		resolver: resolver,
		writer:   writer,
		signer:   signer,
		contract: common.HexToAddress(DefaultContractAddress),
		chainID:  big.NewInt(DefaultChainID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// ChainID 返回铸造所在链的 ID。
func (p *Pipeline) ChainID() int64 {
	return p.chainID.Int64()
}

// Mint 对一条完整的收集记录执行铸造，任一步骤失败都会中止并返回对应错误码。
func (p *Pipeline) Mint(ctx context.Context, record nft.Record) (Receipt, error) {
	if !nft.IsComplete(record) {
		return Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "记录尚未收集完整")
	}

	cid, err := p.uploader.UploadJSON(ctx, record.Metadata())
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeUploadFailure, err, "上传 NFT 元数据失败")
	}
	uri := ipfs.URI(cid)

	recipient, err := ResolveRecipient(ctx, p.resolver, record.Recipient)
	if err != nil {
		return Receipt{}, err
	}

	hash, err := p.writer.WriteContract(ctx, web3.WriteRequest{
		Contract: p.contract,
		ABI:      SafeMintABI,
		Method:   safeMintMethod,
		Args:     []any{recipient, uri},
		ChainID:  p.chainID,
		Signer:   p.signer,
		GasLimit: p.gasLimit,
	})
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeMintFailure, err, "提交 safeMint 交易失败",
			xerrors.WithMetadata("recipient", recipient.Hex()),
			xerrors.WithMetadata("token_uri", uri))
	}
	return Receipt{TxHash: hash, TokenURI: uri, Recipient: recipient, ChainID: p.chainID.Int64()}, nil
}

// ResolveRecipient 将接收方转换为地址：.eth 名称走名称解析，其余必须是十六进制地址。
func ResolveRecipient(ctx context.Context, resolver NameResolver, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if ens.IsName(value) {
		if resolver == nil {
			return common.Address{}, xerrors.New(xerrors.CodeResolveFailure, "未配置 ENS 解析器", xerrors.WithMetadata("recipient", value))
		}
		if err := ens.Validate(value); err != nil {
			return common.Address{}, xerrors.Wrap(xerrors.CodeResolveFailure, err, "ENS 名称格式无效", xerrors.WithMetadata("recipient", value))
		}
		addr, err := resolver.ResolveName(ctx, value)
		if err != nil {
			return common.Address{}, xerrors.Wrap(xerrors.CodeResolveFailure, err, "解析 ENS 名称失败", xerrors.WithMetadata("recipient", value))
		}
		return addr, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeResolveFailure, "接收方不是有效的地址或 ENS 名称", xerrors.WithMetadata("recipient", value))
	}
	return common.HexToAddress(value), nil
}

// TxURL 拼接区块浏览器中的交易链接。
func TxURL(explorerBase, txHash string) string {
	return strings.TrimRight(explorerBase, "/") + "/tx/" + txHash
}
