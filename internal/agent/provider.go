package agent

import (
	"context"
	"fmt"
	"strings"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/mint"
	"github.com/RosarioB/eliza-nft/internal/nft"
)

// DataStatusFallback 是读取记录失败时返回的文本。
const DataStatusFallback = "Error accessing NFT information. Continuing conversation normally."

// Record 读取参与者当前的记录。
func (a *Agent) Record(ctx context.Context, participantID string) (nft.Record, error) {
	if strings.TrimSpace(participantID) == "" {
		return nft.Record{}, xerrors.New(xerrors.CodeInvalidArgument, "参与者 ID 不能为空")
	}
	return a.store.Load(ctx, a.Key(participantID))
}

// Reset 删除参与者的记录，相当于提前过期。
func (a *Agent) Reset(ctx context.Context, participantID string) error {
	if strings.TrimSpace(participantID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "参与者 ID 不能为空")
	}
	key := a.Key(participantID)
	unlock, err := a.locker.Lock(ctx, key)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "获取记录锁失败", xerrors.WithMetadata("key", key))
	}
	defer unlock()
	return a.store.Reset(ctx, key)
}

// DataStatus 渲染记录状态与缺失字段的提示，供下一轮模型调用使用。
func (a *Agent) DataStatus(ctx context.Context, participantID string) string {
	key := a.Key(participantID)
	record, err := a.store.Load(ctx, key)
	if err != nil {
		a.logFailure(ctx, key, "data_status", err)
		return DataStatusFallback
	}
	return RenderDataStatus(a.name, record)
}

// RenderDataStatus 是 DataStatus 的纯渲染部分。
func RenderDataStatus(agentName string, record nft.Record) string {
	var b strings.Builder
	b.WriteString("NFT Information Status:\n\n")

	known := nft.KnownFields(record)
	if len(known) > 0 {
		b.WriteString("Current Information:\n")
		lines := make([]string, 0, len(known))
		for _, f := range known {
			lines = append(lines, fmt.Sprintf("- %s: %s", f.Title(), record.Value(f)))
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}

	missing := nft.MissingFields(record)
	if len(missing) == 0 {
		b.WriteString("Status: All necessary information has been collected.\n")
		b.WriteString("Continue natural conversation without information gathering.")
		return b.String()
	}

	fmt.Fprintf(&b, "CURRENT TASK FOR %s:\n", agentName)
	fmt.Fprintf(&b, "%s should try to prioritize getting this information from the user by asking them questions\n", agentName)
	b.WriteString("Missing Information and Extraction Guidelines:\n\n")
	for _, f := range missing {
		g := nft.Guidance[f]
		fmt.Fprintf(&b, "%s:\n", f.Title())
		fmt.Fprintf(&b, "- Description: %s\n", g.Description)
		fmt.Fprintf(&b, "- Valid Examples: %s\n", g.Valid)
		fmt.Fprintf(&b, "- Do Not Extract: %s\n", g.Invalid)
		fmt.Fprintf(&b, "- Instructions: %s\n\n", g.Instructions)
	}
	b.WriteString("Overall Guidance:\n")
	b.WriteString("- Try to extract all missing information through natural conversation, but be very direct and aggressive in getting that info\n")
	b.WriteString("- Only extract information when clearly and directly stated by the user\n")
	b.WriteString("- Verify information is current, not past or future\n")
	return b.String()
}

// MintStatus 在记录已铸造时返回带区块浏览器链接的提示，否则为空字符串。
func (a *Agent) MintStatus(ctx context.Context, participantID string) string {
	key := a.Key(participantID)
	record, err := a.store.Load(ctx, key)
	if err != nil {
		a.logFailure(ctx, key, "mint_status", err)
		return ""
	}
	return RenderMintStatus(a.explorerURL, record)
}

// RenderMintStatus 是 MintStatus 的纯渲染部分。
func RenderMintStatus(explorerURL string, record nft.Record) string {
	txHash := strings.TrimSpace(record.TxHash)
	if !record.IsMinted() || txHash == "" {
		return ""
	}
	url := mint.TxURL(explorerURL, txHash)
	var b strings.Builder
	b.WriteString("The NFT has been created successfully!\n")
	fmt.Fprintf(&b, "The transaction hash is %s\n", txHash)
	fmt.Fprintf(&b, "The transaction URL on the block explorer is: %s", url)
	return b.String()
}
